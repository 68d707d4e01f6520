package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldchat/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Journal database commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the journal tables",
		Long:  "Connects to the journal database named in the config and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Fieldchat config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if !cfg.Journal.Enabled() {
		return fmt.Errorf("journal is disabled; set journal.driver in %s", configPath)
	}

	gormDB, err := db.Connect(cfg.Journal)
	if err != nil {
		return fmt.Errorf("connect to journal: %w", err)
	}
	fmt.Fprintf(out, "Connected to %s journal\n", cfg.Journal.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}
