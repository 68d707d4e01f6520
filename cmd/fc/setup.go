package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldchat/internal/api"
	"github.com/zulandar/fieldchat/internal/auth"
	"github.com/zulandar/fieldchat/internal/config"
	"github.com/zulandar/fieldchat/internal/db"
	"github.com/zulandar/fieldchat/internal/logging"
	"go.uber.org/zap"
)

// loadConfig reads the config file and builds the logger it describes.
func loadConfig(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// openJournal connects and migrates the transcript journal. It returns nil
// when the journal is disabled.
func openJournal(cfg *config.Config) (*db.Journal, error) {
	if !cfg.Journal.Enabled() {
		return nil, nil
	}
	gormDB, err := db.Connect(cfg.Journal)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return db.NewJournal(gormDB)
}

func newAPIClient(cfg *config.Config, logger *zap.Logger) (*api.Client, error) {
	return api.New(api.ClientOpts{
		Config: cfg.API,
		Auth:   auth.New(cfg.Auth),
		Logger: logger,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.ErrOrStderr(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
