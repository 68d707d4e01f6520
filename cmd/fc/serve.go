package main

import (
	"github.com/spf13/cobra"
	"github.com/zulandar/fieldchat/internal/dashboard"
	"github.com/zulandar/fieldchat/internal/session"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a chat session behind the local web dashboard",
		Long:  "Opens the chat session and serves it over a local HTTP API with an SSE event stream.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Fieldchat config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	opts := session.Opts{Config: cfg, Logger: logger}
	dopts := dashboard.StartOpts{Port: cfg.Dashboard.Port, Out: cmd.OutOrStdout(), Logger: logger}
	if journal != nil {
		opts.Recorder = journal
		dopts.Journal = journal
	}
	if port > 0 {
		dopts.Port = port
	}

	s, err := session.New(opts)
	if err != nil {
		return err
	}
	dopts.Session = s

	ctx, cancel := signalContext(cmd)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(ctx) })
	g.Go(func() error { return dashboard.Start(ctx, dopts) })
	return g.Wait()
}
