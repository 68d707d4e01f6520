package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldchat/internal/citation"
)

func newTranscriptCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "transcript [conversation-id]",
		Short: "Show journaled conversations",
		Long:  "Without arguments, lists every conversation in the local journal. With a conversation id, prints its messages in order.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscript(cmd, configPath, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Fieldchat config file")
	return cmd
}

func runTranscript(cmd *cobra.Command, configPath string, args []string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if !cfg.Journal.Enabled() {
		return fmt.Errorf("journal is disabled; set journal.driver in %s", configPath)
	}
	journal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if len(args) == 0 {
		convs, err := journal.Conversations(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Fprintln(out, "No conversations recorded.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONVERSATION\tMESSAGES")
		for _, c := range convs {
			fmt.Fprintf(w, "%s\t%d\n", c.ConversationID, c.Messages)
		}
		return w.Flush()
	}

	msgs, err := journal.Transcript(ctx, args[0])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(out, "No messages recorded for conversation %s.\n", args[0])
		return nil
	}
	for _, m := range msgs {
		printMessage(out, m, citation.Markdown)
	}
	return nil
}
