package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldchat/internal/models"
	"github.com/zulandar/fieldchat/internal/workorder"
)

func newWorkOrdersCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:     "workorders",
		Aliases: []string{"wo"},
		Short:   "List work orders and mark them done",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Fieldchat config file")

	var view string
	list := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkOrders(cmd, configPath, func(ctx context.Context, s *workorder.Store) error {
				var orders []models.WorkOrder
				switch view {
				case "open":
					orders = s.Open()
				case "archived":
					orders = s.Archived()
				case "all":
					orders = s.List()
				default:
					return fmt.Errorf("unknown view %q (want open, archived or all)", view)
				}
				printWorkOrders(cmd.OutOrStdout(), orders)
				return nil
			})
		},
	}
	list.Flags().StringVar(&view, "view", "all", "which work orders to show: open, archived or all")

	done := &cobra.Command{
		Use:   "done <order-id>",
		Short: "Mark a work order completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkOrders(cmd, configPath, func(ctx context.Context, s *workorder.Store) error {
				if err := s.MarkDone(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Work order %s marked %s\n", args[0], models.StatusCompleted)
				return nil
			})
		},
	}

	undone := &cobra.Command{
		Use:   "undone <order-id>",
		Short: "Mark a work order not completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkOrders(cmd, configPath, func(ctx context.Context, s *workorder.Store) error {
				if err := s.MarkNotDone(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Work order %s marked %s\n", args[0], models.StatusNotCompleted)
				return nil
			})
		},
	}

	cmd.AddCommand(list, done, undone)
	return cmd
}

func runWorkOrders(cmd *cobra.Command, configPath string, fn func(context.Context, *workorder.Store) error) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := newAPIClient(cfg, logger)
	if err != nil {
		return err
	}
	store, err := workorder.NewStore(workorder.StoreOpts{Backend: client, Logger: logger})
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()
	if err := store.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, store)
}

func printWorkOrders(out io.Writer, orders []models.WorkOrder) {
	if len(orders) == 0 {
		fmt.Fprintln(out, "No work orders found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tMACHINE\tTASK\tSTATUS\tCONVERSATION")
	for _, o := range orders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.OrderID, o.MachineName, o.TaskName, o.Resolved, o.ConversationID)
	}
	w.Flush()
}
