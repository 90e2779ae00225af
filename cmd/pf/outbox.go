package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectflow/internal/app"
	"projectflow/internal/domain"
	"projectflow/internal/logger"
	"projectflow/internal/outbox"
)

const drainTimeout = time.Minute

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "outbox", Short: "Inspect and replay commands queued during store outages"}
	cmd.AddCommand(outboxListCmd(false))
	cmd.AddCommand(outboxListCmd(true))
	cmd.AddCommand(outboxDrainCmd())
	cmd.AddCommand(outboxWatchCmd())
	cmd.AddCommand(outboxDiscardCmd())
	return cmd
}

func withOutbox(ctx context.Context, fn func(context.Context, *app.Workspace, *outbox.Outbox) error) error {
	return withWorkspace(ctx, func(ctx context.Context, w *app.Workspace) error {
		o, err := w.OpenOutbox()
		if err != nil {
			return err
		}
		defer o.Close()
		return fn(ctx, w, o)
	})
}

func outboxListCmd(dead bool) *cobra.Command {
	use, short := "list", "List pending commands, oldest first"
	if dead {
		use, short = "dead", "List dead-lettered commands"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(cmd.Context(), func(ctx context.Context, _ *app.Workspace, o *outbox.Outbox) error {
				list := o.Pending
				if dead {
					list = o.DeadLetters
				}
				commands, err := list(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(commands)
				}
				rows := make([]table.Row, 0, len(commands))
				for _, c := range commands {
					rows = append(rows, table.Row{c.ID, c.Kind, c.Attempts, c.LastError, c.CreatedAt})
				}
				renderTable(table.Row{"ID", "Kind", "Attempts", "Last error", "Queued"}, rows)
				return nil
			})
		},
	}
}

func outboxDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued commands once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(cmd.Context(), func(ctx context.Context, w *app.Workspace, o *outbox.Outbox) error {
				rep, err := o.Drain(ctx, app.Replayer{Engine: w.Engine})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("replayed %d, dead-lettered %d, deferred %d, remaining %d\n",
					rep.Replayed, rep.DeadLettered, rep.Deferred, rep.Remaining)
				return nil
			})
		},
	}
}

func outboxWatchCmd() *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replay queued commands on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(cmd.Context(), func(ctx context.Context, w *app.Workspace, o *outbox.Outbox) error {
				if schedule == "" {
					schedule = w.Config.Outbox.Schedule
				}
				s, err := outbox.NewScheduler(o, app.Replayer{Engine: w.Engine}, schedule, drainTimeout)
				if err != nil {
					return err
				}
				s.Start()
				logger.Info().Str("schedule", schedule).Msg("watching outbox")
				<-ctx.Done()
				s.Stop()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron spec (defaults to outbox.schedule)")
	return cmd
}

func outboxDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <command-id>",
		Short: "Drop a queued or dead-lettered command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOutbox(cmd.Context(), func(ctx context.Context, _ *app.Workspace, o *outbox.Outbox) error {
				if err := o.Discard(ctx, args[0]); err != nil {
					if domain.KindOf(err) == domain.KindNotFound {
						return fmt.Errorf("no outbox command %s", args[0])
					}
					return err
				}
				fmt.Println("discarded", args[0])
				return nil
			})
		},
	}
}
