package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectflow/internal/app"
	"projectflow/internal/domain"
	"projectflow/internal/store"
)

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the audit log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var after int64
	var f store.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events, or events after a cursor oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Limit = n
			f.After = after
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				events, err := w.Engine.EventsAfter(ctx, f)
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&after, "after", 0, "only events newer than this id, oldest first")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func printEvents(events []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(events)
	}
	rows := make([]table.Row, 0, len(events))
	for _, e := range events {
		rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID, e.Payload})
	}
	renderTable(table.Row{"ID", "Time", "Type", "Entity", "Entity ID", "Actor", "Payload"}, rows)
	return nil
}
