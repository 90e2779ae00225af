package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectflow/internal/app"
	"projectflow/internal/domain"
	"projectflow/internal/engine"
	"projectflow/internal/outbox"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage project tasks"}
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskStatusCmd())
	cmd.AddCommand(taskListCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	m := engine.TaskMutation{Op: engine.OpAdd}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			m.ActorID = actor
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				return runOrQueue(ctx, w, outbox.KindTask, m, func() (any, error) {
					return w.Engine.MutateTask(ctx, m)
				})
			})
		},
	}
	cmd.Flags().StringVar(&m.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&m.Title, "title", "", "title")
	cmd.Flags().StringVar(&m.AssigneeID, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&m.DueDate, "due", "", "due date (YYYY-MM-DD or RFC3339)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <pending|in_progress|completed>",
		Short: "Move a task to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			m := engine.TaskMutation{Op: engine.OpSetStatus, TaskID: args[0], ActorID: actor, Status: domain.TaskStatus(args[1])}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				return runOrQueue(ctx, w, outbox.KindTask, m, func() (any, error) {
					return w.Engine.MutateTask(ctx, m)
				})
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with their effective status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				tasks, err := w.Engine.ListTasks(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				rows := make([]table.Row, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, table.Row{t.ID, t.Title, t.EffectiveStatus, deref(t.AssigneeID), deref(t.DueDate)})
				}
				renderTable(table.Row{"ID", "Title", "Status", "Assignee", "Due"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func timelineCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "timeline", Short: "Manage project timelines"}
	cmd.AddCommand(timelineAddCmd())
	cmd.AddCommand(timelineCompleteCmd())
	cmd.AddCommand(timelineListCmd())
	return cmd
}

func timelineAddCmd() *cobra.Command {
	m := engine.TimelineMutation{Op: engine.OpAdd}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a timeline entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			m.ActorID = actor
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				return runOrQueue(ctx, w, outbox.KindTimeline, m, func() (any, error) {
					return w.Engine.MutateTimelineEvent(ctx, m)
				})
			})
		},
	}
	cmd.Flags().StringVar(&m.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&m.Date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&m.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func timelineCompleteCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "complete <entry-id>",
		Short: "Mark a timeline entry completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			m := engine.TimelineMutation{Op: engine.OpSetCompleted, EventID: args[0], ActorID: actor, Completed: !undo}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				return runOrQueue(ctx, w, outbox.KindTimeline, m, func() (any, error) {
					return w.Engine.MutateTimelineEvent(ctx, m)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "clear the completed flag")
	return cmd
}

func timelineListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List timeline entries by date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListTimeline(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, ev := range items {
					rows = append(rows, table.Row{ev.ID, ev.Date, ev.Description, ev.Completed})
				}
				renderTable(table.Row{"ID", "Date", "Description", "Completed"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
