package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectflow/internal/app"
	"projectflow/internal/domain"
	"projectflow/internal/engine"
	"projectflow/internal/outbox"
	"projectflow/internal/store"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectSubmitCmd())
	prj.AddCommand(projectDecideCmd())
	prj.AddCommand(projectAssignSupervisorCmd())
	prj.AddCommand(projectArchiveCmd())
	prj.AddCommand(projectSummaryCmd())
	prj.AddCommand(projectHistoryCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var in engine.NewProject
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project owned by the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := actorID()
			if err != nil {
				return err
			}
			in.OwnerID = owner
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				p, err := w.Engine.CreateProject(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.SupervisorID, "supervisor", "", "supervisor id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f store.ProjectFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.ProjectStatus(status)
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				projects, err := w.Engine.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				rows := make([]table.Row, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, table.Row{p.ID, p.Title, p.Status, p.OwnerID, deref(p.SupervisorID), p.Archived})
				}
				renderTable(table.Row{"ID", "Title", "Status", "Owner", "Supervisor", "Archived"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.SupervisorID, "supervisor", "", "supervisor filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "archived", false, "include archived projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				p, err := w.Engine.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectSubmitCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a project for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				payload := outbox.Submit{ProjectID: args[0], ActorID: actor, Note: note}
				return runOrQueue(ctx, w, outbox.KindSubmit, payload, func() (any, error) {
					return w.Engine.SubmitProject(ctx, args[0], actor, note)
				})
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "submission note")
	return cmd
}

func projectDecideCmd() *cobra.Command {
	var decision, feedback string
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Approve or reject a submitted project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			d, err := engine.ParseDecision(decision)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				payload := outbox.Decision{TargetID: args[0], ActorID: actor, Decision: string(d), Feedback: feedback}
				return runOrQueue(ctx, w, outbox.KindDecideProject, payload, func() (any, error) {
					return w.Engine.DecideProject(ctx, args[0], actor, d, feedback)
				})
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approve or reject")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback for the owner")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func projectAssignSupervisorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign-supervisor <id> <supervisor-id>",
		Short: "Assign the supervisor of a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				p, err := w.Engine.AssignSupervisor(ctx, args[0], actor, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a project (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				p, err := w.Engine.ArchiveProject(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <id>",
		Short: "Show task, reservation and timeline counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s, err := w.Engine.ProjectSummary(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderTable(table.Row{"Project", "Status", "Assignee", "Pending", "In progress", "Completed", "Overdue", "Timeline"},
					[]table.Row{{
						s.ProjectID, s.Status, deref(s.AssigneeID),
						s.TaskCounts[domain.TaskPending], s.TaskCounts[domain.TaskInProgress],
						s.TaskCounts[domain.TaskCompleted], s.TaskCounts[domain.TaskOverdue],
						fmt.Sprintf("%d/%d", s.TimelineCompleted, s.TimelineTotal),
					}})
				return nil
			})
		},
	}
}

func projectHistoryCmd() *cobra.Command {
	var before int64
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the audit trail of a project, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				events, err := w.Engine.ProjectHistory(ctx, args[0], before, limit)
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
	cmd.Flags().Int64Var(&before, "before", 0, "only events older than this id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events")
	return cmd
}
