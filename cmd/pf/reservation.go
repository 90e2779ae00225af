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
	"projectflow/internal/store"
)

func reservationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reservation", Aliases: []string{"res"}, Short: "Reserve projects and review reservations"}
	cmd.AddCommand(reservationCreateCmd())
	cmd.AddCommand(reservationListCmd())
	cmd.AddCommand(reservationShowCmd())
	cmd.AddCommand(reservationDecideCmd())
	return cmd
}

func reservationCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <project-id>",
		Short: "Reserve a project for the acting student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			student, err := actorID()
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				payload := outbox.Reserve{ProjectID: args[0], StudentID: student}
				return runOrQueue(ctx, w, outbox.KindReserve, payload, func() (any, error) {
					return w.Engine.ReserveProject(ctx, args[0], student)
				})
			})
		},
	}
}

func reservationListCmd() *cobra.Command {
	var f store.ReservationFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.ReservationStatus(status)
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				items, err := w.Engine.ListReservations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, r := range items {
					rows = append(rows, table.Row{r.ID, r.ProjectID, r.StudentID, deref(r.SupervisorID), r.Status, r.ReservedAt})
				}
				renderTable(table.Row{"ID", "Project", "Student", "Supervisor", "Status", "Reserved"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.StudentID, "student", "", "student filter")
	cmd.Flags().StringVar(&f.SupervisorID, "supervisor", "", "supervisor filter")
	cmd.Flags().StringVar(&status, "status", "", "pending, approved or rejected")
	return cmd
}

func reservationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				r, err := w.Engine.GetReservation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func reservationDecideCmd() *cobra.Command {
	var decision, feedback string
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Approve, reject or revoke a reservation",
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
				return runOrQueue(ctx, w, outbox.KindDecideReservation, payload, func() (any, error) {
					return w.Engine.DecideReservation(ctx, args[0], actor, d, feedback)
				})
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approve, reject or revoke")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback for the student")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}
