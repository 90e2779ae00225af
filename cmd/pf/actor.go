package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectflow/internal/app"
	"projectflow/internal/config"
	"projectflow/internal/domain"
)

func initCmd() *cobra.Command {
	var admin, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create projectflow.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			} else if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				if admin == "" {
					return nil
				}
				a, err := w.Engine.Bootstrap(ctx, admin, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "bootstrap this user as the first admin")
	cmd.Flags().StringVar(&name, "name", "", "display name of the admin")
	return cmd
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Manage the actor directory"}
	cmd.AddCommand(actorRegisterCmd())
	cmd.AddCommand(actorListCmd())
	cmd.AddCommand(actorShowCmd())
	return cmd
}

func actorRegisterCmd() *cobra.Command {
	var role, name string
	cmd := &cobra.Command{
		Use:   "register <id>",
		Short: "Register or update an actor (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := actorID()
			if err != nil {
				return err
			}
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				a, err := w.Engine.RegisterActor(ctx, admin, domain.Actor{ID: args[0], Role: r, DisplayName: name})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "student, employer, supervisor, lecturer, project_manager or admin")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				actors, err := w.Engine.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				rows := make([]table.Row, 0, len(actors))
				for _, a := range actors {
					rows = append(rows, table.Row{a.ID, a.Role, a.DisplayName, a.CreatedAt})
				}
				renderTable(table.Row{"ID", "Role", "Name", "Created"}, rows)
				return nil
			})
		},
	}
}

func actorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				a, err := w.Engine.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}
