package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"projectflow/internal/app"
	"projectflow/internal/db"
	"projectflow/internal/logger"
	"projectflow/internal/outbox"
)

var rootCmd = &cobra.Command{
	Use:   "pf",
	Short: "Projectflow CLI",
	Long: `Projectflow runs the project lifecycle and reservation workflow.
- Actors: directory of users with one role each (student, employer, supervisor, lecturer, project_manager, admin).
- Projects: move not_submitted -> pending -> approved | rejected; a rejected project can be submitted again.
- Reservations: a student's claim on a project; pending -> approved | rejected, approved can be revoked.
- Tasks and timeline: the work plan of a project; overdue is derived from the due date.
- Outbox: commands that hit a store outage are queued and replayed with 'pf outbox drain'.
- Event log: audit trail of every transition, view with 'pf log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := app.LoadEnv(workspace); err != nil {
			return err
		}
		if level := viper.GetString("log-level"); level != "" {
			logger.Init(level)
		}
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROJECTFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides logging.level)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(reservationCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	w, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer w.Close()
	if viper.GetString("log-level") == "" {
		logger.Init(w.Config.Logging.Level)
	}
	return fn(ctx, w)
}

func actorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return "", errors.New("--actor-id (or PROJECTFLOW_ACTOR_ID) required")
	}
	return id, nil
}

// runOrQueue runs fn and prints its result. When the store is unreachable
// the command is written to the outbox instead of failing.
func runOrQueue(ctx context.Context, w *app.Workspace, kind outbox.Kind, payload any, fn func() (any, error)) error {
	v, err := fn()
	if err == nil {
		return printJSONOrTable(v)
	}
	o, oerr := w.OpenOutbox()
	if oerr != nil {
		logger.Warn().Err(oerr).Msg("outbox unavailable")
		return err
	}
	defer o.Close()
	c, queued, err := app.Deferred(ctx, o, err, kind, payload)
	if err != nil {
		return err
	}
	if queued {
		fmt.Fprintf(os.Stderr, "store unavailable; queued %s command %s for replay\n", c.Kind, c.ID)
	}
	return nil
}

func renderTable(header table.Row, rows []table.Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	for _, row := range rows {
		tw.AppendRow(row)
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
