// Package app wires a workspace: config, database, migrations, store,
// notifiers and the engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"projectflow/internal/config"
	"projectflow/internal/db"
	"projectflow/internal/engine"
	"projectflow/internal/logger"
	"projectflow/internal/metrics"
	"projectflow/internal/migrate"
	"projectflow/internal/notify"
	"projectflow/internal/outbox"
	"projectflow/internal/repo"
)

type Options struct {
	Workspace string
	// Config overrides projectflow.yml when set.
	Config *config.Config
	// Notifier replaces the configured notifier chain.
	Notifier notify.Notifier
	// Registry receives the collectors; a fresh registry is used when nil.
	Registry *prometheus.Registry
}

// Workspace is an opened projectflow workspace.
type Workspace struct {
	Dir      string
	Config   *config.Config
	DB       *sql.DB
	Dialect  db.Dialect
	Repo     repo.Repo
	Engine   engine.Engine
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	async *notify.Async
}

// LoadEnv reads <workspace>/.env into the process environment without
// overriding variables that are already set.
func LoadEnv(workspace string) error {
	if workspace == "" {
		workspace = "."
	}
	err := godotenv.Load(filepath.Join(workspace, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Open loads config, opens and migrates the database and builds the engine.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	dir := opts.Workspace
	if dir == "" {
		dir = "."
	}
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(dir); err != nil {
			return nil, err
		}
	}
	conn, dialect, err := db.Open(db.Config{Workspace: dir, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, err
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)
	w := &Workspace{
		Dir:      dir,
		Config:   cfg,
		DB:       conn,
		Dialect:  dialect,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Metrics:  m,
		Registry: reg,
	}
	next := opts.Notifier
	if next == nil {
		if next, err = BuildNotifier(ctx, cfg); err != nil {
			conn.Close()
			return nil, err
		}
	}
	w.async = &notify.Async{
		Next:    next,
		Timeout: cfg.Notifications.Timeout,
		OnError: func(userID string, err error) {
			m.NotifyFailed()
			logger.Warn().Err(err).Str("recipient", userID).Msg("notification delivery failed")
		},
	}
	e := engine.New(w.Repo, cfg)
	e.Notifier = w.async
	e.Metrics = m
	w.Engine = e
	return w, nil
}

// BuildNotifier assembles the configured transports into one fan-out.
func BuildNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	var chain notify.Multi
	n := cfg.Notifications
	if n.Log {
		chain = append(chain, notify.Log{})
	}
	for _, wh := range n.Webhooks {
		chain = append(chain, notify.Webhook{URL: wh.URL, Secret: wh.Secret, Client: &http.Client{Timeout: n.Timeout}})
	}
	if n.SNS.TopicARN != "" {
		s, err := notify.NewSNS(ctx, n.SNS.TopicARN, n.SNS.Region)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	if len(chain) == 0 {
		return notify.Nop{}, nil
	}
	return chain, nil
}

// OpenOutbox opens the workspace's outbox file.
func (w *Workspace) OpenOutbox() (*outbox.Outbox, error) {
	o, err := outbox.Open(w.Config.OutboxPath(w.Dir), w.Config.Outbox.MaxAttempts)
	if err != nil {
		return nil, err
	}
	o.Metrics = w.Metrics
	return o, nil
}

// Close waits for in-flight notifications and closes the database.
func (w *Workspace) Close() error {
	if w.async != nil {
		w.async.Wait()
	}
	return w.DB.Close()
}
