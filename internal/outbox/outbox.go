// Package outbox is the caller-side queue for workflow commands that could not
// reach the store. Commands are kept in their own SQLite file so they survive
// an outage of the main database.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"projectflow/internal/db"
	"projectflow/internal/domain"
	"projectflow/internal/logger"
	"projectflow/internal/metrics"
)

type Kind string

const (
	KindReserve           Kind = "reserve"
	KindDecideReservation Kind = "decide_reservation"
	KindSubmit            Kind = "submit"
	KindDecideProject     Kind = "decide_project"
	KindTask              Kind = "task"
	KindTimeline          Kind = "timeline"
)

func (k Kind) Valid() bool {
	switch k {
	case KindReserve, KindDecideReservation, KindSubmit, KindDecideProject, KindTask, KindTimeline:
		return true
	}
	return false
}

type Reserve struct {
	ProjectID string `json:"project_id"`
	StudentID string `json:"student_id"`
}

// Decision carries either a reservation or a project decision.
type Decision struct {
	TargetID string `json:"target_id"`
	ActorID  string `json:"actor_id"`
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

type Submit struct {
	ProjectID string `json:"project_id"`
	ActorID   string `json:"actor_id"`
	Note      string `json:"note,omitempty"`
}

type Command struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Dead      bool            `json:"dead"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// Decode unmarshals the payload into v.
func (c Command) Decode(v any) error {
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("outbox command %s: decode %s payload: %w", c.ID, c.Kind, err)
	}
	return nil
}

// Dispatcher replays one command against the engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Command) error
}

type DispatcherFunc func(ctx context.Context, c Command) error

func (f DispatcherFunc) Dispatch(ctx context.Context, c Command) error { return f(ctx, c) }

type Outbox struct {
	DB          *sql.DB
	MaxAttempts int
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

const schema = `CREATE TABLE IF NOT EXISTS commands(
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  kind TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  dead INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
)`

// Open opens (and creates) the outbox file at path.
func Open(path string, maxAttempts int) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox dir: %w", err)
	}
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init outbox: %w", err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Outbox{DB: conn, MaxAttempts: maxAttempts}, nil
}

func (o *Outbox) Close() error {
	return o.DB.Close()
}

func (o *Outbox) stamp() string {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

// Enqueue stores a command for later replay.
func (o *Outbox) Enqueue(ctx context.Context, kind Kind, payload any) (Command, error) {
	if !kind.Valid() {
		return Command{}, fmt.Errorf("unknown outbox command kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	now := o.stamp()
	c := Command{ID: uuid.NewString(), Kind: kind, Payload: raw, CreatedAt: now, UpdatedAt: now}
	if _, err := o.DB.ExecContext(ctx, `INSERT INTO commands(id,kind,payload_json,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, string(c.Kind), string(c.Payload), c.CreatedAt, c.UpdatedAt); err != nil {
		return Command{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	logger.Info().Str("command_id", c.ID).Str("kind", string(kind)).Msg("command queued for replay")
	o.refreshDepth(ctx)
	return c, nil
}

// Pending lists live commands oldest first.
func (o *Outbox) Pending(ctx context.Context) ([]Command, error) {
	return o.list(ctx, false)
}

// DeadLetters lists commands that will not be replayed again.
func (o *Outbox) DeadLetters(ctx context.Context) ([]Command, error) {
	return o.list(ctx, true)
}

func (o *Outbox) list(ctx context.Context, dead bool) ([]Command, error) {
	rows, err := o.DB.QueryContext(ctx, `SELECT id,kind,payload_json,attempts,last_error,dead,created_at,updated_at
FROM commands WHERE dead=? ORDER BY seq`, dead)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Command
	for rows.Next() {
		var c Command
		var payload string
		var lastErr sql.NullString
		if err := rows.Scan(&c.ID, &c.Kind, &payload, &c.Attempts, &lastErr, &c.Dead, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Payload = json.RawMessage(payload)
		c.LastError = lastErr.String
		res = append(res, c)
	}
	return res, rows.Err()
}

// Discard drops a command, live or dead.
func (o *Outbox) Discard(ctx context.Context, id string) error {
	res, err := o.DB.ExecContext(ctx, `DELETE FROM commands WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound("outbox_command", id)
	}
	o.refreshDepth(ctx)
	return nil
}

type Report struct {
	Replayed     int `json:"replayed"`
	DeadLettered int `json:"dead_lettered"`
	// Deferred counts the command that hit an outage and stopped the drain.
	Deferred  int `json:"deferred"`
	Remaining int `json:"remaining"`
}

// Drain replays pending commands oldest first. The first persistence
// outage stops the drain so later commands never overtake an earlier one;
// any other failure dead-letters the command and moves on.
func (o *Outbox) Drain(ctx context.Context, d Dispatcher) (Report, error) {
	var rep Report
	pending, err := o.Pending(ctx)
	if err != nil {
		return rep, err
	}
	defer o.refreshDepth(context.WithoutCancel(ctx))
	for i, c := range pending {
		if err := ctx.Err(); err != nil {
			rep.Remaining = len(pending) - i
			return rep, err
		}
		derr := d.Dispatch(ctx, c)
		switch {
		case derr == nil:
			if _, err := o.DB.ExecContext(ctx, `DELETE FROM commands WHERE id=?`, c.ID); err != nil {
				return rep, err
			}
			rep.Replayed++
			o.Metrics.OutboxReplayed("ok")
			logger.Info().Str("command_id", c.ID).Str("kind", string(c.Kind)).Msg("command replayed")
		case errors.Is(derr, context.Canceled) || errors.Is(derr, context.DeadlineExceeded):
			rep.Remaining = len(pending) - i
			return rep, derr
		case domain.Retryable(derr):
			c.Attempts++
			dead := c.Attempts >= o.MaxAttempts
			if err := o.record(ctx, c, derr, dead); err != nil {
				return rep, err
			}
			if dead {
				rep.DeadLettered++
				o.Metrics.OutboxReplayed("dead")
				logger.Error().Err(derr).Str("command_id", c.ID).Int("attempts", c.Attempts).Msg("command dead-lettered after repeated outages")
				// the store is still down; later commands wait for the next drain
				rep.Remaining = len(pending) - i - 1
				return rep, nil
			}
			rep.Deferred++
			rep.Remaining = len(pending) - i
			o.Metrics.OutboxReplayed("deferred")
			logger.Warn().Err(derr).Str("command_id", c.ID).Int("attempts", c.Attempts).Msg("store still unavailable, replay deferred")
			return rep, nil
		default:
			c.Attempts++
			if err := o.record(ctx, c, derr, true); err != nil {
				return rep, err
			}
			rep.DeadLettered++
			o.Metrics.OutboxReplayed("dead")
			logger.Warn().Err(derr).Str("command_id", c.ID).Str("kind", string(c.Kind)).Msg("command rejected on replay")
		}
	}
	return rep, nil
}

func (o *Outbox) record(ctx context.Context, c Command, cause error, dead bool) error {
	_, err := o.DB.ExecContext(ctx, `UPDATE commands SET attempts=?,last_error=?,dead=?,updated_at=? WHERE id=?`,
		c.Attempts, cause.Error(), dead, o.stamp(), c.ID)
	return err
}

func (o *Outbox) refreshDepth(ctx context.Context) {
	if o.Metrics == nil {
		return
	}
	var n int
	if err := o.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands WHERE dead=0`).Scan(&n); err != nil {
		logger.Debug().Err(err).Msg("outbox depth")
		return
	}
	o.Metrics.SetOutboxDepth(n)
}
