package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"projectflow/internal/db"
	"projectflow/internal/domain"
	"projectflow/internal/store"
)

// Repo is the SQL implementation of store.Store.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var _ store.Store = Repo{}

// Tx runs queries for one unit of work. Inside Update on Postgres, project
// reads take a row lock so every change touching a project serializes on it.
type Tx struct {
	tx      *sql.Tx
	dialect db.Dialect
	lock    bool
}

var _ store.Tx = (*Tx)(nil)

func (r Repo) Update(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(ctx, err)
	}
	defer tx.Rollback()
	if err := fn(&Tx{tx: tx, dialect: r.Dialect, lock: r.Dialect == db.Postgres}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(ctx, err)
	}
	return nil
}

func (r Repo) View(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(ctx, err)
	}
	defer tx.Rollback()
	return fn(&Tx{tx: tx, dialect: r.Dialect})
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return res, nil
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return rows, nil
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// swapped turns a zero-row compare-and-swap into ErrVersionConflict, or into
// not found when the row is gone entirely.
func (t *Tx) swapped(ctx context.Context, res sql.Result, table, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(ctx, err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = t.queryRow(ctx, `SELECT 1 FROM `+table+` WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return domain.NotFound(entity, id)
	}
	if err != nil {
		return classify(ctx, err)
	}
	return store.ErrVersionConflict
}

// classify maps driver errors onto the domain taxonomy. Context errors are
// returned unchanged so cancellation is never mistaken for an outage.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// drivers report an interrupted statement in their own words
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if transient(err) {
		return domain.Unavailable(err)
	}
	return err
}

func transient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_PROTOCOL:
			return true
		}
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
		// serialization_failure and deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// uniqueViolation reports whether err came from a unique index.
func uniqueViolation(err error) bool {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return true
		}
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}
