package db

import (
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	q := `UPDATE projects SET status=?, version=? WHERE id=? AND version=?`
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := `UPDATE projects SET status=$1, version=$2 WHERE id=$3 AND version=$4`
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("postgres rebind: got %s want %s", got, want)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": SQLite, "sqlite3": SQLite, "PostgreSQL": Postgres} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatalf("expected mysql to be rejected")
	}
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != SQLite {
		t.Fatalf("dialect %s", dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if Path(dir) != filepath.Join(dir, ".projectflow", "projectflow.db") {
		t.Fatalf("unexpected path %s", Path(dir))
	}
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign keys not enabled: %d %v", fk, err)
	}
}

func TestOpenPostgresNeedsDSN(t *testing.T) {
	if _, _, err := Open(Config{Driver: "postgres"}); err == nil {
		t.Fatalf("expected error without dsn")
	}
}
