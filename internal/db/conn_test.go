package db

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/SimonWaldherr/sqlpagego/internal/dialect"
)

func openTestPool(t *testing.T, d dialect.Dialect) *Pool {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := sqlDB.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return &Pool{DB: sqlDB, Dialect: d, acquireSem: make(chan struct{}, 1)}
}

func TestPrepareCachesStatementPerQuery(t *testing.T) {
	p := openTestPool(t, dialect.SQLite)
	defer p.Close()
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer c.Release()

	const q = `SELECT id FROM widgets WHERE name = ?`
	s1, err := c.prepare(ctx, q)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	s2, err := c.prepare(ctx, q)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if s1 != s2 {
		t.Errorf("expected cached statement to be reused for non-Postgres dialects")
	}
	if len(c.stmts) != 1 {
		t.Errorf("stmts cache size = %d, want 1", len(c.stmts))
	}
}

func TestPrepareRePreparesWithFreshSuffixForPostgres(t *testing.T) {
	p := openTestPool(t, dialect.Postgres)
	defer p.Close()
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer c.Release()

	const q = `SELECT id FROM widgets WHERE name = ?`
	s1, err := c.prepare(ctx, q)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	s2, err := c.prepare(ctx, q)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if s1 == s2 {
		t.Errorf("expected a fresh statement on every Postgres prepare, got the same cached *sql.Stmt")
	}
	if len(c.stmts) != 1 {
		t.Errorf("stale statement should be replaced, not accumulated: stmts size = %d", len(c.stmts))
	}
}

func TestPostgresStmtSuffixIsUniquePerCall(t *testing.T) {
	a := postgresStmtSuffix()
	b := postgresStmtSuffix()
	if a == b {
		t.Fatalf("expected distinct suffixes, got %q twice", a)
	}
	if !strings.HasPrefix(a, "\n-- sqlpage:") {
		t.Errorf("suffix = %q, want a leading sqlpage comment", a)
	}
}
