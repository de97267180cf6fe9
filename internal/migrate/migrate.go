// Package migrate applies ordered NN_*.sql migration files once each,
// tracking which have already run in a _sqlx_migrations table so restarts
// are idempotent.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/SimonWaldherr/sqlpagego/internal/dialect"
)

const trackingTable = "_sqlx_migrations"

var migrationNamePattern = regexp.MustCompile(`^(\d+)_.*\.sql$`)

// Migration is one ordered NN_*.sql file discovered under a migrations
// directory.
type Migration struct {
	Version int
	Name    string
	Path    string
}

// Discover lists and orders the migration files under dir by their
// leading NN version number.
func Discover(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("migrate: reading %s: %w", dir, err)
	}

	var out []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, Migration{Version: version, Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Apply runs every migration in dir that has not already been recorded in
// _sqlx_migrations, in version order, each inside its own transaction.
func Apply(ctx context.Context, sqlDB *sql.DB, d dialect.Dialect, dir string) ([]Migration, error) {
	migrations, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	if len(migrations) == 0 {
		return nil, nil
	}

	if err := ensureTrackingTable(ctx, sqlDB); err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, sqlDB)
	if err != nil {
		return nil, err
	}

	var ran []Migration
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyOne(ctx, sqlDB, d, m); err != nil {
			return ran, fmt.Errorf("migrate: applying %s: %w", m.Name, err)
		}
		ran = append(ran, m)
	}
	return ran, nil
}

func ensureTrackingTable(ctx context.Context, sqlDB *sql.DB) error {
	_, err := sqlDB.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TIMESTAMP NOT NULL)`,
		trackingTable))
	return err
}

func appliedVersions(ctx context.Context, sqlDB *sql.DB) (map[int]bool, error) {
	rows, err := sqlDB.QueryContext(ctx, fmt.Sprintf(`SELECT version FROM %s`, trackingTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func applyOne(ctx context.Context, sqlDB *sql.DB, d dialect.Dialect, m Migration) error {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return err
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitOnSemicolons(string(data)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	insert := fmt.Sprintf(`INSERT INTO %s (version, name, applied_at) VALUES (%s, %s, %s)`,
		trackingTable, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	if _, err := tx.ExecContext(ctx, insert, m.Version, m.Name, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// splitOnSemicolons is deliberately simple: migration files are expected to
// be plain DDL/DML without string literals containing semicolons, unlike
// the quote-aware splitter the request pipeline uses for untrusted .sql
// page content.
func splitOnSemicolons(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
