package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"github.com/SimonWaldherr/sqlpagego/internal/dialect"
)

// onConnectDriver wraps a registered database/sql driver so every new
// physical connection it opens runs the on-connect script once before the
// pool hands it out, mirroring connect.rs's add_on_connection_handler.
type onConnectDriver struct {
	underlying driver.Driver
	script     string
	dialect    dialect.Dialect
}

var (
	wrapMu       sync.Mutex
	wrapCounter  int
)

// registerOnConnectDriver resolves the driver registered under driverName,
// wraps it so script runs after every physical Open, and registers the
// wrapper under a fresh synthetic name. Returns that synthetic name.
func registerOnConnectDriver(driverName, script string, d dialect.Dialect) (string, error) {
	probe, err := sql.Open(driverName, "")
	if err != nil {
		return "", fmt.Errorf("db: resolving driver %q: %w", driverName, err)
	}
	underlying := probe.Driver()
	probe.Close()

	wrapMu.Lock()
	wrapCounter++
	name := fmt.Sprintf("sqlpagego-%s-%d", driverName, wrapCounter)
	wrapMu.Unlock()

	sql.Register(name, &onConnectDriver{underlying: underlying, script: script, dialect: d})
	return name, nil
}

func (w *onConnectDriver) Open(name string) (driver.Conn, error) {
	conn, err := w.underlying.Open(name)
	if err != nil {
		return nil, err
	}
	if w.script == "" {
		return conn, nil
	}
	if err := runOnConnect(conn, w.script, w.dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: on-connect script failed: %w", err)
	}
	return conn, nil
}

// runOnConnect executes the on-connect script against a freshly opened
// driver.Conn. MySQL is configured with multiStatements so the whole script
// runs as one Exec; every other dialect is split on every ';' (quotes and
// comments are not recognized) and run statement by statement, since
// Postgres/SQLite/MSSQL drivers reject multi-statement Exec calls.
func runOnConnect(conn driver.Conn, script string, d dialect.Dialect) error {
	execer, ok := conn.(driver.ExecerContext)
	if !ok {
		if legacy, ok := conn.(driver.Execer); ok {
			for _, stmt := range statementsFor(script, d) {
				if _, err := legacy.Exec(stmt, nil); err != nil {
					return err
				}
			}
			return nil
		}
		return fmt.Errorf("driver connection does not support Exec")
	}
	ctx := context.Background()
	for _, stmt := range statementsFor(script, d) {
		if _, err := execer.ExecContext(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

func statementsFor(script string, d dialect.Dialect) []string {
	if d.SupportsMultiStatementOnConnect() {
		return []string{script}
	}
	var out []string
	for _, part := range strings.Split(script, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
