package db

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/sqlpagego/internal/dialect"
)

// splitDSN strips the sqlpagego-specific scheme prefix from a
// database_url configuration value and returns the dialect plus the
// driver-native DSN/connection string each underlying driver expects.
func splitDSN(databaseURL string) (dialect.Dialect, string, error) {
	d, err := dialect.FromDatabaseURL(databaseURL)
	if err != nil {
		return dialect.Unknown, "", err
	}

	switch d {
	case dialect.Postgres:
		// lib/pq accepts the postgres:// URL form directly.
		return d, normalizeScheme(databaseURL, "postgresql", "postgres"), nil
	case dialect.MySQL:
		dsn := strings.TrimPrefix(databaseURL, "mysql://")
		dsn = strings.TrimPrefix(dsn, "mariadb://")
		return d, dsn + multiStatementsParam(dsn), nil
	case dialect.SQLite:
		dsn := strings.TrimPrefix(databaseURL, "sqlite:")
		if dsn == "" {
			dsn = ":memory:"
		}
		return d, dsn, nil
	case dialect.MSSQL:
		dsn := strings.TrimPrefix(databaseURL, "mssql://")
		dsn = strings.TrimPrefix(dsn, "sqlserver://")
		return d, "sqlserver://" + dsn, nil
	default:
		return dialect.Unknown, "", fmt.Errorf("db: unsupported database_url %q", databaseURL)
	}
}

func normalizeScheme(url, from, to string) string {
	if strings.HasPrefix(url, from+"://") {
		return to + "://" + strings.TrimPrefix(url, from+"://")
	}
	return url
}

// multiStatementsParam appends multiStatements=true to a go-sql-driver/mysql
// DSN that lacks it, needed so on-connect scripts with several statements
// run in a single Exec call.
func multiStatementsParam(dsn string) string {
	if strings.Contains(dsn, "multiStatements=") {
		return ""
	}
	if strings.Contains(dsn, "?") {
		return "&multiStatements=true"
	}
	return "?multiStatements=true"
}
