// Package db is the database abstraction layer: it opens a per-dialect
// connection pool sized the way connect.rs's create_pool_options does,
// replays an on-connect script on every new physical connection, reserves
// one connection per in-flight request the way take_connection does, and
// normalizes driver-specific scan results into a dialect-neutral DbValue.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SimonWaldherr/sqlpagego/internal/config"
	"github.com/SimonWaldherr/sqlpagego/internal/dialect"
)

// Pool is one dialect's connection pool plus the bookkeeping sqlpagego
// layers on top of database/sql: an acquisition semaphore bounding
// concurrent in-flight requests independently of database/sql's own idle
// pool, and a background janitor that reaps idle connections.
type Pool struct {
	DB      *sql.DB
	Dialect dialect.Dialect

	acquireSem chan struct{}
	janitor    *cron.Cron
}

// sizing mirrors connect.rs's create_pool_options table.
type sizing struct {
	maxOpen     int
	idleTimeout time.Duration
	maxLifetime time.Duration
}

func sizingFor(d dialect.Dialect, dsn string) sizing {
	switch d {
	case dialect.Postgres:
		return sizing{maxOpen: 50, idleTimeout: 30 * time.Minute, maxLifetime: 60 * time.Minute}
	case dialect.MySQL:
		return sizing{maxOpen: 75, idleTimeout: 30 * time.Minute, maxLifetime: 60 * time.Minute}
	case dialect.SQLite:
		if dsn == ":memory:" {
			return sizing{maxOpen: 1}
		}
		return sizing{maxOpen: 16}
	case dialect.MSSQL:
		return sizing{maxOpen: 100, idleTimeout: 30 * time.Minute, maxLifetime: 60 * time.Minute}
	default:
		return sizing{maxOpen: 10}
	}
}

// Open connects to cfg.DatabaseURL, retrying database_connection_retries
// times with a five-second backoff the way Database::init does, and
// returns a sized, on-connect-wired Pool.
func Open(ctx context.Context, cfg *config.Config) (*Pool, error) {
	d, dsn, err := splitDSN(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	driverName := d.DriverName()
	script, err := readOnConnectScript(cfg.ConfigurationDirectory)
	if err != nil {
		return nil, err
	}
	if script != "" {
		driverName, err = registerOnConnectDriver(d.DriverName(), script, d)
		if err != nil {
			return nil, err
		}
	}

	var sqlDB *sql.DB
	retries := cfg.DatabaseConnectionRetries
	for {
		sqlDB, err = sql.Open(driverName, dsn)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseConnectionAcquireTimeout)
			err = sqlDB.PingContext(pingCtx)
			cancel()
		}
		if err == nil {
			break
		}
		if retries <= 0 {
			return nil, fmt.Errorf("db: connecting to %s after retries: %w", d, err)
		}
		retries--
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sz := sizingFor(d, dsn)
	sqlDB.SetMaxOpenConns(sz.maxOpen)
	sqlDB.SetMaxIdleConns(sz.maxOpen)
	sqlDB.SetConnMaxIdleTime(sz.idleTimeout)
	sqlDB.SetConnMaxLifetime(sz.maxLifetime)

	p := &Pool{
		DB:         sqlDB,
		Dialect:    d,
		acquireSem: make(chan struct{}, sz.maxOpen),
	}
	if sz.idleTimeout > 0 || sz.maxLifetime > 0 {
		p.startJanitor()
	}
	return p, nil
}

func readOnConnectScript(configDir string) (string, error) {
	if configDir == "" {
		return "", nil
	}
	path := filepath.Join(configDir, config.OnConnectFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("db: reading %s: %w", path, err)
	}
	return string(data), nil
}

// startJanitor runs a sweep once a minute that closes every idle connection
// (by dropping MaxIdleConns to zero and restoring it), so connections past
// ConnMaxIdleTime/ConnMaxLifetime are not kept until their next use. Open
// starts it only for pools that set one of those limits, so SQLite pools
// (including the single :memory: connection) keep their idle connections.
func (p *Pool) startJanitor() {
	maxIdle := p.DB.Stats().MaxOpenConnections
	p.janitor = cron.New()
	p.janitor.AddFunc("@every 1m", func() {
		p.DB.SetMaxIdleConns(0)
		p.DB.SetMaxIdleConns(maxIdle)
	})
	p.janitor.Start()
}

// Close stops the janitor and closes the underlying pool.
func (p *Pool) Close() error {
	if p.janitor != nil {
		p.janitor.Stop()
	}
	return p.DB.Close()
}
