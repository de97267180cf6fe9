package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/sqlpagego/internal/dialect"
)

// Dialect reports which SQL dialect this connection speaks.
func (c *Conn) Dialect() dialect.Dialect { return c.pool.Dialect }

// Conn is one request's reserved physical connection: every statement in a
// .sql file runs against the same Conn, matching take_connection's
// acquire-once-reuse-across-statements behavior, so session state like
// SQLite's temp tables or a transaction stays visible across statements.
type Conn struct {
	pool *Pool
	sql  *sql.Conn

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// Acquire reserves a Conn for one request, bounded by the pool's acquisition
// semaphore. When every slot is taken it waits until one is released or ctx
// is done; it applies no timeout of its own, so a wait is bounded only by
// ctx (database_connection_acquire_timeout_seconds bounds the startup ping
// in Open, not this wait).
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	select {
	case p.acquireSem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("db: acquiring connection: %w", ctx.Err())
	}

	sc, err := p.DB.Conn(ctx)
	if err != nil {
		<-p.acquireSem
		return nil, fmt.Errorf("db: acquiring connection: %w", err)
	}
	return &Conn{pool: p, sql: sc, stmts: map[string]*sql.Stmt{}}, nil
}

// Release returns the reserved connection to the pool. It must be called
// exactly once per successful Acquire.
func (c *Conn) Release() {
	c.mu.Lock()
	for _, stmt := range c.stmts {
		stmt.Close()
	}
	c.mu.Unlock()
	c.sql.Close()
	<-c.pool.acquireSem
}

// prepare returns a cached *sql.Stmt for query, preparing it on first use.
// Statements are cached per-Conn (per-request), so there is no cross-request
// staleness hazard even against a statement-pooling proxy: the connection
// this Conn wraps is never handed to another request while reserved.
//
// Postgres is the exception: pgbouncer in transaction-pooling mode may hand
// this logical connection a different backend session between statements,
// so a cached statement name can collide with one a different client
// already prepared under pgbouncer's multiplexing. Every Postgres prepare
// gets a fresh, randomly suffixed statement instead of reusing the cache.
func (c *Conn) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool.Dialect == dialect.Postgres {
		if old, ok := c.stmts[query]; ok {
			old.Close()
			delete(c.stmts, query)
		}
		stmt, err := c.sql.PrepareContext(ctx, query+postgresStmtSuffix())
		if err != nil {
			return nil, err
		}
		c.stmts[query] = stmt
		return stmt, nil
	}

	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := c.sql.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.stmts[query] = stmt
	return stmt, nil
}

// postgresStmtSuffix is appended as a harmless trailing comment to every
// query prepared against Postgres, giving each prepare a fresh, random
// statement to avoid "prepared statement already exists" under pgbouncer.
func postgresStmtSuffix() string {
	return "\n-- sqlpage:" + uuid.NewString()
}

// QueryRows runs query with positional args and returns the resulting rows
// converted to the dialect-neutral RowStream.
func (c *Conn) QueryRows(ctx context.Context, query string, args []any) (*RowStream, error) {
	stmt, err := c.prepare(ctx, query)
	if err != nil {
		return nil, classifyError(err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	return newRowStream(rows)
}

// Exec runs query for side effects, returning the number of affected rows.
func (c *Conn) Exec(ctx context.Context, query string, args []any) (int64, error) {
	stmt, err := c.prepare(ctx, query)
	if err != nil {
		return 0, classifyError(err)
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return 0, classifyError(err)
	}
	return res.RowsAffected()
}

// QueryScalar runs query and returns its single-row single-column result,
// used to evaluate a SetVariable statement's inner Query.
func (c *Conn) QueryScalar(ctx context.Context, query string, args []any) (DbValue, error) {
	rs, err := c.QueryRows(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	if !rs.Next() {
		if err := rs.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	row := rs.Row()
	if len(row.Columns) == 0 {
		return nil, nil
	}
	return row.Values[0], nil
}
