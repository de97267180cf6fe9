package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// StatusError carries the HTTP status a database failure should map to,
// the Go equivalent of send_anyhow_error's special-cased
// sqlx::Error::PoolTimedOut -> 503 handling.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// RetryAfterSeconds is advertised on a pool-exhaustion StatusError so a
// client or load balancer knows roughly how long to back off.
const RetryAfterSeconds = 1

// classifyError wraps a driver-level error with an HTTP status hint where
// one is known; everything else passes through unchanged so a request
// coordinator can fall back to a generic 500.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StatusError{Status: http.StatusServiceUnavailable, Err: fmt.Errorf("database connection pool exhausted: %w", err)}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return err
}
