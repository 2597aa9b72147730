// Package audit implements the scale-decision audit trail: a durable,
// queryable log of every scale-up, scale-down, and overloaded-routing-
// fallback decision the autoscaler makes.
//
// A pgxpool.Pool is wrapped by a constructor that pings then runs an
// idempotent ensureSchema migration, with an append-only insert shape:
// one row per event, JSONB payload, server-assigned timestamp.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alob-mtc/invok-autoscaler/internal/logging"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists scale decisions to a Postgres table. It satisfies
// autoscaler.AuditSink.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn, verifies connectivity, and ensures the
// audit schema exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit: postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create postgres pool: %w", err)
	}

	s := &PostgresSink{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS scale_decisions (
		id BIGSERIAL PRIMARY KEY,
		function_key TEXT NOT NULL,
		decision TEXT NOT NULL,
		container_id TEXT NOT NULL,
		reason TEXT,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	const idx = `CREATE INDEX IF NOT EXISTS idx_scale_decisions_function_key ON scale_decisions(function_key, created_at DESC)`
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("audit: ensure schema index: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresSink) insert(ctx context.Context, functionKey, decision, containerID, reason string, details map[string]any) {
	var payload []byte
	if details != nil {
		var err error
		payload, err = json.Marshal(details)
		if err != nil {
			logging.Ctx(ctx).Warn("audit: marshal details failed", "function", functionKey, "error", err)
			payload = nil
		}
	}

	const stmt = `INSERT INTO scale_decisions (function_key, decision, container_id, reason, details) VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, stmt, functionKey, decision, containerID, reason, payload); err != nil {
		logging.Ctx(ctx).Warn("audit: insert scale decision failed", "function", functionKey, "decision", decision, "error", err)
	}
}

// RecordScaleUp logs a new container having been started for functionKey.
func (s *PostgresSink) RecordScaleUp(ctx context.Context, functionKey, containerID string) {
	s.insert(ctx, functionKey, "scale_up", containerID, "", nil)
}

// RecordScaleDown logs a container having been stopped and removed.
func (s *PostgresSink) RecordScaleDown(ctx context.Context, functionKey, containerID, reason string) {
	s.insert(ctx, functionKey, "scale_down", containerID, reason, nil)
}

// RecordRouteFallback logs an invocation having been routed to an
// Overloaded container because no Healthy/Idle container was available.
func (s *PostgresSink) RecordRouteFallback(ctx context.Context, functionKey, containerID string) {
	s.insert(ctx, functionKey, "route_overloaded_fallback", containerID, "", nil)
}
