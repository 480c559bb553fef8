// Package collector is the server-side receiver for the error batches the
// portal clients ship: a small chi service that validates and persists
// entries to Postgres.
package collector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-networks/portalcore/internal/errlog"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS error_log_entries (
    id             TEXT PRIMARY KEY,
    received_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    occurred_at    TIMESTAMPTZ NOT NULL,
    error_code     TEXT NOT NULL,
    category       TEXT NOT NULL,
    severity       TEXT NOT NULL,
    message        TEXT NOT NULL,
    operation      TEXT NOT NULL DEFAULT '',
    resource       TEXT NOT NULL DEFAULT '',
    tenant_id      TEXT NOT NULL DEFAULT '',
    customer_id    TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL DEFAULT '',
    http_status    INT NOT NULL DEFAULT 0,
    retryable      BOOLEAN NOT NULL DEFAULT false,
    extra          JSONB
);
CREATE INDEX IF NOT EXISTS idx_error_log_entries_tenant ON error_log_entries (tenant_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_error_log_entries_code ON error_log_entries (error_code, occurred_at);
`

const insertEntrySQL = `
INSERT INTO error_log_entries (
    id, occurred_at, error_code, category, severity, message,
    operation, resource, tenant_id, customer_id, correlation_id,
    http_status, retryable, extra
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING
`

// Storage persists shipped error entries. Duplicate IDs are ignored so a
// client retrying a half-delivered batch cannot double-insert.
type Storage struct {
	pool *pgxpool.Pool
}

func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// EnsureSchema creates the table and indexes when missing. Safe to run at
// every startup.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure collector schema: %w", err)
	}
	return nil
}

// InsertEntries writes a batch in one round trip.
func (s *Storage) InsertEntries(ctx context.Context, entries []errlog.Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertEntrySQL,
			e.ID, e.Timestamp, string(e.Code), string(e.Category), string(e.Severity), e.Message,
			e.Operation, e.Resource, e.TenantID, e.CustomerID, e.CorrelationID,
			e.HTTPStatus, e.Retryable, e.Extra,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert error log entry: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity for the readiness probe.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
