package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id              UUID PRIMARY KEY,
		custom_order_id TEXT UNIQUE,
		school_id       TEXT NOT NULL,
		trustee_id      TEXT NOT NULL,
		student_name    TEXT NOT NULL,
		student_id      TEXT NOT NULL,
		student_email   TEXT NOT NULL,
		gateway_name    TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_school_id ON orders (school_id)`,
	`CREATE TABLE IF NOT EXISTS order_statuses (
		id                 UUID PRIMARY KEY,
		order_id           UUID NOT NULL UNIQUE REFERENCES orders (id),
		collect_request_id TEXT UNIQUE,
		degraded           BOOLEAN NOT NULL DEFAULT false,
		order_amount       DOUBLE PRECISION NOT NULL,
		transaction_amount DOUBLE PRECISION NOT NULL,
		payment_mode       TEXT NOT NULL,
		payment_details    TEXT,
		bank_reference     TEXT,
		payment_message    TEXT,
		status             TEXT NOT NULL,
		error_message      TEXT,
		payment_time       TIMESTAMPTZ NOT NULL,
		version            INTEGER NOT NULL DEFAULT 1,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_statuses_status_updated ON order_statuses (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS webhooks (
		id           UUID PRIMARY KEY,
		event_type   TEXT NOT NULL,
		payload      JSONB NOT NULL,
		status       TEXT NOT NULL CHECK (status IN ('success', 'failed', 'pending')),
		response     JSONB,
		error        TEXT,
		source       TEXT NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		processed_at TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhooks_collect_request_id ON webhooks ((payload->>'collect_request_id'))`,
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
