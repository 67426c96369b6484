package database

import (
	"context"
	"fmt"
)

// schemaStatements are applied in order at startup. Every statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id            UUID PRIMARY KEY,
		title         TEXT NOT NULL,
		message       TEXT NOT NULL,
		action_url    TEXT NOT NULL DEFAULT '',
		action_text   TEXT NOT NULL DEFAULT '',
		attachments   JSONB NOT NULL DEFAULT '[]',
		roles         TEXT[] NOT NULL DEFAULT '{}',
		recipient_ids TEXT[] NOT NULL DEFAULT '{}',
		channels      TEXT[] NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS notification_receivers (
		notification_id UUID NOT NULL REFERENCES notifications(id),
		recipient_id    TEXT NOT NULL,
		recipient_type  TEXT NOT NULL,
		position        INT  NOT NULL,
		PRIMARY KEY (notification_id, recipient_id, recipient_type)
	)`,
	`CREATE TABLE IF NOT EXISTS notification_channel_attempts (
		notification_id UUID NOT NULL,
		recipient_id    TEXT NOT NULL,
		recipient_type  TEXT NOT NULL,
		channel         TEXT NOT NULL,
		position        INT  NOT NULL,
		status          TEXT NOT NULL,
		sent_at         TIMESTAMPTZ,
		delivered_at    TIMESTAMPTZ,
		is_read         BOOLEAN NOT NULL DEFAULT false,
		read_at         TIMESTAMPTZ,
		error           TEXT NOT NULL DEFAULT '',
		detail          TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (notification_id, recipient_id, recipient_type, channel),
		FOREIGN KEY (notification_id, recipient_id, recipient_type)
			REFERENCES notification_receivers(notification_id, recipient_id, recipient_type),
		CHECK (is_read = false OR (channel = 'IN_APP' AND status = 'SENT'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_unread
		ON notification_channel_attempts (recipient_id, channel, status, is_read)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                         TEXT PRIMARY KEY,
		customer_id                TEXT NOT NULL,
		restaurant_id              TEXT NOT NULL,
		status                     TEXT NOT NULL DEFAULT 'order-received',
		driver_lat                 DOUBLE PRECISION,
		driver_lng                 DOUBLE PRECISION,
		driver_location_updated_at TIMESTAMPTZ,
		created_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS order_timeline (
		id          BIGSERIAL PRIMARY KEY,
		order_id    TEXT NOT NULL REFERENCES orders(id),
		status      TEXT NOT NULL,
		description TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables owned by this service.
func (c *PostgresClient) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
