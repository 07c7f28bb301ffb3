package crdb

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
	booking_id STRING PRIMARY KEY,
	showtime_id STRING NOT NULL,
	seat_id STRING NOT NULL,
	seat_label STRING NOT NULL DEFAULT '',
	customer_name STRING NOT NULL,
	customer_phone STRING NOT NULL,
	payment_method STRING NOT NULL,
	transaction_id STRING NOT NULL DEFAULT '',
	bank_name STRING NOT NULL DEFAULT '',
	reference STRING NOT NULL DEFAULT '',
	unit_price INT8 NOT NULL,
	amount INT8 NOT NULL,
	cancelled BOOL NOT NULL DEFAULT false,
	cancelled_by STRING NOT NULL DEFAULT '',
	cancelled_at TIMESTAMPTZ NULL,
	created_at TIMESTAMPTZ NOT NULL,
	INDEX bookings_showtime_idx (showtime_id),
	INDEX bookings_created_idx (created_at)
);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id STRING NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ NULL,
	status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key STRING NOT NULL UNIQUE,
	INDEX outbox_status_idx (status, created_at)
);
`

// Migrate creates the mirror and outbox tables when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}
