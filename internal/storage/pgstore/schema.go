package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS import_batches (
  id BIGSERIAL PRIMARY KEY,
  source TEXT NOT NULL,
  format TEXT NOT NULL,
  uploaded_by TEXT NOT NULL DEFAULT '',
  file_checksum TEXT NOT NULL,
  status TEXT NOT NULL,
  row_count INT NOT NULL DEFAULT 0,
  success_count INT NOT NULL DEFAULT 0,
  skip_count INT NOT NULL DEFAULT 0,
  error_count INT NOT NULL DEFAULT 0,
  error_details JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_import_batches_checksum ON import_batches(file_checksum)`,
		`
CREATE TABLE IF NOT EXISTS marketplace_orders (
  id BIGSERIAL PRIMARY KEY,
  source TEXT NOT NULL,
  external_order_id TEXT NOT NULL,
  display_order_number TEXT NOT NULL,
  customer_name TEXT NOT NULL,
  customer_name_normalized TEXT NOT NULL,
  order_date DATE NOT NULL,
  item_count INT NOT NULL DEFAULT 1,
  product_value_cents BIGINT NOT NULL DEFAULT 0,
  shipping_fee_cents BIGINT NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (source, external_order_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_name_date ON marketplace_orders(customer_name_normalized, order_date)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_display_number ON marketplace_orders(display_order_number)`,
		`
CREATE TABLE IF NOT EXISTS marketplace_shipments (
  id BIGSERIAL PRIMARY KEY,
  marketplace_order_id BIGINT NOT NULL REFERENCES marketplace_orders(id) ON DELETE CASCADE,
  shipment_sequence INT NOT NULL DEFAULT 1,
  status TEXT NOT NULL,
  address_ciphertext BYTEA NULL,
  address_zip TEXT NOT NULL DEFAULT '',
  address_expires_at TIMESTAMPTZ NULL,
  item_count INT NULL,
  parcel_preset TEXT NULL,
  provider_shipment_id TEXT NULL,
  provider_rate_id TEXT NULL,
  carrier TEXT NULL,
  service TEXT NULL,
  tracking_number TEXT NULL,
  tracking_url TEXT NULL,
  label_url TEXT NULL,
  label_cost_cents BIGINT NULL,
  match_confidence TEXT NULL,
  exception_note TEXT NULL,
  label_purchase_in_progress BOOLEAN NOT NULL DEFAULT FALSE,
  label_purchase_locked_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (marketplace_order_id, shipment_sequence)
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_status ON marketplace_shipments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_zip ON marketplace_shipments(address_zip)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_address_expiry ON marketplace_shipments(address_expires_at) WHERE address_ciphertext IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS unmatched_tracking (
  id BIGSERIAL PRIMARY KEY,
  easypost_tracker_id TEXT NOT NULL UNIQUE,
  carrier TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL,
  customer_name TEXT NOT NULL DEFAULT '',
  customer_name_normalized TEXT NOT NULL DEFAULT '',
  destination_zip TEXT NOT NULL DEFAULT '',
  provider_status TEXT NOT NULL DEFAULT '',
  match_reason TEXT NOT NULL DEFAULT '',
  resolution_status TEXT NOT NULL DEFAULT 'pending',
  resolved_by TEXT NULL,
  resolved_at TIMESTAMPTZ NULL,
  payload JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_unmatched_resolution ON unmatched_tracking(resolution_status)`,
		`
CREATE TABLE IF NOT EXISTS print_queue (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES marketplace_shipments(id) ON DELETE CASCADE,
  label_url TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'queued',
  created_at TIMESTAMPTZ NOT NULL,
  printed_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_print_queue_status ON print_queue(status)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
