package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var (
	ErrShipmentNotFound = errors.New("shipment not found")
	ErrBadTransition    = errors.New("shipment status transition not allowed")
	ErrNoStoredAddress  = errors.New("shipment has no stored address")
)

// LockResult is the outcome of a label-purchase lock attempt.
type LockResult int

const (
	LockAcquired LockResult = iota
	// LockAlreadyPurchased: the shipment already carries a tracking number.
	LockAlreadyPurchased
	// LockHeld: another actor holds a non-stale lock.
	LockHeld
)

const shipmentColumns = `
  id, marketplace_order_id, shipment_sequence, status,
  address_ciphertext, address_zip, address_expires_at,
  item_count, parcel_preset,
  provider_shipment_id, provider_rate_id, carrier, service,
  tracking_number, tracking_url, label_url, label_cost_cents,
  match_confidence, exception_note,
  label_purchase_in_progress, label_purchase_locked_at,
  created_at, updated_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	if err := row.Scan(
		&sh.ID, &sh.MarketplaceOrderID, &sh.ShipmentSequence, &sh.Status,
		&sh.AddressCiphertext, &sh.AddressZip, &sh.AddressExpiresAt,
		&sh.ItemCount, &sh.ParcelPreset,
		&sh.ProviderShipmentID, &sh.ProviderRateID, &sh.Carrier, &sh.Service,
		&sh.TrackingNumber, &sh.TrackingURL, &sh.LabelURL, &sh.LabelCostCents,
		&sh.MatchConfidence, &sh.ExceptionNote,
		&sh.LabelPurchaseInProgress, &sh.LabelPurchaseLockedAt,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Storage) GetShipment(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT`+shipmentColumns+` FROM marketplace_shipments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) ListOrderShipments(ctx context.Context, orderID uint64) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+shipmentColumns+`
FROM marketplace_shipments
WHERE marketplace_order_id = $1
ORDER BY shipment_sequence
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order shipments")
	}
	return scanShipments(rows)
}

// ListEligibleShipments returns the shipments a match or auto-purchase
// may act on: non-terminal status, no tracking number, lowest sequence
// first so tie-breaks are deterministic.
func (s *Storage) ListEligibleShipments(ctx context.Context, orderID uint64) ([]*models.Shipment, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+shipmentColumns+`
FROM marketplace_shipments
WHERE marketplace_order_id = $1
  AND tracking_number IS NULL
  AND status IN ($2, $3, $4)
ORDER BY shipment_sequence
`, orderID, models.ShipmentStatusPending, models.ShipmentStatusLabelPurchased, models.ShipmentStatusShipped)
	if err != nil {
		return nil, errors.Wrap(err, "select eligible shipments")
	}
	return scanShipments(rows)
}

func scanShipments(rows pgx.Rows) ([]*models.Shipment, error) {
	defer rows.Close()
	var out []*models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// AcquireLabelLock claims the right to purchase a label for a shipment.
// One conditional UPDATE: succeeds only while the shipment has no
// tracking number and the lock is free or stale. Exactly one concurrent
// caller observes a changed row. This is a lease, not a mutex: the
// staleness window must exceed any real purchase call.
func (s *Storage) AcquireLabelLock(ctx context.Context, shipmentID uint64) (LockResult, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE marketplace_shipments
SET
  label_purchase_in_progress = TRUE,
  label_purchase_locked_at = now(),
  updated_at = now()
WHERE id = $1
  AND tracking_number IS NULL
  AND (
    label_purchase_in_progress = FALSE
    OR label_purchase_locked_at IS NULL
    OR label_purchase_locked_at < now() - make_interval(secs => $2)
  )
`, shipmentID, s.lockStaleness.Seconds())
	if err != nil {
		return LockHeld, errors.Wrap(err, "acquire label lock")
	}
	if tag.RowsAffected() == 1 {
		return LockAcquired, nil
	}

	// Lost the race (or nothing to do): re-read to say why.
	var trackingNumber *string
	var inProgress bool
	err = s.db.QueryRow(ctx, `
SELECT tracking_number, label_purchase_in_progress
FROM marketplace_shipments
WHERE id = $1
`, shipmentID).Scan(&trackingNumber, &inProgress)
	if errors.Is(err, pgx.ErrNoRows) {
		return LockHeld, ErrShipmentNotFound
	}
	if err != nil {
		return LockHeld, errors.Wrap(err, "reread shipment after lock miss")
	}
	if trackingNumber != nil && *trackingNumber != "" {
		return LockAlreadyPurchased, nil
	}
	return LockHeld, nil
}

// ReleaseLabelLock unconditionally clears the lock pair. It must run on
// every exit path of a purchase attempt so a crash never leaves a lock
// held past the staleness window.
func (s *Storage) ReleaseLabelLock(ctx context.Context, shipmentID uint64) error {
	_, err := s.db.Exec(ctx, `
UPDATE marketplace_shipments
SET
  label_purchase_in_progress = FALSE,
  label_purchase_locked_at = NULL,
  updated_at = now()
WHERE id = $1
`, shipmentID)
	return errors.Wrap(err, "release label lock")
}

// UpdateShipmentStatus enforces the forward-only state machine. Entering
// delivered starts the address-retention timer exactly once; a replayed
// delivered event never extends it.
func (s *Storage) UpdateShipmentStatus(ctx context.Context, shipmentID uint64, next string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.transitionShipment(ctx, tx, shipmentID, next); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) transitionShipment(ctx context.Context, tx pgx.Tx, shipmentID uint64, next string) error {
	var current string
	err := tx.QueryRow(ctx, `SELECT status FROM marketplace_shipments WHERE id = $1 FOR UPDATE`, shipmentID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrShipmentNotFound
	}
	if err != nil {
		return errors.Wrap(err, "select shipment status")
	}

	if !models.ShipmentTransitionAllowed(current, next) {
		return errors.Wrapf(ErrBadTransition, "%s -> %s", current, next)
	}

	if next == models.ShipmentStatusDelivered {
		_, err = tx.Exec(ctx, `
UPDATE marketplace_shipments
SET status = $2,
    address_expires_at = COALESCE(address_expires_at, now() + make_interval(secs => $3)),
    updated_at = now()
WHERE id = $1
`, shipmentID, next, s.addressRetention.Seconds())
	} else {
		_, err = tx.Exec(ctx, `
UPDATE marketplace_shipments SET status = $2, updated_at = now() WHERE id = $1
`, shipmentID, next)
	}
	if err != nil {
		return errors.Wrap(err, "update shipment status")
	}

	var orderID uint64
	if err := tx.QueryRow(ctx, `SELECT marketplace_order_id FROM marketplace_shipments WHERE id = $1`, shipmentID).Scan(&orderID); err != nil {
		return errors.Wrap(err, "select order id")
	}
	return recomputeOrderStatus(ctx, tx, orderID)
}

// PurgeExpiredAddresses irrecoverably clears encrypted addresses whose
// retention timer has elapsed. Idempotent; safe to run repeatedly.
func (s *Storage) PurgeExpiredAddresses(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE marketplace_shipments
SET address_ciphertext = NULL, updated_at = now()
WHERE address_ciphertext IS NOT NULL
  AND address_expires_at IS NOT NULL
  AND address_expires_at <= $1
`, now.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purge expired addresses")
	}
	return tag.RowsAffected(), nil
}

// DecryptAddress materializes the destination address. Callers must not
// cache the result; PII lives in memory only for the duration of a
// rate/label call.
func (s *Storage) DecryptAddress(sh *models.Shipment) (*models.Address, error) {
	if len(sh.AddressCiphertext) == 0 {
		return nil, ErrNoStoredAddress
	}
	plain, err := s.cipher.Decrypt(sh.AddressCiphertext)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt address")
	}
	var a models.Address
	if err := json.Unmarshal(plain, &a); err != nil {
		return nil, errors.Wrap(err, "unmarshal address")
	}
	return &a, nil
}

// AutoFulfillFilter is the worker eligibility predicate.
type AutoFulfillFilter struct {
	MaxItemCount  int32
	MaxValueCents int64
	MaxOrderAge   time.Duration
	BatchSize     int
}

// Candidate pairs a shipment with the order fields the purchase flow
// needs.
type Candidate struct {
	Shipment *models.Shipment
	Order    *models.Order
}

// ListAutoFulfillCandidates selects shipments that are safe to auto-ship:
// pending, untracked, unpurchased, with a stored address, within the
// automation thresholds, lock free or stale. Oldest orders first.
func (s *Storage) ListAutoFulfillCandidates(ctx context.Context, now time.Time, f AutoFulfillFilter) ([]Candidate, error) {
	if f.BatchSize <= 0 {
		f.BatchSize = 5
	}
	rows, err := s.db.Query(ctx, `
SELECT
  sh.id, sh.marketplace_order_id, sh.shipment_sequence, sh.status,
  sh.address_ciphertext, sh.address_zip, sh.address_expires_at,
  sh.item_count, sh.parcel_preset,
  sh.provider_shipment_id, sh.provider_rate_id, sh.carrier, sh.service,
  sh.tracking_number, sh.tracking_url, sh.label_url, sh.label_cost_cents,
  sh.match_confidence, sh.exception_note,
  sh.label_purchase_in_progress, sh.label_purchase_locked_at,
  sh.created_at, sh.updated_at,
  o.id, o.source, o.external_order_id, o.display_order_number,
  o.customer_name, o.customer_name_normalized, o.order_date,
  o.item_count, o.product_value_cents, o.shipping_fee_cents,
  o.status, o.created_at, o.updated_at
FROM marketplace_shipments sh
JOIN marketplace_orders o ON o.id = sh.marketplace_order_id
WHERE sh.status = $1
  AND sh.tracking_number IS NULL
  AND sh.provider_shipment_id IS NULL
  AND sh.address_ciphertext IS NOT NULL
  AND COALESCE(sh.item_count, o.item_count) <= $2
  AND o.product_value_cents <= $3
  AND o.order_date >= $4
  AND (
    sh.label_purchase_in_progress = FALSE
    OR sh.label_purchase_locked_at IS NULL
    OR sh.label_purchase_locked_at < now() - make_interval(secs => $5)
  )
ORDER BY o.order_date ASC, o.id ASC, sh.shipment_sequence ASC
LIMIT $6
`, models.ShipmentStatusPending, f.MaxItemCount, f.MaxValueCents,
		now.UTC().Add(-f.MaxOrderAge), s.lockStaleness.Seconds(), f.BatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "select auto-fulfill candidates")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var sh models.Shipment
		var o models.Order
		if err := rows.Scan(
			&sh.ID, &sh.MarketplaceOrderID, &sh.ShipmentSequence, &sh.Status,
			&sh.AddressCiphertext, &sh.AddressZip, &sh.AddressExpiresAt,
			&sh.ItemCount, &sh.ParcelPreset,
			&sh.ProviderShipmentID, &sh.ProviderRateID, &sh.Carrier, &sh.Service,
			&sh.TrackingNumber, &sh.TrackingURL, &sh.LabelURL, &sh.LabelCostCents,
			&sh.MatchConfidence, &sh.ExceptionNote,
			&sh.LabelPurchaseInProgress, &sh.LabelPurchaseLockedAt,
			&sh.CreatedAt, &sh.UpdatedAt,
			&o.ID, &o.Source, &o.ExternalOrderID, &o.DisplayOrderNumber,
			&o.CustomerName, &o.CustomerNameNormalized, &o.OrderDate,
			&o.ItemCount, &o.ProductValueCents, &o.ShippingFeeCents,
			&o.Status, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan candidate")
		}
		out = append(out, Candidate{Shipment: &sh, Order: &o})
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// LabelPurchase is the durable result of a successful provider purchase.
type LabelPurchase struct {
	ShipmentID uint64

	ProviderShipmentID string
	ProviderRateID     string
	Carrier            string
	Service            string
	TrackingNumber     string
	TrackingURL        string
	LabelURL           string
	LabelCostCents     int64
	ParcelPreset       string
}

// RecordLabelPurchase persists the purchase outcome, marks the shipment
// label_purchased, and clears the lock in one atomic write, so a restart
// never loses a completed attempt.
func (s *Storage) RecordLabelPurchase(ctx context.Context, p LabelPurchase) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE marketplace_shipments
SET
  status = $2,
  provider_shipment_id = $3,
  provider_rate_id = $4,
  carrier = $5,
  service = $6,
  tracking_number = $7,
  tracking_url = $8,
  label_url = $9,
  label_cost_cents = $10,
  parcel_preset = $11,
  label_purchase_in_progress = FALSE,
  label_purchase_locked_at = NULL,
  updated_at = now()
WHERE id = $1
`, p.ShipmentID, models.ShipmentStatusLabelPurchased,
		p.ProviderShipmentID, p.ProviderRateID, p.Carrier, p.Service,
		p.TrackingNumber, p.TrackingURL, p.LabelURL, p.LabelCostCents, p.ParcelPreset)
	if err != nil {
		return errors.Wrap(err, "record label purchase")
	}
	if tag.RowsAffected() == 0 {
		return ErrShipmentNotFound
	}

	var orderID uint64
	if err := tx.QueryRow(ctx, `SELECT marketplace_order_id FROM marketplace_shipments WHERE id = $1`, p.ShipmentID).Scan(&orderID); err != nil {
		return errors.Wrap(err, "select order id")
	}
	if err := recomputeOrderStatus(ctx, tx, orderID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// MarkShipmentException records a failed purchase or reconciliation with
// a human-readable note. Failures are never auto-retried; the note is
// what the operator acts on.
func (s *Storage) MarkShipmentException(ctx context.Context, shipmentID uint64, note string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE marketplace_shipments
SET status = $2, exception_note = $3, updated_at = now()
WHERE id = $1 AND status NOT IN ($4, $2)
`, shipmentID, models.ShipmentStatusException, note, models.ShipmentStatusDelivered)
	if err != nil {
		return errors.Wrap(err, "mark shipment exception")
	}
	if tag.RowsAffected() == 0 {
		return ErrShipmentNotFound
	}

	var orderID uint64
	if err := tx.QueryRow(ctx, `SELECT marketplace_order_id FROM marketplace_shipments WHERE id = $1`, shipmentID).Scan(&orderID); err != nil {
		return errors.Wrap(err, "select order id")
	}
	if err := recomputeOrderStatus(ctx, tx, orderID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// AutoMatch is the write side of a confident reconciliation result.
type AutoMatch struct {
	ShipmentID uint64

	TrackingNumber string
	TrackingURL    string
	Carrier        string

	// NextStatus is empty when the event does not advance the state
	// machine.
	NextStatus string

	// Confidence: auto for engine matches, manual for operator
	// resolutions.
	Confidence string

	// Backfill address only when none is stored yet; never overwrites.
	Address *models.Address
}

func (s *Storage) ApplyAutoMatch(ctx context.Context, m AutoMatch) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	confidence := m.Confidence
	if confidence == "" {
		confidence = models.MatchConfidenceAuto
	}

	tag, err := tx.Exec(ctx, `
UPDATE marketplace_shipments
SET
  tracking_number = $2,
  tracking_url = NULLIF($3, ''),
  carrier = COALESCE(NULLIF($4, ''), carrier),
  match_confidence = $5,
  label_purchase_in_progress = FALSE,
  label_purchase_locked_at = NULL,
  updated_at = now()
WHERE id = $1 AND tracking_number IS NULL
`, m.ShipmentID, m.TrackingNumber, m.TrackingURL, m.Carrier, confidence)
	if err != nil {
		return errors.Wrap(err, "apply auto match")
	}
	if tag.RowsAffected() == 0 {
		return errors.New("shipment already tracked or missing")
	}

	if m.Address != nil && !m.Address.IsZero() {
		plain, err := json.Marshal(m.Address)
		if err != nil {
			return errors.Wrap(err, "marshal address")
		}
		ct, err := s.cipher.Encrypt(plain)
		if err != nil {
			return errors.Wrap(err, "encrypt address")
		}
		_, err = tx.Exec(ctx, `
UPDATE marketplace_shipments
SET address_ciphertext = $2, address_zip = $3, updated_at = now()
WHERE id = $1 AND address_ciphertext IS NULL
`, m.ShipmentID, ct, models.NormalizeZip(m.Address.Zip))
		if err != nil {
			return errors.Wrap(err, "backfill address")
		}
	}

	if m.NextStatus != "" {
		if err := s.transitionShipment(ctx, tx, m.ShipmentID, m.NextStatus); err != nil {
			// Forward-only violations are not an error for a match replay.
			if !errors.Is(err, ErrBadTransition) {
				return err
			}
		}
	} else {
		var orderID uint64
		if err := tx.QueryRow(ctx, `SELECT marketplace_order_id FROM marketplace_shipments WHERE id = $1`, m.ShipmentID).Scan(&orderID); err != nil {
			return errors.Wrap(err, "select order id")
		}
		if err := recomputeOrderStatus(ctx, tx, orderID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}
