package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var (
	ErrUnmatchedNotFound = errors.New("unmatched tracking record not found")
	ErrAlreadyResolved   = errors.New("unmatched tracking record already resolved")
)

// UpsertUnmatchedTracking files a tracking record for operator review.
// Keyed by the external tracker id, so replaying the same export never
// creates duplicate queue entries. Returns true when a new row was
// inserted.
func (s *Storage) UpsertUnmatchedTracking(ctx context.Context, in models.UnmatchedTrackingInput) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
INSERT INTO unmatched_tracking (
  easypost_tracker_id, carrier, tracking_number,
  customer_name, customer_name_normalized, destination_zip,
  provider_status, match_reason, resolution_status, payload,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (easypost_tracker_id) DO NOTHING
`, in.EasypostTrackerID, in.Carrier, in.TrackingNumber,
		in.CustomerName, models.NormalizeCustomerName(in.CustomerName), models.NormalizeZip(in.DestinationZip),
		in.ProviderStatus, in.MatchReason, models.ResolutionPending, in.PayloadJSON, now)
	if err != nil {
		return false, errors.Wrap(err, "insert unmatched tracking")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) ListUnmatchedTracking(ctx context.Context, resolutionStatus string, limit int) ([]*models.UnmatchedTracking, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT
  id, easypost_tracker_id, carrier, tracking_number,
  customer_name, customer_name_normalized, destination_zip,
  provider_status, match_reason, resolution_status,
  resolved_by, resolved_at, payload::text, created_at, updated_at
FROM unmatched_tracking
WHERE ($1 = '' OR resolution_status = $1)
ORDER BY created_at DESC
LIMIT $2
`, resolutionStatus, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select unmatched tracking")
	}
	defer rows.Close()

	var out []*models.UnmatchedTracking
	for rows.Next() {
		var u models.UnmatchedTracking
		if err := rows.Scan(
			&u.ID, &u.EasypostTrackerID, &u.Carrier, &u.TrackingNumber,
			&u.CustomerName, &u.CustomerNameNormalized, &u.DestinationZip,
			&u.ProviderStatus, &u.MatchReason, &u.ResolutionStatus,
			&u.ResolvedBy, &u.ResolvedAt, &u.PayloadJSON, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan unmatched tracking")
		}
		out = append(out, &u)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetUnmatchedTracking(ctx context.Context, id uint64) (*models.UnmatchedTracking, error) {
	var u models.UnmatchedTracking
	err := s.db.QueryRow(ctx, `
SELECT
  id, easypost_tracker_id, carrier, tracking_number,
  customer_name, customer_name_normalized, destination_zip,
  provider_status, match_reason, resolution_status,
  resolved_by, resolved_at, payload::text, created_at, updated_at
FROM unmatched_tracking
WHERE id = $1
`, id).Scan(
		&u.ID, &u.EasypostTrackerID, &u.Carrier, &u.TrackingNumber,
		&u.CustomerName, &u.CustomerNameNormalized, &u.DestinationZip,
		&u.ProviderStatus, &u.MatchReason, &u.ResolutionStatus,
		&u.ResolvedBy, &u.ResolvedAt, &u.PayloadJSON, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnmatchedNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select unmatched tracking")
	}
	return &u, nil
}

// ResolveUnmatched applies an operator decision. "matched" attaches the
// tracking to the chosen shipment with manual confidence; "ignored" and
// "manual_entry" only record the disposition.
func (s *Storage) ResolveUnmatched(ctx context.Context, id uint64, resolution, resolvedBy string, shipmentID *uint64) error {
	switch resolution {
	case models.ResolutionMatched, models.ResolutionIgnored, models.ResolutionManualEntry:
	default:
		return errors.Errorf("unknown resolution %q", resolution)
	}

	u, err := s.GetUnmatchedTracking(ctx, id)
	if err != nil {
		return err
	}
	if u.ResolutionStatus != models.ResolutionPending {
		return ErrAlreadyResolved
	}

	if resolution == models.ResolutionMatched {
		if shipmentID == nil {
			return errors.New("matched resolution requires a shipment id")
		}
		err := s.ApplyAutoMatch(ctx, AutoMatch{
			ShipmentID:     *shipmentID,
			TrackingNumber: u.TrackingNumber,
			Carrier:        u.Carrier,
			Confidence:     models.MatchConfidenceManual,
		})
		if err != nil {
			return err
		}
	}

	tag, err := s.db.Exec(ctx, `
UPDATE unmatched_tracking
SET resolution_status = $2, resolved_by = $3, resolved_at = now(), updated_at = now()
WHERE id = $1 AND resolution_status = $4
`, id, resolution, resolvedBy, models.ResolutionPending)
	if err != nil {
		return errors.Wrap(err, "resolve unmatched tracking")
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}
