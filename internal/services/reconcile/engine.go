package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
	"github.com/pkg/errors"
)

// Match reason codes, stored on the review queue row and reported in the
// import summary.
const (
	ReasonExplicitReference  = "explicit-reference"
	ReasonNameDate           = "name-date"
	ReasonNameZip            = "name-zip"
	ReasonNameOnly           = "name-only"
	ReasonAmbiguous          = "ambiguous"
	ReasonNoEligibleShipment = "no-eligible-shipment"
	ReasonNoMatch            = "no-match"
)

// Outcome of resolving one tracking record.
type Outcome string

const (
	// OutcomeAuto: tracking was attached to a shipment without a human.
	OutcomeAuto Outcome = "auto"
	// OutcomeReview: a plausible but not certain match was queued.
	OutcomeReview Outcome = "review"
	// OutcomeUnmatched: nothing plausible; queued with no candidate.
	OutcomeUnmatched Outcome = "unmatched"
)

type MatchResult struct {
	Outcome Outcome
	Reason  string

	// Set only for OutcomeAuto.
	OrderID    uint64
	ShipmentID uint64

	// Queued is false when the record was already in the review queue.
	Queued bool
}

// Repository is the slice of storage the engine needs.
type Repository interface {
	FindOrdersByExternalRef(ctx context.Context, ref string) ([]*models.Order, error)
	FindOrdersByNameAndDate(ctx context.Context, nameNormalized string, date time.Time) ([]*models.Order, error)
	FindOrdersByNameAndZip(ctx context.Context, nameNormalized, zip string) ([]*models.Order, error)
	FindOrdersByName(ctx context.Context, nameNormalized string) ([]*models.Order, error)
	ListEligibleShipments(ctx context.Context, orderID uint64) ([]*models.Shipment, error)
	ApplyAutoMatch(ctx context.Context, m pgstore.AutoMatch) error
	UpsertUnmatchedTracking(ctx context.Context, in models.UnmatchedTrackingInput) (bool, error)
}

// Engine attaches external tracking records to shipments through tiered
// entity matching. Only an unambiguous strong match is applied without a
// human; everything weaker lands in the review queue.
type Engine struct {
	repo Repository
	log  *slog.Logger
}

func NewEngine(repo Repository, log *slog.Logger) *Engine {
	return &Engine{repo: repo, log: log}
}

// Resolve runs the tiers in order:
//
//  1. explicit order reference: decisive either way, no fall-through
//  2. normalized name + order date
//  3. normalized name + destination zip
//  4. name only: never auto, a unique hit still goes to review
//
// Tiers 2 and 3 fall through on zero candidates and stop on ambiguity.
func (e *Engine) Resolve(ctx context.Context, rec models.TrackingRecord) (*MatchResult, error) {
	if rec.TrackingNumber == "" {
		return nil, errors.New("tracking record has no tracking number")
	}

	if rec.OrderReference != "" {
		orders, err := e.repo.FindOrdersByExternalRef(ctx, rec.OrderReference)
		if err != nil {
			return nil, err
		}
		switch len(orders) {
		case 0:
			return e.queue(ctx, rec, OutcomeUnmatched, ReasonNoMatch)
		case 1:
			return e.attach(ctx, rec, orders[0], ReasonExplicitReference)
		default:
			return e.queue(ctx, rec, OutcomeReview, ReasonAmbiguous)
		}
	}

	name := models.NormalizeCustomerName(rec.CustomerName)
	if name == "" {
		return e.queue(ctx, rec, OutcomeUnmatched, ReasonNoMatch)
	}

	if rec.EventTime != nil {
		orders, err := e.repo.FindOrdersByNameAndDate(ctx, name, *rec.EventTime)
		if err != nil {
			return nil, err
		}
		switch len(orders) {
		case 0:
			// fall through
		case 1:
			return e.attach(ctx, rec, orders[0], ReasonNameDate)
		default:
			return e.queue(ctx, rec, OutcomeReview, ReasonAmbiguous)
		}
	}

	if zip := models.NormalizeZip(rec.DestinationZip); zip != "" {
		orders, err := e.repo.FindOrdersByNameAndZip(ctx, name, zip)
		if err != nil {
			return nil, err
		}
		switch len(orders) {
		case 0:
			// fall through
		case 1:
			return e.attach(ctx, rec, orders[0], ReasonNameZip)
		default:
			return e.queue(ctx, rec, OutcomeReview, ReasonAmbiguous)
		}
	}

	orders, err := e.repo.FindOrdersByName(ctx, name)
	if err != nil {
		return nil, err
	}
	switch len(orders) {
	case 0:
		return e.queue(ctx, rec, OutcomeUnmatched, ReasonNoMatch)
	case 1:
		// A name alone is too weak to act on.
		return e.queue(ctx, rec, OutcomeReview, ReasonNameOnly)
	default:
		return e.queue(ctx, rec, OutcomeReview, ReasonAmbiguous)
	}
}

// attach applies a strong match to the order's lowest-sequence eligible
// shipment. An order with no open shipment goes to review instead: the
// tracking may belong to a split the seller has not recorded.
func (e *Engine) attach(ctx context.Context, rec models.TrackingRecord, order *models.Order, reason string) (*MatchResult, error) {
	shipments, err := e.repo.ListEligibleShipments(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(shipments) == 0 {
		return e.queue(ctx, rec, OutcomeReview, ReasonNoEligibleShipment)
	}
	sh := shipments[0]

	err = e.repo.ApplyAutoMatch(ctx, pgstore.AutoMatch{
		ShipmentID:     sh.ID,
		TrackingNumber: rec.TrackingNumber,
		TrackingURL:    rec.TrackingURL,
		Carrier:        rec.Carrier,
		NextStatus:     nextStatusFor(rec.Status),
		Confidence:     models.MatchConfidenceAuto,
		Address:        rec.Address,
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("tracking matched",
		slog.String("trackingNumber", rec.TrackingNumber),
		slog.Uint64("orderId", order.ID),
		slog.Uint64("shipmentId", sh.ID),
		slog.String("reason", reason))

	return &MatchResult{
		Outcome:    OutcomeAuto,
		Reason:     reason,
		OrderID:    order.ID,
		ShipmentID: sh.ID,
	}, nil
}

func (e *Engine) queue(ctx context.Context, rec models.TrackingRecord, outcome Outcome, reason string) (*MatchResult, error) {
	var payload *string
	if b, err := json.Marshal(rec); err == nil {
		s := string(b)
		payload = &s
	}

	trackerID := rec.TrackerID
	if trackerID == "" {
		trackerID = rec.TrackingNumber
	}

	queued, err := e.repo.UpsertUnmatchedTracking(ctx, models.UnmatchedTrackingInput{
		EasypostTrackerID: trackerID,
		Carrier:           rec.Carrier,
		TrackingNumber:    rec.TrackingNumber,
		CustomerName:      rec.CustomerName,
		DestinationZip:    rec.DestinationZip,
		ProviderStatus:    rec.Status,
		MatchReason:       reason,
		PayloadJSON:       payload,
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("tracking queued for review",
		slog.String("trackingNumber", rec.TrackingNumber),
		slog.String("reason", reason),
		slog.Bool("queued", queued))

	return &MatchResult{Outcome: outcome, Reason: reason, Queued: queued}, nil
}

// nextStatusFor maps a provider tracking status to the shipment state it
// implies. A status the mapping does not recognize (or an event with no
// status at all) attaches the tracking number but leaves the state
// machine alone.
func nextStatusFor(providerStatus string) string {
	switch providerStatus {
	case models.TrackingStatusDelivered:
		return models.ShipmentStatusDelivered
	case models.TrackingStatusInTransit:
		return models.ShipmentStatusInTransit
	case models.TrackingStatusPreTransit:
		return models.ShipmentStatusShipped
	default:
		return ""
	}
}
