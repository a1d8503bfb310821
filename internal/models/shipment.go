package models

import "time"

// Shipment state machine. Transitions are forward-only; exception is
// reachable from any non-terminal state.
const (
	ShipmentStatusPending        = "pending"
	ShipmentStatusLabelPurchased = "label_purchased"
	ShipmentStatusShipped        = "shipped"
	ShipmentStatusInTransit      = "in_transit"
	ShipmentStatusDelivered      = "delivered"
	ShipmentStatusException      = "exception"
)

// How tracking was attached to a shipment.
const (
	MatchConfidenceAuto      = "auto"
	MatchConfidenceManual    = "manual"
	MatchConfidenceUnmatched = "unmatched"
)

var shipmentStatusRank = map[string]int{
	ShipmentStatusPending:        0,
	ShipmentStatusLabelPurchased: 1,
	ShipmentStatusShipped:        2,
	ShipmentStatusInTransit:      3,
	ShipmentStatusDelivered:      4,
}

// ShipmentTransitionAllowed reports whether a shipment may move from one
// status to the next. Delivered and exception are terminal.
func ShipmentTransitionAllowed(from, to string) bool {
	if from == to {
		return false
	}
	if from == ShipmentStatusDelivered || from == ShipmentStatusException {
		return false
	}
	if to == ShipmentStatusException {
		return true
	}
	fr, ok := shipmentStatusRank[from]
	if !ok {
		return false
	}
	tr, ok := shipmentStatusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

type Shipment struct {
	ID                 uint64
	MarketplaceOrderID uint64
	ShipmentSequence   int32
	Status             string

	AddressCiphertext []byte
	AddressZip        string
	AddressExpiresAt  *time.Time

	ItemCount    *int32
	ParcelPreset *string

	ProviderShipmentID *string
	ProviderRateID     *string
	Carrier            *string
	Service            *string
	TrackingNumber     *string
	TrackingURL        *string
	LabelURL           *string
	LabelCostCents     *int64

	MatchConfidence *string
	ExceptionNote   *string

	LabelPurchaseInProgress bool
	LabelPurchaseLockedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Eligible reports whether a match or an auto-purchase may act on the
// shipment: non-terminal, non-tracked.
func (s *Shipment) Eligible() bool {
	if s.TrackingNumber != nil && *s.TrackingNumber != "" {
		return false
	}
	switch s.Status {
	case ShipmentStatusPending, ShipmentStatusLabelPurchased, ShipmentStatusShipped:
		return true
	}
	return false
}
