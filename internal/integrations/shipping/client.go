package shipping

import (
	"context"

	"github.com/BearBump/FulfillBox/internal/models"
)

// Parcel is the physical package the label is bought for.
type Parcel struct {
	Preset   string
	LengthIn float64
	WidthIn  float64
	HeightIn float64
	WeightOz float64
}

// Rate is one carrier/service quote on a provider shipment.
type Rate struct {
	ID        string
	Carrier   string
	Service   string
	CostCents int64
}

// Shipment is the provider-side quote object; rates hang off it.
type Shipment struct {
	ID    string
	Rates []Rate
}

// Label is the durable result of buying a rate.
type Label struct {
	ShipmentID     string
	RateID         string
	Carrier        string
	Service        string
	TrackingNumber string
	TrackingURL    string
	LabelURL       string
	CostCents      int64
}

// Client is the postage provider. BuyLabel takes an idempotency key so a
// retried call after a crash cannot double-charge.
type Client interface {
	CreateShipment(ctx context.Context, to models.Address, parcel Parcel) (Shipment, error)
	BuyLabel(ctx context.Context, shipmentID, rateID, idempotencyKey string) (Label, error)
}
