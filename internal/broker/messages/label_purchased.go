package messages

import "time"

// LabelPurchased is published after a label purchase is durably
// recorded. Consumers (the printing agent, dashboards) treat it as a
// best-effort mirror of the database row.
type LabelPurchased struct {
	ShipmentID uint64 `json:"shipment_id"`
	OrderID    uint64 `json:"order_id"`

	Carrier        string `json:"carrier"`
	Service        string `json:"service"`
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url"`
	LabelCostCents int64  `json:"label_cost_cents"`

	PrintJobID  uint64    `json:"print_job_id,omitempty"`
	PurchasedAt time.Time `json:"purchased_at"`
}
