package models

import "time"

// Provider tracking statuses as EasyPost reports them.
const (
	TrackingStatusPreTransit = "pre_transit"
	TrackingStatusInTransit  = "in_transit"
	TrackingStatusDelivered  = "delivered"
)

// TrackingRecord is one external tracking event, either a row from an
// EasyPost export file or a message from the tracking.events topic.
type TrackingRecord struct {
	TrackerID      string
	TrackingNumber string
	TrackingURL    string
	Carrier        string

	CustomerName   string
	DestinationZip string
	// OrderReference is the explicit external order id, when the export
	// carries one.
	OrderReference string

	Status    string
	EventTime *time.Time

	// Full destination address, when the export shape includes it.
	Address *Address
}
