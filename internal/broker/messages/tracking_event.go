package messages

import "time"

// TrackingEvent arrives on the tracking events topic from the provider
// webhook bridge. It carries the same fields as a tracking export row
// and feeds the same match engine.
type TrackingEvent struct {
	TrackerID      string `json:"tracker_id"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	Carrier        string `json:"carrier,omitempty"`

	Status    string     `json:"status,omitempty"`
	EventTime *time.Time `json:"event_time,omitempty"`

	CustomerName   string `json:"customer_name,omitempty"`
	DestinationZip string `json:"destination_zip,omitempty"`
	OrderReference string `json:"order_reference,omitempty"`
}
