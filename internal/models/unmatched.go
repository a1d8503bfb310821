package models

import "time"

// Resolution of an unmatched tracking record is set only by an operator.
const (
	ResolutionPending     = "pending"
	ResolutionMatched     = "matched"
	ResolutionIgnored     = "ignored"
	ResolutionManualEntry = "manual_entry"
)

type UnmatchedTracking struct {
	ID                     uint64
	EasypostTrackerID      string
	Carrier                string
	TrackingNumber         string
	CustomerName           string
	CustomerNameNormalized string
	DestinationZip         string
	ProviderStatus         string
	MatchReason            string
	ResolutionStatus       string
	ResolvedBy             *string
	ResolvedAt             *time.Time
	PayloadJSON            *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type UnmatchedTrackingInput struct {
	EasypostTrackerID string
	Carrier           string
	TrackingNumber    string
	CustomerName      string
	DestinationZip    string
	ProviderStatus    string
	MatchReason       string
	PayloadJSON       *string
}
