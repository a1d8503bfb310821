package models

import "time"

const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

type ImportBatch struct {
	ID           uint64
	Source       string
	Format       string
	UploadedBy   string
	FileChecksum string
	Status       string
	RowCount     int32
	SuccessCount int32
	SkipCount    int32
	ErrorCount   int32
	// ErrorDetails is an opaque serialized document: a JSON array of
	// {"row": N, "reason": "..."} objects, decoded only at the API boundary.
	ErrorDetails *string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// RowError is one malformed input row. It never aborts the rest of the
// import; rows are collected into the batch error summary.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}
