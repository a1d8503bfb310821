package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var (
	ErrBatchNotFound  = errors.New("import batch not found")
	ErrDuplicateBatch = errors.New("a batch with this file checksum already completed")
)

// CreateImportBatch opens a batch in processing state. A checksum that
// already completed is rejected so the same file is not imported twice by
// accident; a corrective re-run goes through a fresh upload after the
// operator deletes the stuck batch.
func (s *Storage) CreateImportBatch(ctx context.Context, source, format, uploadedBy, checksum string) (*models.ImportBatch, error) {
	var duplicate bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM import_batches WHERE file_checksum = $1 AND status = $2
)
`, checksum, models.BatchStatusCompleted).Scan(&duplicate)
	if err != nil {
		return nil, errors.Wrap(err, "select duplicate batch")
	}
	if duplicate {
		return nil, ErrDuplicateBatch
	}

	now := time.Now().UTC()
	var id uint64
	err = s.db.QueryRow(ctx, `
INSERT INTO import_batches (source, format, uploaded_by, file_checksum, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, source, format, uploadedBy, checksum, models.BatchStatusProcessing, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert import batch")
	}
	return s.GetImportBatch(ctx, id)
}

// BatchCompletion is written exactly once when the import finishes.
type BatchCompletion struct {
	BatchID      uint64
	RowCount     int32
	SuccessCount int32
	SkipCount    int32
	ErrorCount   int32
	// ErrorDetailsJSON is the serialized row-error summary; stored opaque.
	ErrorDetailsJSON *string
	Failed           bool
}

func (s *Storage) CompleteImportBatch(ctx context.Context, c BatchCompletion) error {
	status := models.BatchStatusCompleted
	if c.Failed {
		status = models.BatchStatusFailed
	}
	tag, err := s.db.Exec(ctx, `
UPDATE import_batches
SET status = $2,
    row_count = $3,
    success_count = $4,
    skip_count = $5,
    error_count = $6,
    error_details = $7,
    completed_at = now()
WHERE id = $1
`, c.BatchID, status, c.RowCount, c.SuccessCount, c.SkipCount, c.ErrorCount, c.ErrorDetailsJSON)
	if err != nil {
		return errors.Wrap(err, "complete import batch")
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (s *Storage) GetImportBatch(ctx context.Context, id uint64) (*models.ImportBatch, error) {
	var b models.ImportBatch
	err := s.db.QueryRow(ctx, `
SELECT
  id, source, format, uploaded_by, file_checksum, status,
  row_count, success_count, skip_count, error_count,
  error_details::text, created_at, completed_at
FROM import_batches
WHERE id = $1
`, id).Scan(
		&b.ID, &b.Source, &b.Format, &b.UploadedBy, &b.FileChecksum, &b.Status,
		&b.RowCount, &b.SuccessCount, &b.SkipCount, &b.ErrorCount,
		&b.ErrorDetails, &b.CreatedAt, &b.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select import batch")
	}
	return &b, nil
}
