package pgstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	PrintStatusQueued  = "queued"
	PrintStatusPrinted = "printed"
)

type PrintJob struct {
	ID         uint64
	ShipmentID uint64
	LabelURL   string
	Status     string
	CreatedAt  time.Time
	PrintedAt  *time.Time
}

// EnqueuePrintJob files a label for the printing agent. The row is the
// durable handoff; the Kafka mirror is best-effort.
func (s *Storage) EnqueuePrintJob(ctx context.Context, shipmentID uint64, labelURL string) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO print_queue (shipment_id, label_url, status, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id
`, shipmentID, labelURL, PrintStatusQueued, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "enqueue print job")
	}
	return id, nil
}

func (s *Storage) ListQueuedPrintJobs(ctx context.Context, limit int) ([]*PrintJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, label_url, status, created_at, printed_at
FROM print_queue
WHERE status = $1
ORDER BY created_at
LIMIT $2
`, PrintStatusQueued, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select print jobs")
	}
	defer rows.Close()

	var out []*PrintJob
	for rows.Next() {
		var j PrintJob
		if err := rows.Scan(&j.ID, &j.ShipmentID, &j.LabelURL, &j.Status, &j.CreatedAt, &j.PrintedAt); err != nil {
			return nil, errors.Wrap(err, "scan print job")
		}
		out = append(out, &j)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) MarkPrintJobPrinted(ctx context.Context, id uint64) error {
	tag, err := s.db.Exec(ctx, `
UPDATE print_queue SET status = $2, printed_at = now() WHERE id = $1 AND status = $3
`, id, PrintStatusPrinted, PrintStatusQueued)
	if err != nil {
		return errors.Wrap(err, "mark print job printed")
	}
	if tag.RowsAffected() == 0 {
		return errors.New("print job not found or already printed")
	}
	return nil
}
