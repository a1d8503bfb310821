package autofulfill

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

type CandidateSource interface {
	ListAutoFulfillCandidates(ctx context.Context, now time.Time, f pgstore.AutoFulfillFilter) ([]pgstore.Candidate, error)
}

// Worker drives auto-fulfillment: each cycle selects a small batch of
// safe shipments and purchases labels for them one by one. Purchases
// are sequential on purpose; the batch size, not concurrency, is the
// throughput knob, and sequential keeps provider load predictable.
type Worker struct {
	source    CandidateSource
	purchaser *Purchaser

	pollInterval time.Duration
	filter       pgstore.AutoFulfillFilter

	triggerCh chan struct{}
	cycleBusy atomic.Bool

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCandidates     atomic.Int64
	totalPurchased      atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func NewWorker(source CandidateSource, purchaser *Purchaser) *Worker {
	return &Worker{
		source:    source,
		purchaser: purchaser,
		pollInterval: 30 * time.Second,
		filter: pgstore.AutoFulfillFilter{
			MaxItemCount:  3,
			MaxValueCents: 4999,
			MaxOrderAge:   7 * 24 * time.Hour,
			BatchSize:     5,
		},
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (w *Worker) WithSettings(pollInterval time.Duration, f pgstore.AutoFulfillFilter) *Worker {
	if pollInterval > 0 {
		w.pollInterval = pollInterval
	}
	if f.MaxItemCount > 0 {
		w.filter.MaxItemCount = f.MaxItemCount
	}
	if f.MaxValueCents > 0 {
		w.filter.MaxValueCents = f.MaxValueCents
	}
	if f.MaxOrderAge > 0 {
		w.filter.MaxOrderAge = f.MaxOrderAge
	}
	if f.BatchSize > 0 {
		w.filter.BatchSize = f.BatchSize
	}
	return w
}

func (w *Worker) Filter() pgstore.AutoFulfillFilter { return w.filter }

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (w *Worker) Trigger() {
	w.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastCycleAt     *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCandidates int64      `json:"totalCandidates"`
	TotalPurchased  int64      `json:"totalPurchased"`
	TotalSkipped    int64      `json:"totalSkipped"`
	TotalErrors     int64      `json:"totalErrors"`
	LastError       string     `json:"lastError,omitempty"`
}

func (w *Worker) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, w.startedAtUnixNano).UTC(),
		TotalCandidates: w.totalCandidates.Load(),
		TotalPurchased:  w.totalPurchased.Load(),
		TotalSkipped:    w.totalSkipped.Load(),
		TotalErrors:     w.totalErrors.Load(),
	}
	if n := w.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := w.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

func (w *Worker) Run(ctx context.Context) error {
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.RunOnce(ctx)
		case <-w.triggerCh:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single cycle. Guarded so an overlapping trigger
// cannot start a second cycle mid-flight.
func (w *Worker) RunOnce(ctx context.Context) {
	if !w.cycleBusy.CompareAndSwap(false, true) {
		return
	}
	defer w.cycleBusy.Store(false)

	now := time.Now().UTC()
	w.lastCycleUnixNano.Store(now.UnixNano())

	candidates, err := w.source.ListAutoFulfillCandidates(ctx, now, w.filter)
	if err != nil {
		w.recordError(err)
		slog.Error("list auto-fulfill candidates", "error", err.Error())
		return
	}
	w.totalCandidates.Add(int64(len(candidates)))

	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		_, err := w.purchaser.PurchaseLabel(ctx, c.Shipment.ID)
		switch {
		case err == nil:
			w.totalPurchased.Add(1)
			slog.Info("auto-fulfilled shipment",
				"shipment_id", c.Shipment.ID,
				"order", c.Order.DisplayOrderNumber)
		case isBenignSkip(err):
			// Someone else got there first; that is the lock working.
			w.totalSkipped.Add(1)
		default:
			w.totalErrors.Add(1)
			w.recordError(err)
			slog.Error("auto-fulfill purchase", "shipment_id", c.Shipment.ID, "error", err.Error())
		}
	}
}

func (w *Worker) recordError(err error) {
	w.lastErrorMu.Lock()
	w.lastError = err.Error()
	w.lastErrorMu.Unlock()
}

func isBenignSkip(err error) bool {
	return errors.Is(err, ErrPurchaseInProgress) ||
		errors.Is(err, ErrAlreadyPurchased) ||
		errors.Is(err, ErrNotPurchasable)
}
