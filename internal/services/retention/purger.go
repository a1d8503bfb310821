package retention

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

type Store interface {
	PurgeExpiredAddresses(ctx context.Context, now time.Time) (int64, error)
}

// Purger deletes expired encrypted addresses on a cron schedule. The
// purge itself is idempotent, so an overlapping or replayed run is
// harmless.
type Purger struct {
	store Store
	c     *cron.Cron

	totalPurged atomic.Int64
	lastRun     atomic.Int64
}

func New(store Store, spec string) (*Purger, error) {
	p := &Purger{store: store, c: cron.New()}
	if _, err := p.c.AddFunc(spec, p.runOnce); err != nil {
		return nil, errors.Wrapf(err, "bad purge schedule %q", spec)
	}
	return p, nil
}

func (p *Purger) Start() { p.c.Start() }

// Stop halts the schedule and waits for a running purge to finish.
func (p *Purger) Stop() {
	<-p.c.Stop().Done()
}

// RunOnce is exposed for the worker's admin trigger endpoint.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	p.lastRun.Store(now.UnixNano())
	n, err := p.store.PurgeExpiredAddresses(ctx, now)
	if err != nil {
		return 0, err
	}
	p.totalPurged.Add(n)
	return n, nil
}

func (p *Purger) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	n, err := p.RunOnce(ctx)
	if err != nil {
		slog.Error("address purge", "error", err.Error())
		return
	}
	if n > 0 {
		slog.Info("address purge", "purged", n)
	}
}

type Stats struct {
	TotalPurged int64      `json:"totalPurged"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
}

func (p *Purger) Stats() Stats {
	st := Stats{TotalPurged: p.totalPurged.Load()}
	if n := p.lastRun.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	return st
}
