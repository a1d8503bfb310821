package autofulfill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shipfake "github.com/BearBump/FulfillBox/internal/integrations/shipping/fake"
	"github.com/BearBump/FulfillBox/internal/storage/pgstore"
)

type fakeSource struct {
	repo  *fakeRepo
	calls int
	ids   [][]uint64
}

func (s *fakeSource) ListAutoFulfillCandidates(_ context.Context, _ time.Time, f pgstore.AutoFulfillFilter) ([]pgstore.Candidate, error) {
	if s.calls >= len(s.ids) {
		s.calls++
		return nil, nil
	}
	ids := s.ids[s.calls]
	s.calls++
	if len(ids) > f.BatchSize {
		ids = ids[:f.BatchSize]
	}
	var out []pgstore.Candidate
	for _, id := range ids {
		sh := s.repo.shipments[id]
		out = append(out, pgstore.Candidate{
			Shipment: sh,
			Order:    s.repo.orders[sh.MarketplaceOrderID],
		})
	}
	return out, nil
}

func TestWorkerRunOnce(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	seedShipment(repo, 11, 2)
	source := &fakeSource{repo: repo, ids: [][]uint64{{10, 11}}}

	w := NewWorker(source, newTestPurchaser(repo, shipfake.New(), &fakeProducer{}))
	w.RunOnce(context.Background())

	st := w.Stats()
	assert.Equal(t, int64(2), st.TotalCandidates)
	assert.Equal(t, int64(2), st.TotalPurchased)
	assert.Zero(t, st.TotalErrors)
	require.NotNil(t, st.LastCycleAt)
	require.Len(t, repo.purchases, 2)
}

func TestWorkerSkipsWhenLockHeld(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	repo.lockResult = pgstore.LockHeld
	source := &fakeSource{repo: repo, ids: [][]uint64{{10}}}

	w := NewWorker(source, newTestPurchaser(repo, shipfake.New(), &fakeProducer{}))
	w.RunOnce(context.Background())

	st := w.Stats()
	assert.Equal(t, int64(1), st.TotalSkipped, "held lock is a skip, not an error")
	assert.Zero(t, st.TotalErrors)
	assert.Empty(t, st.LastError)
}

func TestWorkerCountsProviderFailures(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	provider := shipfake.New()
	provider.FailBuy = true
	source := &fakeSource{repo: repo, ids: [][]uint64{{10}}}

	w := NewWorker(source, newTestPurchaser(repo, provider, &fakeProducer{}))
	w.RunOnce(context.Background())

	st := w.Stats()
	assert.Equal(t, int64(1), st.TotalErrors)
	assert.NotEmpty(t, st.LastError)
	assert.NotEmpty(t, repo.exceptions)
}

func TestWorkerBatchSizeCapsCycle(t *testing.T) {
	repo := newRepo()
	for i := uint64(0); i < 8; i++ {
		seedShipment(repo, 10+i, 1+i)
	}
	source := &fakeSource{repo: repo, ids: [][]uint64{{10, 11, 12, 13, 14, 15, 16, 17}}}

	w := NewWorker(source, newTestPurchaser(repo, shipfake.New(), &fakeProducer{})).
		WithSettings(0, pgstore.AutoFulfillFilter{BatchSize: 3})
	w.RunOnce(context.Background())

	assert.Equal(t, int64(3), w.Stats().TotalPurchased)
}

func TestWorkerTriggerWakesRun(t *testing.T) {
	repo := newRepo()
	seedShipment(repo, 10, 1)
	source := &fakeSource{repo: repo, ids: [][]uint64{{10}}}

	w := NewWorker(source, newTestPurchaser(repo, shipfake.New(), &fakeProducer{})).
		WithSettings(time.Hour, pgstore.AutoFulfillFilter{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Trigger()
	require.Eventually(t, func() bool {
		return w.Stats().TotalPurchased == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	st := w.Stats()
	require.NotNil(t, st.LastTriggerAt)
}

func TestWorkerStatsStartEmpty(t *testing.T) {
	w := NewWorker(&fakeSource{repo: newRepo()}, newTestPurchaser(newRepo(), shipfake.New(), &fakeProducer{}))
	st := w.Stats()
	assert.False(t, st.StartedAt.IsZero())
	assert.Nil(t, st.LastCycleAt)
	assert.Nil(t, st.LastTriggerAt)
	assert.Zero(t, st.TotalCandidates)
}
