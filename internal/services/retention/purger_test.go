package retention

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	purged int64
	err    error
	calls  int
}

func (f *fakeStore) PurgeExpiredAddresses(_ context.Context, _ time.Time) (int64, error) {
	f.calls++
	return f.purged, f.err
}

func TestPurgerRunOnce(t *testing.T) {
	store := &fakeStore{purged: 3}
	p, err := New(store, "13 4 * * *")
	require.NoError(t, err)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	st := p.Stats()
	assert.Equal(t, int64(6), st.TotalPurged)
	require.NotNil(t, st.LastRunAt)
	assert.Equal(t, 2, store.calls)
}

func TestPurgerRunOnceError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	p, err := New(store, "@daily")
	require.NoError(t, err)

	_, err = p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, p.Stats().TotalPurged)
}

func TestPurgerRejectsBadSpec(t *testing.T) {
	_, err := New(&fakeStore{}, "not a cron spec")
	require.Error(t, err)
}

func TestPurgerStartStop(t *testing.T) {
	p, err := New(&fakeStore{}, "@every 1h")
	require.NoError(t, err)
	p.Start()
	p.Stop()
}
