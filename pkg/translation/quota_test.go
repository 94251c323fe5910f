package translation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

type noQuotaAdapter struct {
	*fakeAdapter
}

func (n noQuotaAdapter) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, providers.ErrQuotaUnsupported
}

type nilQuotaAdapter struct {
	*fakeAdapter
}

func (n nilQuotaAdapter) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, nil
}

func TestCheckQuota(t *testing.T) {
	reg := providers.NewRegistry()
	require.NoError(t, reg.Register(newFake("deepl", nil)))
	require.NoError(t, reg.Register(noQuotaAdapter{newFake("google", nil)}))
	q := NewQuotaTracker(reg, nil)

	info, err := q.CheckQuota(context.Background(), "deepl")
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Used)
	assert.InDelta(t, 0.1, info.UsageRatio(), 1e-9)

	_, err = q.CheckQuota(context.Background(), "google")
	assert.ErrorIs(t, err, providers.ErrQuotaUnsupported)

	last, ok := q.Last("google")
	require.True(t, ok)
	assert.False(t, last.Supported())
}

func TestCheckQuotaWithoutInfo(t *testing.T) {
	reg := providers.NewRegistry()
	require.NoError(t, reg.Register(nilQuotaAdapter{newFake("ollama", nil)}))
	q := NewQuotaTracker(reg, nil)

	var (
		info *providers.QuotaInfo
		err  error
	)
	require.NotPanics(t, func() {
		info, err = q.CheckQuota(context.Background(), "ollama")
	})
	assert.Nil(t, info)
	assert.ErrorIs(t, err, providers.ErrQuotaUnsupported)

	last, ok := q.Last("ollama")
	require.True(t, ok)
	assert.False(t, last.Supported())
}

func TestCheckAllSortsReports(t *testing.T) {
	reg := providers.NewRegistry()
	require.NoError(t, reg.Register(newFake("deepl", nil)))
	require.NoError(t, reg.Register(noQuotaAdapter{newFake("google", nil)}))
	q := NewQuotaTracker(reg, nil)

	reports := q.CheckAll(context.Background(), []string{"google", "missing", "deepl"})
	require.Len(t, reports, 3)
	assert.Equal(t, "deepl", reports[0].Provider)
	assert.NoError(t, reports[0].Err)
	assert.Equal(t, "google", reports[1].Provider)
	assert.ErrorIs(t, reports[1].Err, providers.ErrQuotaUnsupported)
	assert.Equal(t, "missing", reports[2].Provider)
	assert.ErrorIs(t, reports[2].Err, providers.ErrNotFound)
}

func TestWatchPollsUntilCancelled(t *testing.T) {
	reg := providers.NewRegistry()
	require.NoError(t, reg.Register(newFake("deepl", nil)))
	q := NewQuotaTracker(reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu    sync.Mutex
		polls int
	)
	done := make(chan struct{})
	go func() {
		q.Watch(ctx, []string{"deepl"}, 10*time.Millisecond, func(reports []QuotaReport) {
			mu.Lock()
			polls++
			n := polls
			mu.Unlock()
			if n == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, polls)
}
