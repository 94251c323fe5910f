package stats

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-translator-hub/pkg/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 14, 23, 0, 0, 0, time.Local)}
}

func TestRecordAttempt(t *testing.T) {
	clock := newClock()
	agg := NewAggregator(WithClock(clock.Now))

	agg.RecordAttempt(Event{Provider: "google", Outcome: OutcomeSuccess, Characters: 5, Cost: 0.0001, Latency: 100 * time.Millisecond})
	agg.RecordAttempt(Event{Provider: "deepl", Outcome: OutcomeFailure, ErrorKind: "transient", Attempts: 3, Latency: 300 * time.Millisecond})
	agg.RecordAttempt(Event{Provider: "openai", Outcome: OutcomeCancelled, Latency: 50 * time.Millisecond})

	snap := agg.Snapshot()
	assert.Equal(t, int64(3), snap.Total.Requests)
	assert.Equal(t, int64(1), snap.Total.Successes)
	assert.Equal(t, int64(1), snap.Total.Failures)
	assert.Equal(t, int64(1), snap.Total.Cancelled)
	assert.Equal(t, int64(2), snap.Total.Retries)
	assert.Equal(t, int64(5), snap.Total.Characters)
	assert.InDelta(t, 0.5, snap.Total.SuccessRate(), 1e-9)
	assert.Equal(t, 50*time.Millisecond, snap.Total.MinLatency)
	assert.Equal(t, 300*time.Millisecond, snap.Total.MaxLatency)

	require.Contains(t, snap.ByProvider, "deepl")
	assert.Equal(t, int64(1), snap.ByProvider["deepl"].Errors["transient"])
	assert.Equal(t, []string{"deepl", "google", "openai"}, snap.Providers())
	assert.Equal(t, "2024-05-14", snap.Today.Date)
	assert.Equal(t, int64(3), snap.Today.Requests)
}

func TestSnapshotIsCopy(t *testing.T) {
	agg := NewAggregator()
	agg.RecordAttempt(Event{Provider: "deepl", Outcome: OutcomeFailure, ErrorKind: "timeout"})

	snap := agg.Snapshot()
	snap.ByProvider["deepl"].Errors["timeout"] = 99

	assert.Equal(t, int64(1), agg.Snapshot().ByProvider["deepl"].Errors["timeout"])
}

func TestTodayRollsAtLocalMidnight(t *testing.T) {
	clock := newClock()
	agg := NewAggregator(WithClock(clock.Now))

	agg.RecordAttempt(Event{Provider: "google", Outcome: OutcomeSuccess, Characters: 10})
	clock.Set(clock.Now().Add(2 * time.Hour))

	snap := agg.Snapshot()
	assert.Equal(t, "2024-05-15", snap.Today.Date)
	assert.Zero(t, snap.Today.Requests)
	assert.Equal(t, int64(1), snap.Total.Requests)

	agg.RecordAttempt(Event{Provider: "google", Outcome: OutcomeSuccess, Characters: 3})
	snap = agg.Snapshot()
	assert.Equal(t, int64(1), snap.Today.Requests)
	assert.Equal(t, int64(3), snap.Today.Characters)
	assert.Equal(t, int64(13), snap.Total.Characters)
}

func TestCacheCounters(t *testing.T) {
	agg := NewAggregator()
	agg.RecordCacheHit()
	agg.RecordCacheMiss()
	agg.RecordCacheMiss()
	agg.RecordCacheMiss()

	snap := agg.Snapshot()
	assert.Equal(t, int64(1), snap.Cache.Hits)
	assert.Equal(t, int64(3), snap.Cache.Misses)
	assert.InDelta(t, 0.25, snap.Cache.HitRate(), 1e-9)
	assert.Zero(t, snap.Total.Requests, "缓存命中不计为提供商请求")
}

func TestClear(t *testing.T) {
	agg := NewAggregator()
	agg.RecordAttempt(Event{Provider: "google", Outcome: OutcomeSuccess})
	agg.RecordCacheHit()
	agg.Clear()

	snap := agg.Snapshot()
	assert.Zero(t, snap.Total.Requests)
	assert.Zero(t, snap.Cache.Hits)
	assert.Empty(t, snap.ByProvider)
}

func TestSaveAndLoad(t *testing.T) {
	clock := newClock()
	s := store.NewMemoryStore()

	agg := NewAggregator(WithClock(clock.Now))
	agg.RecordAttempt(Event{Provider: "google", Outcome: OutcomeSuccess, Characters: 7})
	agg.RecordCacheHit()
	require.NoError(t, agg.Save(s))

	restored := NewAggregator(WithClock(clock.Now))
	require.NoError(t, restored.Load(s))
	snap := restored.Snapshot()
	assert.Equal(t, int64(7), snap.ByProvider["google"].Characters)
	assert.Equal(t, int64(1), snap.Today.Requests)
	assert.Equal(t, int64(1), snap.Cache.Hits)

	// 第二天加载时当日数据被丢弃
	clock.Set(clock.Now().Add(24 * time.Hour))
	nextDay := NewAggregator(WithClock(clock.Now))
	require.NoError(t, nextDay.Load(s))
	snap = nextDay.Snapshot()
	assert.Zero(t, snap.Today.Requests)
	assert.Equal(t, int64(1), snap.Total.Requests)
}

func TestLoadMissing(t *testing.T) {
	agg := NewAggregator()
	require.NoError(t, agg.Load(store.NewMemoryStore()))
	assert.Zero(t, agg.Snapshot().Total.Requests)
}

func TestAutoSaveFlushesOnCancel(t *testing.T) {
	s := store.NewMemoryStore()
	agg := NewAggregator()
	agg.RecordAttempt(Event{Provider: "google", Outcome: OutcomeSuccess})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.AutoSave(ctx, s, time.Hour)
		close(done)
	}()
	cancel()
	<-done

	var snap Snapshot
	ok, err := s.Get(StoreKey, &snap)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.Total.Requests)
}

func TestConcurrentRecording(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.RecordAttempt(Event{Provider: "google", Outcome: OutcomeSuccess, Characters: 1})
			agg.RecordCacheMiss()
		}()
	}
	wg.Wait()

	snap := agg.Snapshot()
	assert.Equal(t, int64(50), snap.ByProvider["google"].Requests)
	assert.Equal(t, int64(50), snap.Cache.Misses)
}

func TestWriteTable(t *testing.T) {
	agg := NewAggregator()
	agg.RecordAttempt(Event{Provider: "google", Outcome: OutcomeSuccess, Characters: 5})

	var buf bytes.Buffer
	WriteTable(&buf, agg.Snapshot())
	out := buf.String()
	assert.Contains(t, out, "google")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "cache: 0 hits")
}
