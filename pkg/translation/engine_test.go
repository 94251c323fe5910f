package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/google"
)

type translateFunc func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error)

type fakeAdapter struct {
	id        string
	pricing   providers.Pricing
	rateLimit *providers.RateLimit
	fn        translateFunc

	mu    sync.Mutex
	calls int
}

func newFake(id string, fn translateFunc) *fakeAdapter {
	return &fakeAdapter{id: id, fn: fn}
}

func (f *fakeAdapter) Info() providers.Info {
	return providers.Info{
		ID: f.id, Name: f.id, Category: providers.CategoryTraditional,
		Pricing: f.pricing, RateLimit: f.rateLimit,
	}
}

func (f *fakeAdapter) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.fn == nil {
		return &providers.ProviderResponse{Text: f.id + ":" + req.Text}, nil
	}
	return f.fn(ctx, call, req)
}

func (f *fakeAdapter) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	return &providers.Detection{Language: "en", Confidence: 1}, nil
}

func (f *fakeAdapter) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	if cfg.APIKey == "" {
		return providers.NewError(f.id, providers.KindUnauthenticated, "api key is required")
	}
	return nil
}

func (f *fakeAdapter) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return &providers.QuotaInfo{Used: 10, Limit: 100, Unit: providers.QuotaCharacter}, nil
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func failWith(kind providers.ErrorKind) translateFunc {
	return func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
		return nil, providers.NewError("fake", kind, "scripted failure")
	}
}

func blockUntilDone(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

var fixedNow = time.Date(2024, 5, 14, 10, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, adapters ...providers.Adapter) (*Engine, *sleepRecorder) {
	t.Helper()
	reg := providers.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, reg.Register(a))
	}
	cfg := DefaultEngineConfig()
	cfg.Retry.Jitter = 0
	e := NewEngine(reg, cfg, WithClock(func() time.Time { return fixedNow }))
	rec := &sleepRecorder{}
	e.sleep = rec.sleep
	return e, rec
}

func managerConfig(primary string, fallbacks ...string) ManagerConfig {
	settings := map[string]providers.Settings{primary: {Enabled: true}}
	for _, id := range fallbacks {
		settings[id] = providers.Settings{Enabled: true}
	}
	opts := DefaultManagerOptions()
	opts.Timeout = 5 * time.Second
	return ManagerConfig{
		Version:           1,
		PrimaryProvider:   primary,
		FallbackProviders: fallbacks,
		Providers:         settings,
		Options:           opts,
	}
}

func helloRequest() Request {
	return Request{Text: "Hello", SourceLang: "en", TargetLang: "zh"}
}

func TestSecondIdenticalRequestServedFromCache(t *testing.T) {
	a := newFake("a", nil)
	b := newFake("b", nil)
	e, _ := newTestEngine(t, a, b)
	cfg := managerConfig("a", "b")

	first, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	req := helloRequest()
	req.Options.PreferredProvider = "b"
	second, err := e.Translate(context.Background(), req, cfg)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, "a", second.Provider)
	assert.Equal(t, first.TranslatedText, second.TranslatedText)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 0, b.Calls())

	snap := e.GetStats()
	assert.Equal(t, int64(1), snap.Cache.Hits)
	assert.Equal(t, int64(1), snap.Cache.Misses)
	assert.Equal(t, int64(1), snap.Total.Requests)
}

func TestCacheKeyIgnoresWhitespaceAndTagCase(t *testing.T) {
	a := newFake("a", nil)
	e, _ := newTestEngine(t, a)
	cfg := managerConfig("a")

	_, err := e.Translate(context.Background(), Request{Text: "Hello", SourceLang: "EN", TargetLang: "zh-cn"}, cfg)
	require.NoError(t, err)
	resp, err := e.Translate(context.Background(), Request{Text: "  Hello\n", SourceLang: "en", TargetLang: "zh-CN"}, cfg)
	require.NoError(t, err)

	assert.True(t, resp.FromCache)
	assert.Equal(t, 1, a.Calls())
}

func TestClearCacheReinvokesProviders(t *testing.T) {
	a := newFake("a", nil)
	e, _ := newTestEngine(t, a)
	cfg := managerConfig("a")

	_, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)
	e.ClearCache()
	assert.Equal(t, 0, e.Cache().Size())

	resp, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, 2, a.Calls())
}

func TestCachingDisabledSkipsCache(t *testing.T) {
	a := newFake("a", nil)
	e, _ := newTestEngine(t, a)
	cfg := managerConfig("a")
	cfg.Options.CacheResults = false

	for i := 0; i < 2; i++ {
		_, err := e.Translate(context.Background(), helloRequest(), cfg)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, 0, e.Cache().Size())
	assert.Zero(t, e.GetStats().Cache.Hits+e.GetStats().Cache.Misses)
}

func TestRetryThenSuccessOnPrimary(t *testing.T) {
	for _, retries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			a := newFake("a", func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
				if call <= retries {
					return nil, providers.NewError("a", providers.KindTransient, "bad gateway")
				}
				return &providers.ProviderResponse{Text: "ok"}, nil
			})
			b := newFake("b", nil)
			e, rec := newTestEngine(t, a, b)
			cfg := managerConfig("a", "b")
			cfg.Options.RetryCount = retries

			resp, err := e.Translate(context.Background(), helloRequest(), cfg)
			require.NoError(t, err)
			assert.Equal(t, "a", resp.Provider)
			assert.Equal(t, "ok", resp.TranslatedText)
			assert.Equal(t, retries+1, a.Calls())
			assert.Equal(t, 0, b.Calls())
			assert.Len(t, rec.delays, retries)

			counters := e.GetStats().ByProvider["a"]
			assert.Equal(t, int64(1), counters.Successes)
			assert.Equal(t, int64(retries), counters.Retries)
		})
	}
}

func TestBackoffGrowsAndHonorsRetryAfter(t *testing.T) {
	a := newFake("a", func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
		if call == 1 {
			return nil, &providers.Error{Provider: "a", Kind: providers.KindRateLimited, RetryAfter: 3 * time.Second}
		}
		if call == 2 {
			return nil, providers.NewError("a", providers.KindTimeout, "slow")
		}
		return &providers.ProviderResponse{Text: "ok"}, nil
	})
	e, rec := newTestEngine(t, a)
	cfg := managerConfig("a")
	cfg.Options.RetryCount = 2
	cfg.Options.Timeout = time.Minute

	_, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)
	require.Len(t, rec.delays, 2)
	assert.Equal(t, 3*time.Second, rec.delays[0])
	assert.Equal(t, time.Second, rec.delays[1])
}

func TestNoRetryWhenDelayExceedsDeadline(t *testing.T) {
	a := newFake("a", func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
		return nil, &providers.Error{Provider: "a", Kind: providers.KindRateLimited, RetryAfter: time.Hour}
	})
	e, rec := newTestEngine(t, a)
	cfg := managerConfig("a")
	cfg.Options.RetryCount = 3

	_, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.Error(t, err)
	assert.Equal(t, 1, a.Calls())
	assert.Empty(t, rec.delays)
}

func TestFallbackStopsAtFirstSuccess(t *testing.T) {
	a := newFake("a", failWith(providers.KindUnauthenticated))
	b := newFake("b", nil)
	c := newFake("c", nil)
	e, _ := newTestEngine(t, a, b, c)
	cfg := managerConfig("a", "b", "c")

	resp, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, "b:Hello", resp.TranslatedText)
	assert.Equal(t, 1, a.Calls(), "permanent errors are not retried")
	assert.Equal(t, 1, b.Calls())
	assert.Equal(t, 0, c.Calls())

	snap := e.GetStats()
	assert.Equal(t, int64(1), snap.ByProvider["a"].Failures)
	assert.Equal(t, int64(1), snap.ByProvider["a"].Errors[string(providers.KindUnauthenticated)])
	assert.Equal(t, int64(1), snap.ByProvider["b"].Successes)
	assert.NotContains(t, snap.ByProvider, "c")
}

func TestFallbackDisabledStopsAfterPrimary(t *testing.T) {
	a := newFake("a", failWith(providers.KindQuotaExceeded))
	b := newFake("b", nil)
	e, _ := newTestEngine(t, a, b)
	cfg := managerConfig("a", "b")
	cfg.Options.AutoFallback = false

	_, err := e.Translate(context.Background(), helloRequest(), cfg)
	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, []string{"a"}, ee.Providers())
	assert.Equal(t, 0, b.Calls())
}

func TestUnsupportedLanguageFallsBack(t *testing.T) {
	a := newFake("a", failWith(providers.KindUnsupportedLanguage))
	b := newFake("b", nil)
	e, _ := newTestEngine(t, a, b)

	resp, err := e.Translate(context.Background(), helloRequest(), managerConfig("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
}

func TestParallelRaceFirstSuccessWins(t *testing.T) {
	var entered sync.WaitGroup
	entered.Add(2)
	canceled := make(chan string, 2)

	slow := func(id string) translateFunc {
		return func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
			entered.Done()
			<-ctx.Done()
			canceled <- id
			return nil, providers.TransportError(id, ctx.Err())
		}
	}
	a := newFake("a", slow("a"))
	c := newFake("c", slow("c"))
	b := newFake("b", func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
		entered.Wait()
		return &providers.ProviderResponse{Text: "from b"}, nil
	})

	e, _ := newTestEngine(t, a, b, c)
	cfg := managerConfig("a", "b", "c")
	cfg.Options.ParallelTranslation = true

	resp, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, "from b", resp.TranslatedText)

	got := []string{<-canceled, <-canceled}
	assert.ElementsMatch(t, []string{"a", "c"}, got)
	assert.Equal(t, 1, a.Calls(), "cancelled losers are not retried")
	assert.Equal(t, 1, c.Calls())

	snap := e.GetStats()
	for _, id := range []string{"a", "c"} {
		counters := snap.ByProvider[id]
		assert.Equal(t, int64(1), counters.Cancelled, id)
		assert.Zero(t, counters.Failures, id)
		assert.Zero(t, counters.Successes, id)
	}
	assert.Equal(t, int64(1), snap.ByProvider["b"].Successes)
}

func TestParallelRaceRespectsMaxParallel(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	work := func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil, providers.NewError("x", providers.KindUnauthenticated, "nope")
	}
	a, b, c := newFake("a", work), newFake("b", work), newFake("c", work)
	e, _ := newTestEngine(t, a, b, c)
	e.cfg.MaxParallel = 1
	cfg := managerConfig("a", "b", "c")
	cfg.Options.ParallelTranslation = true

	_, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.Error(t, err)
	assert.Equal(t, 1, peak)
}

func TestExhaustionListsAttemptsInCandidateOrder(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(map[bool]string{false: "sequential", true: "parallel"}[parallel], func(t *testing.T) {
			delayed := func(d time.Duration, kind providers.ErrorKind) translateFunc {
				return func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
					time.Sleep(d)
					return nil, providers.NewError("x", kind, "failed")
				}
			}
			a := newFake("a", delayed(30*time.Millisecond, providers.KindUnauthenticated))
			b := newFake("b", delayed(20*time.Millisecond, providers.KindQuotaExceeded))
			c := newFake("c", delayed(0, providers.KindUnsupportedLanguage))
			disabled := newFake("d", nil)
			e, _ := newTestEngine(t, a, b, c, disabled)

			cfg := managerConfig("a", "b", "missing", "c", "d")
			cfg.Providers["d"] = providers.Settings{Enabled: false}
			cfg.Options.ParallelTranslation = parallel

			_, err := e.Translate(context.Background(), helloRequest(), cfg)
			var ee *ExhaustedError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, []string{"a", "b", "c"}, ee.Providers())
			assert.Equal(t, []providers.ErrorKind{
				providers.KindUnauthenticated, providers.KindQuotaExceeded, providers.KindUnsupportedLanguage,
			}, ee.Kinds())
			assert.Equal(t, 0, disabled.Calls())
			assert.Contains(t, err.Error(), "all providers exhausted")

			var pe *providers.Error
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestProviderRejectionFallsBack(t *testing.T) {
	a := newFake("a", failWith(providers.KindRejected))
	b := newFake("b", nil)
	e, _ := newTestEngine(t, a, b)

	resp, err := e.Translate(context.Background(), helloRequest(), managerConfig("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, 1, a.Calls(), "rejections are not retried")
	assert.Equal(t, 1, b.Calls())
}

func TestParallelRaceRejectionKeepsSiblingsRunning(t *testing.T) {
	rejected := make(chan struct{})
	a := newFake("a", func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
		defer close(rejected)
		return nil, providers.NewError("a", providers.KindRejected, "bad request")
	})
	b := newFake("b", func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
		<-rejected
		if err := ctx.Err(); err != nil {
			return nil, providers.TransportError("b", err)
		}
		return &providers.ProviderResponse{Text: "from b"}, nil
	})

	e, _ := newTestEngine(t, a, b)
	cfg := managerConfig("a", "b")
	cfg.Options.ParallelTranslation = true

	resp, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, 1, a.Calls())

	snap := e.GetStats()
	assert.Equal(t, int64(1), snap.ByProvider["a"].Failures)
	assert.Equal(t, int64(1), snap.ByProvider["b"].Successes)
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		cause error
	}{
		{"empty text", Request{Text: "  ", TargetLang: "zh"}, ErrEmptyText},
		{"missing target", Request{Text: "Hello"}, ErrInvalidLanguage},
		{"auto target", Request{Text: "Hello", TargetLang: "auto"}, ErrInvalidLanguage},
		{"bad source", Request{Text: "Hello", SourceLang: "not a tag!", TargetLang: "zh"}, ErrInvalidLanguage},
		{"bad formality", Request{Text: "Hello", TargetLang: "zh", Options: Options{Formality: "rude"}}, ErrInvalidOption},
		{"bad domain", Request{Text: "Hello", TargetLang: "zh", Options: Options{Domain: "poetry"}}, ErrInvalidOption},
		{"strict without preferred", Request{Text: "Hello", TargetLang: "zh", Options: Options{StrictProvider: true}}, ErrInvalidOption},
	}

	a := newFake("a", nil)
	e, _ := newTestEngine(t, a)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Translate(context.Background(), tt.req, managerConfig("a"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.cause)
			assert.Equal(t, providers.KindInvalidRequest, providers.KindOf(err))
		})
	}
	assert.Equal(t, 0, a.Calls())
}

func TestNoProviderAvailable(t *testing.T) {
	a := newFake("a", nil)
	e, _ := newTestEngine(t, a)
	cfg := managerConfig("a")
	cfg.Providers["a"] = providers.Settings{Enabled: false}

	_, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.Error(t, err)
	assert.Equal(t, providers.KindNoProviderAvailable, providers.KindOf(err))
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Equal(t, 0, a.Calls())
}

func TestCandidateOrder(t *testing.T) {
	tests := []struct {
		name      string
		preferred string
		strict    bool
		disable   []string
		pairs     map[string]string
		want      []string
	}{
		{name: "declared order", want: []string{"a", "b", "c"}},
		{name: "preferred first", preferred: "c", want: []string{"c", "a", "b"}},
		{name: "disabled preferred ignored", preferred: "c", disable: []string{"c"}, want: []string{"a", "b"}},
		{name: "strict", preferred: "b", strict: true, want: []string{"b"}},
		{name: "strict disabled", preferred: "b", strict: true, disable: []string{"b"}, want: []string{}},
		{name: "language pair", pairs: map[string]string{"en>zh": "c"}, want: []string{"c", "a", "b"}},
		{name: "wildcard pair", pairs: map[string]string{"*>zh": "b"}, want: []string{"b", "a", "c"}},
		{name: "other pair", pairs: map[string]string{"fr>zh": "c"}, want: []string{"a", "b", "c"}},
		{name: "preferred before pair", preferred: "b", pairs: map[string]string{"en>zh": "c"}, want: []string{"b", "c", "a"}},
		{name: "disabled primary", disable: []string{"a"}, want: []string{"b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, newFake("a", nil), newFake("b", nil), newFake("c", nil))
			cfg := managerConfig("a", "b", "c")
			cfg.LanguagePairPreferences = tt.pairs
			for _, id := range tt.disable {
				cfg.Providers[id] = providers.Settings{Enabled: false}
			}
			req := helloRequest()
			req.Options.PreferredProvider = tt.preferred
			req.Options.StrictProvider = tt.strict

			got := make([]string, 0)
			for _, a := range e.candidates(req, cfg) {
				got = append(got, adapterID(a))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrictProviderIgnoresOtherProvidersCache(t *testing.T) {
	a := newFake("a", nil)
	b := newFake("b", nil)
	e, _ := newTestEngine(t, a, b)
	cfg := managerConfig("a", "b")

	_, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)

	req := helloRequest()
	req.Options.PreferredProvider = "b"
	req.Options.StrictProvider = true
	resp, err := e.Translate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, 1, b.Calls())

	// 被拒绝的缓存条目按未命中计数，与统计保持一致
	m := e.Cache().Metrics()
	snap := e.GetStats()
	assert.Equal(t, snap.Cache.Hits, m.Hits)
	assert.Equal(t, snap.Cache.Misses, m.Misses)
	assert.Zero(t, m.Hits)

	// 缓存已被 b 的结果覆盖
	resp, err = e.Translate(context.Background(), req, cfg)
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, 1, b.Calls())
	assert.Equal(t, int64(1), e.Cache().Metrics().Hits)
	assert.Equal(t, int64(1), e.GetStats().Cache.Hits)
}

func TestTimeoutBoundsWholeRequest(t *testing.T) {
	a := newFake("a", blockUntilDone)
	b := newFake("b", nil)
	e, _ := newTestEngine(t, a, b)
	cfg := managerConfig("a", "b")
	cfg.Options.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, []providers.ErrorKind{providers.KindTimeout}, ee.Kinds())
	assert.Equal(t, 0, b.Calls())
}

func TestPerProviderTimeoutFallsBack(t *testing.T) {
	a := newFake("a", blockUntilDone)
	b := newFake("b", nil)
	e, _ := newTestEngine(t, a, b)
	cfg := managerConfig("a", "b")
	cfg.Options.RetryCount = 0
	cfg.Providers["a"] = providers.Settings{Enabled: true, Config: providers.AdapterConfig{Timeout: 20 * time.Millisecond}}

	resp, err := e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Equal(t, int64(1), e.GetStats().ByProvider["a"].Failures)
}

func TestCallerCancellation(t *testing.T) {
	a := newFake("a", blockUntilDone)
	e, _ := newTestEngine(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := e.Translate(ctx, helloRequest(), managerConfig("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), e.GetStats().ByProvider["a"].Cancelled)
}

func TestCostEstimatedFromPricing(t *testing.T) {
	a := newFake("a", nil)
	a.pricing = providers.Pricing{PerMillionChars: 2_000_000}
	b := newFake("b", func(ctx context.Context, call int, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
		return &providers.ProviderResponse{Text: "x", Characters: 7, Cost: 0.5}, nil
	})
	e, _ := newTestEngine(t, a, b)

	resp, err := e.Translate(context.Background(), helloRequest(), managerConfig("a"))
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Usage.Characters)
	assert.InDelta(t, 10.0, resp.Usage.Cost, 1e-9)

	cfg := managerConfig("b")
	cfg.Options.CacheResults = false
	resp, err = e.Translate(context.Background(), helloRequest(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, resp.Usage.Characters)
	assert.InDelta(t, 0.5, resp.Usage.Cost, 1e-9)

	assert.InDelta(t, 10.5, e.GetStats().Total.Cost, 1e-9)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	a := newFake("a", failWith(providers.KindTransient))
	reg := providers.NewRegistry()
	require.NoError(t, reg.Register(a))
	cfg := DefaultEngineConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Hour
	e := NewEngine(reg, cfg)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	mc := managerConfig("a")
	mc.Options.RetryCount = 0
	mc.Options.CacheResults = false
	for i := 0; i < 2; i++ {
		_, err := e.Translate(context.Background(), helloRequest(), mc)
		require.Error(t, err)
	}
	assert.Equal(t, 2, a.Calls())

	_, err := e.Translate(context.Background(), helloRequest(), mc)
	require.Error(t, err)
	assert.Equal(t, 2, a.Calls(), "open breaker must not reach the adapter")
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestRateLimitHintFailsFastInsideDeadline(t *testing.T) {
	a := newFake("a", nil)
	a.rateLimit = &providers.RateLimit{RequestsPerMinute: 1}
	e, _ := newTestEngine(t, a)

	mc := managerConfig("a")
	mc.Options.RetryCount = 0
	mc.Options.CacheResults = false
	mc.Options.Timeout = 50 * time.Millisecond

	_, err := e.Translate(context.Background(), helloRequest(), mc)
	require.NoError(t, err)

	start := time.Now()
	_, err = e.Translate(context.Background(), helloRequest(), mc)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, []providers.ErrorKind{providers.KindRateLimited}, ee.Kinds())
	assert.Equal(t, 1, a.Calls())
}

func TestGoogleHelloExample(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Hello", r.PostForm.Get("q"))
		assert.Equal(t, "zh-CN", r.PostForm.Get("target"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"translations":[{"translatedText":"你好","detectedSourceLanguage":"en"}]}}`))
	}))
	defer server.Close()

	g, err := google.New(providers.AdapterConfig{APIKey: "test-key", Endpoint: server.URL})
	require.NoError(t, err)
	e, _ := newTestEngine(t, g)

	resp, err := e.Translate(context.Background(),
		Request{Text: "Hello", SourceLang: "auto", TargetLang: "zh-CN"},
		managerConfig("google"))
	require.NoError(t, err)

	assert.Equal(t, "你好", resp.TranslatedText)
	assert.Equal(t, "google", resp.Provider)
	assert.Equal(t, "en", resp.DetectedSourceLanguage)
	assert.Equal(t, fixedNow.UnixMilli(), resp.Timestamp)
	assert.Equal(t, 5, resp.Usage.Characters)
	assert.Greater(t, resp.Usage.Cost, 0.0)
}

func TestGetQuotaAndValidateProvider(t *testing.T) {
	a := newFake("a", nil)
	e, _ := newTestEngine(t, a)

	q, err := e.GetQuota(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(90), q.Remaining())

	_, err = e.GetQuota(context.Background(), "nope")
	assert.ErrorIs(t, err, providers.ErrNotFound)

	assert.NoError(t, e.ValidateProvider(context.Background(), "a", providers.AdapterConfig{APIKey: "k"}))
	err = e.ValidateProvider(context.Background(), "a", providers.AdapterConfig{})
	assert.Equal(t, providers.KindUnauthenticated, providers.KindOf(err))

	// 未注册的提供商按配置临时创建
	err = e.ValidateProvider(context.Background(), "unknown-type", providers.AdapterConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider type")
}

func TestClearStats(t *testing.T) {
	a := newFake("a", nil)
	e, _ := newTestEngine(t, a)
	_, err := e.Translate(context.Background(), helloRequest(), managerConfig("a"))
	require.NoError(t, err)
	require.Equal(t, int64(1), e.GetStats().Total.Requests)

	e.ClearStats()
	assert.Zero(t, e.GetStats().Total.Requests)
}

func TestExhaustedErrorUnwrap(t *testing.T) {
	ee := &ExhaustedError{Attempts: []Attempt{
		{Provider: "a", Kind: providers.KindTimeout, Err: context.DeadlineExceeded},
		{Provider: "b", Kind: providers.KindUnauthenticated, Err: providers.NewError("b", providers.KindUnauthenticated, "bad key")},
	}}
	var err error = ee
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Contains(t, ee.Error(), "b [unauthenticated]")
}
