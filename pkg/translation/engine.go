package translation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/factory"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/retry"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/stats"
)

// EngineConfig 引擎自身的参数，与每次请求注入的 ManagerConfig 无关
type EngineConfig struct {
	CacheCapacity int           `json:"cache_capacity" mapstructure:"cache_capacity"`
	CacheTTL      time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`

	// Retry 退避参数，MaxRetries 由 ManagerOptions.RetryCount 覆盖
	Retry retry.Policy `json:"retry" mapstructure:"retry"`

	// MaxParallel 竞速模式的并发上限，0 表示全部候选同时发起
	MaxParallel int `json:"max_parallel" mapstructure:"max_parallel"`

	// BreakerFailures 连续失败多少次后熔断，0 表示关闭熔断
	BreakerFailures int           `json:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `json:"breaker_timeout" mapstructure:"breaker_timeout"`

	// RateLimit 按提供商声明的每分钟请求数限速
	RateLimit bool `json:"rate_limit" mapstructure:"rate_limit"`
}

// DefaultEngineConfig 默认引擎参数
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CacheCapacity:  DefaultCacheCapacity,
		CacheTTL:       DefaultCacheTTL,
		Retry:          retry.DefaultPolicy(),
		BreakerTimeout: 30 * time.Second,
		RateLimit:      true,
	}
}

// Engine 翻译调度引擎
type Engine struct {
	registry *providers.Registry
	cfg      EngineConfig
	cache    *Cache
	stats    *stats.Aggregator
	quota    *QuotaTracker
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock 注入时钟，用于响应时间戳
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithCache 使用外部缓存实例
func WithCache(c *Cache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithStats 使用外部统计聚合器
func WithStats(a *stats.Aggregator) EngineOption {
	return func(e *Engine) { e.stats = a }
}

// NewEngine 创建引擎
func NewEngine(registry *providers.Registry, cfg EngineConfig, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = providers.DefaultRegistry
	}
	e := &Engine{
		registry: registry,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		sleep:    sleepContext,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewCache(cfg.CacheCapacity, cfg.CacheTTL)
	}
	if e.stats == nil {
		e.stats = stats.NewAggregator(stats.WithLogger(e.logger))
	}
	e.quota = NewQuotaTracker(registry, e.logger)
	return e
}

// Cache 结果缓存
func (e *Engine) Cache() *Cache { return e.cache }

// Stats 统计聚合器
func (e *Engine) Stats() *stats.Aggregator { return e.stats }

// Quota 配额查询
func (e *Engine) Quota() *QuotaTracker { return e.quota }

// Registry 提供商注册表
func (e *Engine) Registry() *providers.Registry { return e.registry }

// GetStats 返回统计快照
func (e *Engine) GetStats() stats.Snapshot {
	return e.stats.Snapshot()
}

// ClearCache 清空结果缓存
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// ClearStats 清空统计
func (e *Engine) ClearStats() {
	e.stats.Clear()
}

// GetQuota 查询提供商配额
func (e *Engine) GetQuota(ctx context.Context, id string) (*providers.QuotaInfo, error) {
	return e.quota.CheckQuota(ctx, id)
}

// ValidateProvider 用给定配置探测提供商凭据，未注册的提供商按配置临时创建
func (e *Engine) ValidateProvider(ctx context.Context, id string, cfg providers.AdapterConfig) error {
	cfg = providers.NormalizeConfig(cfg)
	adapter, err := e.registry.Get(id)
	if err != nil {
		adapter, err = factory.Create(id, cfg)
		if err != nil {
			return err
		}
	}
	if err := adapter.Validate(ctx, cfg); err != nil {
		e.logger.Warn("provider validation failed", zap.String("provider", id), zap.Error(err))
		return err
	}
	e.logger.Info("provider validated", zap.String("provider", id))
	return nil
}

// providerResult 单个提供商（含重试）的最终结果
type providerResult struct {
	index    int
	id       string
	model    string
	resp     *providers.ProviderResponse
	err      error
	kind     providers.ErrorKind
	tries    int
	chars    int
	latency  time.Duration
	started  bool
	canceled bool
}

// Translate 执行一次翻译调度
//
// 流程：缓存查找、候选选择、逐个或竞速尝试，成功后写入缓存；
// 全部失败时返回 *ExhaustedError。
func (e *Engine) Translate(ctx context.Context, req Request, cfg ManagerConfig) (*Response, error) {
	requestID := uuid.NewString()
	log := e.logger.With(
		zap.String("request_id", requestID),
		zap.String("source", req.SourceLang),
		zap.String("target", req.TargetLang),
	)

	if err := req.Validate(); err != nil {
		log.Debug("invalid request", zap.Error(err))
		return nil, err
	}

	if cfg.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Options.Timeout)
		defer cancel()
	}

	fp := Fingerprint(req)
	if cfg.Options.CacheResults {
		usable := func(cached Response) bool { return cacheUsable(cached, req) }
		if cached, ok := e.cache.GetIf(fp, usable); ok {
			e.stats.RecordCacheHit()
			cached.FromCache = true
			log.Debug("cache hit", zap.String("provider", cached.Provider))
			return &cached, nil
		}
		e.stats.RecordCacheMiss()
	}

	candidates := e.candidates(req, cfg)
	if len(candidates) == 0 {
		log.Warn("no provider available",
			zap.String("primary", cfg.PrimaryProvider),
			zap.Strings("fallbacks", cfg.FallbackProviders))
		return nil, noProvider("no enabled and registered provider for this request")
	}

	policy := e.cfg.Retry
	policy.MaxRetries = cfg.Options.RetryCount
	preq := req.providerRequest()

	ids := make([]string, len(candidates))
	for i, a := range candidates {
		ids[i] = adapterID(a)
	}
	parallel := cfg.Options.ParallelTranslation && len(candidates) > 1
	log.Debug("translation started", zap.Strings("candidates", ids), zap.Bool("parallel", parallel))

	var (
		winner *providerResult
		err    error
	)
	if parallel {
		winner, err = e.race(ctx, candidates, preq, policy, cfg, log)
	} else {
		winner, err = e.sequential(ctx, candidates, preq, policy, cfg, log)
	}
	if err != nil {
		log.Warn("translation failed", zap.Error(err))
		return nil, err
	}

	resp := e.buildResponse(winner)
	if cfg.Options.CacheResults {
		e.cache.Put(fp, *resp, 0)
	}
	log.Info("translation completed",
		zap.String("provider", resp.Provider),
		zap.Int("characters", resp.Usage.Characters),
		zap.Duration("latency", winner.latency))
	return resp, nil
}

// cacheUsable 严格指定提供商时，其他提供商的缓存结果不可用
func cacheUsable(cached Response, req Request) bool {
	if !req.Options.StrictProvider {
		return true
	}
	return strings.EqualFold(cached.Provider, req.Options.PreferredProvider)
}

// candidates 按 偏好 > 语言对偏好 > 主提供商 > 备用提供商 排序的候选列表
func (e *Engine) candidates(req Request, cfg ManagerConfig) []providers.Adapter {
	preferred := strings.TrimSpace(req.Options.PreferredProvider)
	if req.Options.StrictProvider {
		return e.registry.ListEnabled(providers.Selection{Primary: preferred, Providers: cfg.Providers})
	}

	order := make([]string, 0, len(cfg.FallbackProviders)+3)
	if preferred != "" {
		order = append(order, preferred)
	}
	if pair := cfg.preferenceFor(req.SourceLang, req.TargetLang); pair != "" {
		order = append(order, pair)
	}
	order = append(order, cfg.PrimaryProvider)
	order = append(order, cfg.FallbackProviders...)

	return e.registry.ListEnabled(providers.Selection{
		Primary:   order[0],
		Fallbacks: order[1:],
		Providers: cfg.Providers,
	})
}

// sequential 逐个尝试候选提供商
func (e *Engine) sequential(ctx context.Context, candidates []providers.Adapter, preq *providers.ProviderRequest,
	policy retry.Policy, cfg ManagerConfig, log *zap.Logger,
) (*providerResult, error) {
	var failed []providerResult
	for i, adapter := range candidates {
		if ctx.Err() != nil {
			break
		}
		res := e.runProvider(ctx, i, adapter, preq, policy, cfg, log)
		e.record(res, res.canceled)
		if res.err == nil {
			return &res, nil
		}
		failed = append(failed, res)
		if res.canceled || !cfg.Options.AutoFallback {
			break
		}
		if i+1 < len(candidates) {
			log.Info("falling back",
				zap.String("from", res.id),
				zap.String("to", adapterID(candidates[i+1])),
				zap.String("kind", string(res.kind)))
		}
	}
	return nil, exhausted(ctx, failed)
}

// race 竞速模式：所有候选同时发起，第一个成功者胜出，其余被取消
func (e *Engine) race(ctx context.Context, candidates []providers.Adapter, preq *providers.ProviderRequest,
	policy retry.Policy, cfg ManagerConfig, log *zap.Logger,
) (*providerResult, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan providerResult, len(candidates))
	var g errgroup.Group
	if e.cfg.MaxParallel > 0 {
		g.SetLimit(e.cfg.MaxParallel)
	}
	go func() {
		for i, adapter := range candidates {
			g.Go(func() error {
				if raceCtx.Err() != nil {
					results <- providerResult{index: i, id: adapterID(adapter), err: raceCtx.Err()}
					return nil
				}
				results <- e.runProvider(raceCtx, i, adapter, preq, policy, cfg, log)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var (
		winner *providerResult
		failed []providerResult
	)
	for res := range results {
		if !res.started {
			continue
		}
		switch {
		case winner == nil && res.err == nil:
			r := res
			winner = &r
			cancel()
			e.record(res, false)
			log.Debug("race won", zap.String("provider", res.id))
		case winner != nil:
			// 胜负已定后返回的结果均视为被取消
			e.record(res, true)
		default:
			e.record(res, res.canceled)
			failed = append(failed, res)
		}
	}

	if winner != nil {
		return winner, nil
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].index < failed[j].index })
	return nil, exhausted(ctx, failed)
}

// runProvider 在重试策略下调用单个提供商
func (e *Engine) runProvider(ctx context.Context, index int, adapter providers.Adapter, preq *providers.ProviderRequest,
	policy retry.Policy, cfg ManagerConfig, log *zap.Logger,
) providerResult {
	id := adapterID(adapter)
	res := providerResult{index: index, id: id, started: true}
	start := time.Now()

	for attempt := 1; ; attempt++ {
		res.tries = attempt
		resp, err := e.call(ctx, id, adapter, preq, cfg)
		if err == nil {
			res.resp, res.err, res.kind = resp, nil, ""
			res.model = resp.Model
			res.chars = characters(resp, preq.Text)
			res.latency = time.Since(start)
			return res
		}

		res.err = err
		res.kind = retry.Classify(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.canceled = errors.Is(ctxErr, context.Canceled)
			if res.canceled {
				res.kind = providers.KindCanceled
			} else {
				res.kind = providers.KindTimeout
			}
			if !errors.Is(err, ctxErr) {
				res.err = providers.WrapError(id, res.kind, fmt.Errorf("%w: %v", ctxErr, err))
			}
			break
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		d := policy.Decide(attempt, err, remaining(ctx))
		if !d.Retry {
			break
		}
		log.Debug("retrying provider",
			zap.String("provider", id),
			zap.Int("attempt", attempt),
			zap.String("kind", string(res.kind)),
			zap.Duration("delay", d.Delay))
		if err := e.sleep(ctx, d.Delay); err != nil {
			res.canceled = errors.Is(err, context.Canceled)
			if res.canceled {
				res.kind = providers.KindCanceled
			} else {
				res.kind = providers.KindTimeout
			}
			break
		}
	}
	res.latency = time.Since(start)
	log.Debug("provider failed",
		zap.String("provider", id),
		zap.Int("tries", res.tries),
		zap.String("kind", string(res.kind)),
		zap.Error(res.err))
	return res
}

// call 单次调用：限速、熔断、单次超时
func (e *Engine) call(ctx context.Context, id string, adapter providers.Adapter, preq *providers.ProviderRequest,
	cfg ManagerConfig,
) (*providers.ProviderResponse, error) {
	info := adapter.Info()
	if e.cfg.RateLimit {
		if lim := e.limiter(id, info); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, providers.TransportError(id, ctx.Err())
				}
				return nil, &providers.Error{
					Provider: id, Kind: providers.KindRateLimited,
					Message: "rate limit wait exceeds request deadline", Cause: err,
				}
			}
		}
	}

	attemptCtx := ctx
	if s, ok := settingsFor(cfg.Providers, id); ok && s.Config.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.Config.Timeout)
		defer cancel()
	}

	cb := e.breaker(id)
	if cb == nil {
		return adapter.Translate(attemptCtx, preq)
	}
	out, err := cb.Execute(func() (interface{}, error) {
		return adapter.Translate(attemptCtx, preq)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &providers.Error{Provider: id, Kind: providers.KindTransient, Message: "circuit breaker open", Cause: err}
		}
		return nil, err
	}
	return out.(*providers.ProviderResponse), nil
}

// breaker 按需创建熔断器，未开启时返回 nil
func (e *Engine) breaker(id string) *gobreaker.CircuitBreaker {
	if e.cfg.BreakerFailures <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[id]; ok {
		return cb
	}
	threshold := uint32(e.cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     e.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 只有瞬时错误计入失败，凭据或请求错误不应熔断
		IsSuccessful: func(err error) bool {
			return err == nil || !retry.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	e.breakers[id] = cb
	return cb
}

// limiter 按提供商声明的每分钟请求数创建限速器
func (e *Engine) limiter(id string, info providers.Info) *rate.Limiter {
	if info.RateLimit == nil || info.RateLimit.RequestsPerMinute <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if lim, ok := e.limiters[id]; ok {
		return lim
	}
	rpm := info.RateLimit.RequestsPerMinute
	burst := rpm / 6
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
	e.limiters[id] = lim
	return lim
}

// record 每个实际发起的提供商记录一个统计事件
func (e *Engine) record(res providerResult, canceled bool) {
	ev := stats.Event{
		Provider: res.id,
		Model:    res.model,
		Latency:  res.latency,
		Attempts: res.tries,
	}
	switch {
	case canceled:
		ev.Outcome = stats.OutcomeCancelled
		ev.ErrorKind = string(providers.KindCanceled)
	case res.err == nil:
		ev.Outcome = stats.OutcomeSuccess
		if res.resp != nil {
			usage := e.usage(res, res.chars)
			ev.Characters = usage.Characters
			ev.TokensIn = usage.TokensIn
			ev.TokensOut = usage.TokensOut
			ev.Cost = usage.Cost
		}
	default:
		ev.Outcome = stats.OutcomeFailure
		ev.ErrorKind = string(res.kind)
	}
	e.stats.RecordAttempt(ev)
}

// usage 适配器未报告费用时按注册的计价信息估算
func (e *Engine) usage(res providerResult, chars int) Usage {
	u := Usage{
		Characters: chars,
		TokensIn:   res.resp.TokensIn,
		TokensOut:  res.resp.TokensOut,
		Cost:       res.resp.Cost,
	}
	if u.Cost == 0 {
		if info, ok := e.registry.Info(res.id); ok {
			u.Cost = info.Pricing.Estimate(u.Characters, u.TokensIn, u.TokensOut)
		}
	}
	return u
}

func (e *Engine) buildResponse(res *providerResult) *Response {
	pr := res.resp
	return &Response{
		TranslatedText:         pr.Text,
		DetectedSourceLanguage: pr.DetectedSourceLanguage,
		Confidence:             pr.Confidence,
		Alternatives:           pr.Alternatives,
		Provider:               res.id,
		Model:                  pr.Model,
		Timestamp:              e.now().UnixMilli(),
		Usage:                  e.usage(*res, res.chars),
	}
}

// characters 适配器未报告字符数时按源文本计
func characters(pr *providers.ProviderResponse, text string) int {
	if pr.Characters > 0 {
		return pr.Characters
	}
	return utf8.RuneCountInString(text)
}

func exhausted(ctx context.Context, failed []providerResult) error {
	attempts := make([]Attempt, 0, len(failed))
	for _, f := range failed {
		attempts = append(attempts, Attempt{Provider: f.id, Kind: f.kind, Tries: f.tries, Err: f.err})
	}
	if len(attempts) == 0 && ctx.Err() != nil {
		kind := providers.KindCanceled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = providers.KindTimeout
		}
		attempts = append(attempts, Attempt{Kind: kind, Err: ctx.Err()})
	}
	return &ExhaustedError{Attempts: attempts}
}

func adapterID(a providers.Adapter) string {
	return strings.ToLower(strings.TrimSpace(a.Info().ID))
}

func settingsFor(settings map[string]providers.Settings, id string) (providers.Settings, bool) {
	if s, ok := settings[id]; ok {
		return s, true
	}
	for k, s := range settings {
		if strings.EqualFold(strings.TrimSpace(k), id) {
			return s, true
		}
	}
	return providers.Settings{}, false
}

// remaining 请求剩余预算
func remaining(ctx context.Context) time.Duration {
	dl, ok := ctx.Deadline()
	if !ok {
		return retry.Unbounded
	}
	if d := time.Until(dl); d > 0 {
		return d
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
