package stats

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-translator-hub/pkg/store"
)

// StoreKey 统计数据在键值存储中的键
const StoreKey = "stats"

// Outcome 单个提供商一次调度的结果
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Event 一个提供商在一次请求中的最终结果（含重试）
type Event struct {
	Provider   string
	Model      string
	Outcome    Outcome
	Characters int
	TokensIn   int
	TokensOut  int
	Cost       float64
	Latency    time.Duration
	ErrorKind  string
	Attempts   int
	Timestamp  time.Time
}

// Counters 计数器
type Counters struct {
	Requests     int64            `json:"requests"`
	Successes    int64            `json:"successes"`
	Failures     int64            `json:"failures"`
	Cancelled    int64            `json:"cancelled"`
	Retries      int64            `json:"retries"`
	Characters   int64            `json:"characters"`
	TokensIn     int64            `json:"tokens_in"`
	TokensOut    int64            `json:"tokens_out"`
	Cost         float64          `json:"cost"`
	TotalLatency time.Duration    `json:"total_latency"`
	MinLatency   time.Duration    `json:"min_latency"`
	MaxLatency   time.Duration    `json:"max_latency"`
	Errors       map[string]int64 `json:"errors,omitempty"`
	LastRequest  time.Time        `json:"last_request,omitempty"`
}

// SuccessRate 成功率，取消的调用不计入分母
func (c Counters) SuccessRate() float64 {
	finished := c.Successes + c.Failures
	if finished == 0 {
		return 0
	}
	return float64(c.Successes) / float64(finished)
}

// AverageLatency 平均延迟
func (c Counters) AverageLatency() time.Duration {
	if c.Requests == 0 {
		return 0
	}
	return c.TotalLatency / time.Duration(c.Requests)
}

func (c *Counters) add(ev Event) {
	c.Requests++
	switch ev.Outcome {
	case OutcomeSuccess:
		c.Successes++
		c.Characters += int64(ev.Characters)
		c.TokensIn += int64(ev.TokensIn)
		c.TokensOut += int64(ev.TokensOut)
		c.Cost += ev.Cost
	case OutcomeCancelled:
		c.Cancelled++
	default:
		c.Failures++
		if ev.ErrorKind != "" {
			if c.Errors == nil {
				c.Errors = make(map[string]int64)
			}
			c.Errors[ev.ErrorKind]++
		}
	}
	if ev.Attempts > 1 {
		c.Retries += int64(ev.Attempts - 1)
	}

	c.TotalLatency += ev.Latency
	if c.MinLatency == 0 || ev.Latency < c.MinLatency {
		c.MinLatency = ev.Latency
	}
	if ev.Latency > c.MaxLatency {
		c.MaxLatency = ev.Latency
	}
	if ev.Timestamp.After(c.LastRequest) {
		c.LastRequest = ev.Timestamp
	}
}

func (c Counters) clone() Counters {
	out := c
	if c.Errors != nil {
		out.Errors = make(map[string]int64, len(c.Errors))
		for k, v := range c.Errors {
			out.Errors[k] = v
		}
	}
	return out
}

// DayCounters 当日计数，日期为本地时区 YYYY-MM-DD
type DayCounters struct {
	Date string `json:"date"`
	Counters
}

// CacheCounters 缓存命中统计
type CacheCounters struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate 命中率
func (c CacheCounters) HitRate() float64 {
	if c.Hits+c.Misses == 0 {
		return 0
	}
	return float64(c.Hits) / float64(c.Hits+c.Misses)
}

// Snapshot 统计快照
type Snapshot struct {
	Total      Counters            `json:"total"`
	Today      DayCounters         `json:"today"`
	ByProvider map[string]Counters `json:"by_provider"`
	Cache      CacheCounters       `json:"cache"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Providers 按 ID 排序的提供商列表
func (s Snapshot) Providers() []string {
	ids := make([]string, 0, len(s.ByProvider))
	for id := range s.ByProvider {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Aggregator 统计聚合器
type Aggregator struct {
	mu         sync.Mutex
	now        func() time.Time
	logger     *zap.Logger
	total      Counters
	today      DayCounters
	byProvider map[string]*Counters
	cache      CacheCounters
	updatedAt  time.Time
}

// Option 聚合器选项
type Option func(*Aggregator)

// WithClock 注入时钟，决定“今日”的边界
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// NewAggregator 创建统计聚合器
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:        time.Now,
		logger:     zap.NewNop(),
		byProvider: make(map[string]*Counters),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.today.Date = a.dayKey(a.now())
	return a
}

func (a *Aggregator) dayKey(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

// rollDay 跨过本地午夜时重置当日计数，调用方需持有锁
func (a *Aggregator) rollDay(now time.Time) {
	if day := a.dayKey(now); day != a.today.Date {
		a.today = DayCounters{Date: day}
	}
}

// RecordAttempt 记录一个提供商的调度结果
func (a *Aggregator) RecordAttempt(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	a.rollDay(now)

	a.total.add(ev)
	a.today.add(ev)

	c, ok := a.byProvider[ev.Provider]
	if !ok {
		c = &Counters{}
		a.byProvider[ev.Provider] = c
	}
	c.add(ev)
	a.updatedAt = now
}

// RecordCacheHit 记录缓存命中
func (a *Aggregator) RecordCacheHit() {
	a.mu.Lock()
	a.cache.Hits++
	a.updatedAt = a.now()
	a.mu.Unlock()
}

// RecordCacheMiss 记录缓存未命中
func (a *Aggregator) RecordCacheMiss() {
	a.mu.Lock()
	a.cache.Misses++
	a.updatedAt = a.now()
	a.mu.Unlock()
}

// Snapshot 返回统计副本
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rollDay(a.now())
	snap := Snapshot{
		Total:      a.total.clone(),
		Today:      DayCounters{Date: a.today.Date, Counters: a.today.Counters.clone()},
		ByProvider: make(map[string]Counters, len(a.byProvider)),
		Cache:      a.cache,
		UpdatedAt:  a.updatedAt,
	}
	for id, c := range a.byProvider {
		snap.ByProvider[id] = c.clone()
	}
	return snap
}

// Clear 清空全部统计
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = Counters{}
	a.today = DayCounters{Date: a.dayKey(a.now())}
	a.byProvider = make(map[string]*Counters)
	a.cache = CacheCounters{}
	a.updatedAt = time.Time{}
}

// Restore 用快照覆盖当前统计，过期的当日数据会被丢弃
func (a *Aggregator) Restore(snap Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = snap.Total.clone()
	a.today = DayCounters{Date: snap.Today.Date, Counters: snap.Today.Counters.clone()}
	a.rollDay(a.now())
	a.byProvider = make(map[string]*Counters, len(snap.ByProvider))
	for id, c := range snap.ByProvider {
		cc := c.clone()
		a.byProvider[id] = &cc
	}
	a.cache = snap.Cache
	a.updatedAt = snap.UpdatedAt
}

// Save 保存到键值存储
func (a *Aggregator) Save(s store.Store) error {
	if err := s.Set(StoreKey, a.Snapshot()); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	a.logger.Debug("stats saved")
	return nil
}

// Load 从键值存储加载，不存在时保持为空
func (a *Aggregator) Load(s store.Store) error {
	var snap Snapshot
	ok, err := s.Get(StoreKey, &snap)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	if !ok {
		a.logger.Debug("no saved stats found, starting fresh")
		return nil
	}
	a.Restore(snap)
	return nil
}

// AutoSave 定期保存，ctx 结束时再保存一次后返回
func (a *Aggregator) AutoSave(ctx context.Context, s store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.Save(s); err != nil {
				a.logger.Error("failed to save stats on shutdown", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := a.Save(s); err != nil {
				a.logger.Error("failed to auto-save stats", zap.Error(err))
			}
		}
	}
}

// WriteTable 以表格形式输出快照
func WriteTable(w io.Writer, snap Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Provider Statistics")
	t.AppendHeader(table.Row{"Provider", "Requests", "Success", "Failed", "Cancelled", "Success%", "Avg Latency", "Chars", "Tokens", "Cost"})

	for _, id := range snap.Providers() {
		c := snap.ByProvider[id]
		t.AppendRow(table.Row{
			runewidth.Truncate(id, 20, "..."),
			c.Requests,
			c.Successes,
			c.Failures,
			c.Cancelled,
			fmt.Sprintf("%.1f%%", c.SuccessRate()*100),
			c.AverageLatency().Round(time.Millisecond),
			c.Characters,
			c.TokensIn + c.TokensOut,
			fmt.Sprintf("$%.4f", c.Cost),
		})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"today " + snap.Today.Date, snap.Today.Requests, snap.Today.Successes, snap.Today.Failures,
		snap.Today.Cancelled, fmt.Sprintf("%.1f%%", snap.Today.SuccessRate()*100),
		snap.Today.AverageLatency().Round(time.Millisecond), snap.Today.Characters,
		snap.Today.TokensIn + snap.Today.TokensOut, fmt.Sprintf("$%.4f", snap.Today.Cost)})
	t.AppendFooter(table.Row{"total", snap.Total.Requests, snap.Total.Successes, snap.Total.Failures,
		snap.Total.Cancelled, fmt.Sprintf("%.1f%%", snap.Total.SuccessRate()*100),
		snap.Total.AverageLatency().Round(time.Millisecond), snap.Total.Characters,
		snap.Total.TokensIn + snap.Total.TokensOut, fmt.Sprintf("$%.4f", snap.Total.Cost)})
	t.Render()

	fmt.Fprintf(w, "cache: %d hits, %d misses (%.1f%% hit rate)\n",
		snap.Cache.Hits, snap.Cache.Misses, snap.Cache.HitRate()*100)
}
