package translation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

// QuotaReport 一次配额查询的结果
type QuotaReport struct {
	Provider  string               `json:"provider"`
	Info      *providers.QuotaInfo `json:"info,omitempty"`
	Err       error                `json:"-"`
	CheckedAt time.Time            `json:"checked_at"`
}

// Supported 提供商是否支持配额查询
func (r QuotaReport) Supported() bool {
	return !errors.Is(r.Err, providers.ErrQuotaUnsupported)
}

// QuotaTracker 配额查询，仅作参考，调度不依赖配额
type QuotaTracker struct {
	registry *providers.Registry
	logger   *zap.Logger

	mu   sync.Mutex
	last map[string]QuotaReport
}

// NewQuotaTracker 创建配额查询器
func NewQuotaTracker(registry *providers.Registry, logger *zap.Logger) *QuotaTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaTracker{registry: registry, logger: logger, last: make(map[string]QuotaReport)}
}

// CheckQuota 查询单个提供商，不支持时返回 ErrQuotaUnsupported
func (q *QuotaTracker) CheckQuota(ctx context.Context, id string) (*providers.QuotaInfo, error) {
	adapter, err := q.registry.Get(id)
	if err != nil {
		return nil, err
	}
	info, err := adapter.GetQuota(ctx)
	if err == nil && info == nil {
		err = providers.ErrQuotaUnsupported
	}

	q.mu.Lock()
	q.last[adapterID(adapter)] = QuotaReport{Provider: adapterID(adapter), Info: info, Err: err, CheckedAt: time.Now()}
	q.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ratio := info.UsageRatio(); ratio >= 0.9 {
		q.logger.Warn("provider quota nearly exhausted",
			zap.String("provider", adapterID(adapter)),
			zap.Int64("used", info.Used),
			zap.Int64("limit", info.Limit))
	}
	return info, nil
}

// CheckAll 并发查询多个提供商，结果按 ID 排序
func (q *QuotaTracker) CheckAll(ctx context.Context, ids []string) []QuotaReport {
	reports := make([]QuotaReport, len(ids))
	var g errgroup.Group
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			info, err := q.CheckQuota(ctx, id)
			reports[i] = QuotaReport{Provider: id, Info: info, Err: err, CheckedAt: time.Now()}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(reports, func(i, j int) bool { return reports[i].Provider < reports[j].Provider })
	return reports
}

// Last 最近一次查询结果
func (q *QuotaTracker) Last(id string) (QuotaReport, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.last[id]
	return r, ok
}

// Watch 周期性查询，立即执行一次，直到 ctx 结束
func (q *QuotaTracker) Watch(ctx context.Context, ids []string, interval time.Duration, fn func([]QuotaReport)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reports := q.CheckAll(ctx, ids)
		if ctx.Err() != nil {
			return
		}
		if fn != nil {
			fn(reports)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
