package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

// Unbounded 表示没有剩余时间限制
const Unbounded time.Duration = -1

// Policy 重试策略
type Policy struct {
	// 最大重试次数，单个提供商最多尝试 MaxRetries+1 次
	MaxRetries int `json:"max_retries"`

	// 初始延迟
	BaseDelay time.Duration `json:"base_delay"`

	// 最大延迟
	MaxDelay time.Duration `json:"max_delay"`

	// 退避因子
	Multiplier float64 `json:"multiplier"`

	// 抖动比例，0 到 1
	Jitter float64 `json:"jitter"`

	rand func() float64
}

// DefaultPolicy 返回默认重试策略
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// WithRand 替换随机源，测试中用于固定抖动
func (p Policy) WithRand(fn func() float64) Policy {
	p.rand = fn
	return p
}

// MaxAttempts 单个提供商的最大尝试次数
func (p Policy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Decision 重试决策
type Decision struct {
	Retry bool
	Delay time.Duration
}

// ShouldRetry 判断第 attempt 次失败后是否重试（attempt 从 1 开始）
//
// remaining 为请求剩余预算，Unbounded 表示不限制；
// 等待时间超出剩余预算时不再重试。
func (p Policy) ShouldRetry(attempt int, kind providers.ErrorKind, remaining time.Duration) Decision {
	return p.decide(attempt, kind, 0, remaining)
}

// Decide 与 ShouldRetry 相同，但从错误中推断类别，并以 Retry-After 作为延迟下限
func (p Policy) Decide(attempt int, err error, remaining time.Duration) Decision {
	var hint time.Duration
	var pe *providers.Error
	if errors.As(err, &pe) {
		hint = pe.RetryAfter
	}
	return p.decide(attempt, Classify(err), hint, remaining)
}

func (p Policy) decide(attempt int, kind providers.ErrorKind, hint, remaining time.Duration) Decision {
	if !kind.Transient() || attempt >= p.MaxAttempts() {
		return Decision{}
	}
	delay := p.Backoff(attempt)
	if hint > delay {
		delay = hint
	}
	if remaining != Unbounded && delay >= remaining {
		return Decision{}
	}
	return Decision{Retry: true, Delay: delay}
}

// Backoff 第 attempt 次失败后的等待时间
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}

	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.Jitter > 0 {
		r := rand.Float64
		if p.rand != nil {
			r = p.rand
		}
		j := math.Min(p.Jitter, 1)
		delay += delay * j * (2*r() - 1)
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
