package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

var (
	rateLimitPatterns = []string{"rate limit", "rate_limit", "too many requests", "429"}
	authPatterns      = []string{"unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"}
	timeoutPatterns   = []string{"timeout", "timed out", "deadline exceeded"}
	networkPatterns   = []string{
		"connection refused",
		"connection reset",
		"temporary failure",
		"network is unreachable",
		"no such host",
		"broken pipe",
		"server error",
		"bad gateway",
		"service unavailable",
		"unexpected eof",
	}
)

// Classify 将任意错误映射为错误类别
func Classify(err error) providers.ErrorKind {
	if err == nil {
		return ""
	}

	var pe *providers.Error
	if errors.As(err, &pe) {
		return pe.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return providers.KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return providers.KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return providers.KindTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && urlErr.Err != err {
		if k := Classify(urlErr.Err); k != providers.KindUnknown {
			return k
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return providers.KindTransient
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return providers.KindTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitPatterns):
		return providers.KindRateLimited
	case containsAny(msg, authPatterns):
		return providers.KindUnauthenticated
	case containsAny(msg, timeoutPatterns):
		return providers.KindTimeout
	case containsAny(msg, networkPatterns):
		return providers.KindTransient
	}
	return providers.KindUnknown
}

// IsTransient 错误是否可重试
func IsTransient(err error) bool {
	return Classify(err).Transient()
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
