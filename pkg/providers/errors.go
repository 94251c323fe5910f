package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindRejected            ErrorKind = "rejected"
	KindUnauthenticated     ErrorKind = "unauthenticated"
	KindUnsupportedLanguage ErrorKind = "unsupported_language"
	KindRateLimited         ErrorKind = "rate_limited"
	KindTransient           ErrorKind = "transient"
	KindTimeout             ErrorKind = "timeout"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"
	KindCanceled            ErrorKind = "canceled"
	KindNoProviderAvailable ErrorKind = "no_provider_available"
	KindUnknown             ErrorKind = "unknown"
)

// Transient 是否为可重试的瞬时错误
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTransient, KindTimeout, KindRateLimited:
		return true
	default:
		return false
	}
}

// ErrNotFound 提供商未注册
var ErrNotFound = errors.New("provider not found")

// Error 提供商错误
type Error struct {
	Provider   string        `json:"provider,omitempty"`
	Kind       ErrorKind     `json:"kind"`
	StatusCode int           `json:"status_code,omitempty"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cause      error         `json:"-"`

	// Body 非 2xx 响应的原始响应体，供适配器细化错误类别
	Body []byte `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Cause != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable 判断错误是否可重试
func (e *Error) IsRetryable() bool {
	return e.Kind.Transient()
}

// NewError 创建提供商错误
func NewError(provider string, kind ErrorKind, message string) *Error {
	return &Error{Provider: provider, Kind: kind, Message: message}
}

// WrapError 包装底层错误
func WrapError(provider string, kind ErrorKind, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Provider: provider, Kind: kind, Message: msg, Cause: cause}
}

// KindOf 取出错误类别，非 *Error 返回 KindUnknown
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// KindForStatus HTTP 状态码到错误类别的映射
//
// 提供商拒绝请求（400/413/422）只影响该提供商，不重试但可回退；
// KindInvalidRequest 仅用于引擎自身的请求校验。
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnprocessableEntity:
		return KindRejected
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindUnauthenticated
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == 456: // DeepL: quota exceeded
		return KindQuotaExceeded
	case status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

// FromHTTPStatus 根据响应状态构造错误
func FromHTTPStatus(provider string, status int, message string, header http.Header) *Error {
	e := &Error{
		Provider:   provider,
		Kind:       KindForStatus(status),
		StatusCode: status,
		Message:    strings.TrimSpace(message),
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if e.Kind == KindRateLimited && header != nil {
		e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
	}
	return e
}

// ParseRetryAfter 解析 Retry-After，支持秒数和 HTTP 日期
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
