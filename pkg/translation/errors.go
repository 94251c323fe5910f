package translation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

// 预定义错误
var (
	// ErrEmptyText 空文本
	ErrEmptyText = errors.New("empty text provided")

	// ErrTextTooLong 文本超长
	ErrTextTooLong = errors.New("text too long")

	// ErrInvalidLanguage 无效的语言代码
	ErrInvalidLanguage = errors.New("invalid language")

	// ErrInvalidOption 无效的选项
	ErrInvalidOption = errors.New("invalid option")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoProvider 没有可用的提供商
	ErrNoProvider = errors.New("no provider available")
)

func invalidRequest(cause error, msg string) *providers.Error {
	return &providers.Error{Kind: providers.KindInvalidRequest, Message: msg, Cause: cause}
}

func noProvider(msg string) *providers.Error {
	return &providers.Error{Kind: providers.KindNoProviderAvailable, Message: msg, Cause: ErrNoProvider}
}

// Attempt 一个提供商（含重试）的失败记录
type Attempt struct {
	Provider string              `json:"provider"`
	Kind     providers.ErrorKind `json:"kind"`
	Tries    int                 `json:"tries"`
	Err      error               `json:"-"`
}

// ExhaustedError 所有候选提供商都失败
type ExhaustedError struct {
	// Attempts 按候选顺序排列
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s [%s]: %v", a.Provider, a.Kind, a.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s [%s]", a.Provider, a.Kind))
		}
	}
	return "all providers exhausted: " + strings.Join(parts, "; ")
}

// Unwrap 支持 errors.Is / errors.As 逐个检查各提供商的错误
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// Kinds 各提供商的错误类别
func (e *ExhaustedError) Kinds() []providers.ErrorKind {
	kinds := make([]providers.ErrorKind, len(e.Attempts))
	for i, a := range e.Attempts {
		kinds[i] = a.Kind
	}
	return kinds
}

// Providers 已尝试的提供商
func (e *ExhaustedError) Providers() []string {
	ids := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		ids[i] = a.Provider
	}
	return ids
}

// IsExhausted 错误是否为 *ExhaustedError
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
