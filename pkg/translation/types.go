package translation

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

// AutoDetect 源语言自动检测
const AutoDetect = "auto"

// MaxTextLength 单次请求的最大字符数
const MaxTextLength = 50000

// 正式度
const (
	FormalityDefault  = "default"
	FormalityFormal   = "formal"
	FormalityInformal = "informal"
)

// 领域
const (
	DomainGeneral   = "general"
	DomainMedical   = "medical"
	DomainLegal     = "legal"
	DomainTechnical = "technical"
	DomainFinance   = "finance"
)

var (
	validFormality = map[string]bool{"": true, FormalityDefault: true, FormalityFormal: true, FormalityInformal: true}
	validDomain    = map[string]bool{
		"": true, DomainGeneral: true, DomainMedical: true, DomainLegal: true, DomainTechnical: true, DomainFinance: true,
	}
)

// Options 翻译选项，零值表示使用默认
type Options struct {
	Formality          string            `json:"formality,omitempty"`
	Domain             string            `json:"domain,omitempty"`
	Glossary           map[string]string `json:"glossary,omitempty"`
	PreserveFormatting bool              `json:"preserve_formatting,omitempty"`

	// PreferredProvider 优先尝试的提供商，仅在已启用时生效
	PreferredProvider string `json:"preferred_provider,omitempty"`

	// StrictProvider 只使用 PreferredProvider，其他提供商的缓存结果视为未命中
	StrictProvider bool `json:"strict_provider,omitempty"`
}

// Request 翻译请求
type Request struct {
	Text       string  `json:"text"`
	SourceLang string  `json:"source_lang"`
	TargetLang string  `json:"target_lang"`
	Options    Options `json:"options"`
}

// Validate 检查请求
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return invalidRequest(ErrEmptyText, "text is empty")
	}
	if n := utf8.RuneCountInString(r.Text); n > MaxTextLength {
		return invalidRequest(ErrTextTooLong, fmt.Sprintf("text has %d characters, limit is %d", n, MaxTextLength))
	}
	if r.SourceLang != "" && !strings.EqualFold(r.SourceLang, AutoDetect) {
		if _, err := language.Parse(r.SourceLang); err != nil {
			return invalidRequest(ErrInvalidLanguage, fmt.Sprintf("invalid source language %q", r.SourceLang))
		}
	}
	if r.TargetLang == "" || strings.EqualFold(r.TargetLang, AutoDetect) {
		return invalidRequest(ErrInvalidLanguage, "target language is required")
	}
	if _, err := language.Parse(r.TargetLang); err != nil {
		return invalidRequest(ErrInvalidLanguage, fmt.Sprintf("invalid target language %q", r.TargetLang))
	}
	if !validFormality[r.Options.Formality] {
		return invalidRequest(ErrInvalidOption, fmt.Sprintf("unknown formality %q", r.Options.Formality))
	}
	if !validDomain[r.Options.Domain] {
		return invalidRequest(ErrInvalidOption, fmt.Sprintf("unknown domain %q", r.Options.Domain))
	}
	if r.Options.StrictProvider && r.Options.PreferredProvider == "" {
		return invalidRequest(ErrInvalidOption, "strict provider requires a preferred provider")
	}
	return nil
}

// providerRequest 转换为适配器请求
func (r Request) providerRequest() *providers.ProviderRequest {
	src := r.SourceLang
	if src == "" {
		src = AutoDetect
	}
	formality := r.Options.Formality
	if formality == FormalityDefault {
		formality = ""
	}
	domain := r.Options.Domain
	if domain == "" {
		domain = DomainGeneral
	}
	return &providers.ProviderRequest{
		Text:               r.Text,
		SourceLanguage:     src,
		TargetLanguage:     r.TargetLang,
		Formality:          formality,
		Domain:             domain,
		Glossary:           r.Options.Glossary,
		PreserveFormatting: r.Options.PreserveFormatting,
	}
}

// Usage 用量
type Usage struct {
	Characters int     `json:"characters"`
	TokensIn   int     `json:"tokens_in,omitempty"`
	TokensOut  int     `json:"tokens_out,omitempty"`
	Cost       float64 `json:"cost"`
}

// Response 翻译结果
type Response struct {
	TranslatedText         string                  `json:"translated_text"`
	DetectedSourceLanguage string                  `json:"detected_source_language,omitempty"`
	Confidence             *float64                `json:"confidence,omitempty"`
	Alternatives           []providers.Alternative `json:"alternatives,omitempty"`
	Provider               string                  `json:"provider"`
	Model                  string                  `json:"model,omitempty"`
	Timestamp              int64                   `json:"timestamp"`
	Usage                  Usage                   `json:"usage"`
	FromCache              bool                    `json:"from_cache,omitempty"`
}

// Time 完成时间
func (r Response) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// clone 深拷贝切片和指针字段
func (r Response) clone() Response {
	r.Alternatives = slices.Clone(r.Alternatives)
	if r.Confidence != nil {
		c := *r.Confidence
		r.Confidence = &c
	}
	return r
}

// ManagerOptions 调度选项
type ManagerOptions struct {
	AutoFallback        bool          `json:"auto_fallback" mapstructure:"auto_fallback"`
	CacheResults        bool          `json:"cache_results" mapstructure:"cache_results"`
	ParallelTranslation bool          `json:"parallel_translation" mapstructure:"parallel_translation"`
	RetryCount          int           `json:"retry_count" mapstructure:"retry_count"`
	Timeout             time.Duration `json:"timeout" mapstructure:"timeout"`
}

// ManagerConfig 调度配置快照，由调用方注入
type ManagerConfig struct {
	Version           int                           `json:"version" mapstructure:"version"`
	PrimaryProvider   string                        `json:"primary_provider" mapstructure:"primary_provider"`
	FallbackProviders []string                      `json:"fallback_providers" mapstructure:"fallback_providers"`
	Providers         map[string]providers.Settings `json:"providers" mapstructure:"providers"`
	Options           ManagerOptions                `json:"options" mapstructure:"options"`

	// LanguagePairPreferences 语言对到提供商的偏好，键为 "en>zh"，源语言可用 "*"
	LanguagePairPreferences map[string]string `json:"language_pair_preferences,omitempty" mapstructure:"language_pair_preferences"`
}

// DefaultManagerOptions 默认调度选项
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		AutoFallback: true,
		CacheResults: true,
		RetryCount:   2,
		Timeout:      30 * time.Second,
	}
}

// Selection 转换为注册表的选择视图
func (c ManagerConfig) Selection() providers.Selection {
	return providers.Selection{
		Primary:   c.PrimaryProvider,
		Fallbacks: c.FallbackProviders,
		Providers: c.Providers,
	}
}

// Validate 检查配置
func (c ManagerConfig) Validate() error {
	if c.Options.RetryCount < 0 {
		return fmt.Errorf("%w: retry count must be >= 0", ErrInvalidConfig)
	}
	if c.Options.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be >= 0", ErrInvalidConfig)
	}
	if c.PrimaryProvider == "" && len(c.FallbackProviders) == 0 {
		return fmt.Errorf("%w: no primary or fallback provider configured", ErrInvalidConfig)
	}
	for pair := range c.LanguagePairPreferences {
		if !strings.Contains(pair, ">") {
			return fmt.Errorf("%w: language pair %q must look like \"en>zh\"", ErrInvalidConfig, pair)
		}
	}
	return nil
}

// preferenceFor 查找语言对偏好，精确匹配优先于 "*>目标"
func (c ManagerConfig) preferenceFor(source, target string) string {
	if len(c.LanguagePairPreferences) == 0 {
		return ""
	}
	src, tgt := CanonicalLanguage(source), CanonicalLanguage(target)
	wildcard := ""
	for pair, id := range c.LanguagePairPreferences {
		s, t, ok := strings.Cut(pair, ">")
		if !ok || CanonicalLanguage(t) != tgt {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "*" {
			wildcard = id
			continue
		}
		if CanonicalLanguage(s) == src {
			return id
		}
	}
	return wildcard
}

// CanonicalLanguage 返回 BCP 47 规范形式，"auto" 和空值统一为 "auto"
func CanonicalLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, AutoDetect) {
		return AutoDetect
	}
	t, err := language.Parse(strings.ReplaceAll(tag, "_", "-"))
	if err != nil {
		return strings.ToLower(tag)
	}
	return t.String()
}
