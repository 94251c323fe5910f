package providers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Category 提供商类别
type Category string

const (
	CategoryTraditional Category = "traditional"
	CategoryAI          Category = "ai"
	CategoryLocal       Category = "local"
)

// ErrQuotaUnsupported 提供商不支持配额查询
var ErrQuotaUnsupported = errors.New("quota reporting not supported")

// AdapterConfig 单个适配器的配置
type AdapterConfig struct {
	Type string `json:"type,omitempty" mapstructure:"type"`

	// 凭据
	APIKey    string `json:"api_key,omitempty" mapstructure:"api_key"`
	APISecret string `json:"api_secret,omitempty" mapstructure:"api_secret"`

	// 旧字段名，构造适配器时由 NormalizeConfig 映射到 APIKey/APISecret
	AppID  string `json:"app_id,omitempty" mapstructure:"app_id"`
	Secret string `json:"secret,omitempty" mapstructure:"secret"`

	Endpoint    string  `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Model       string  `json:"model,omitempty" mapstructure:"model"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`

	Timeout time.Duration     `json:"timeout,omitempty" mapstructure:"timeout"`
	Proxy   string            `json:"proxy,omitempty" mapstructure:"proxy"`
	Headers map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Extra   map[string]string `json:"extra,omitempty" mapstructure:"extra"`
}

// Settings 提供商启用状态与配置
type Settings struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	Config  AdapterConfig `json:"config" mapstructure:"config"`
}

// NormalizeConfig 统一凭据字段，返回副本
func NormalizeConfig(cfg AdapterConfig) AdapterConfig {
	out := cfg
	if out.APIKey == "" && out.AppID != "" {
		out.APIKey = out.AppID
	}
	if out.APISecret == "" && out.Secret != "" {
		out.APISecret = out.Secret
	}
	out.AppID, out.Secret = "", ""
	out.Type = strings.ToLower(strings.TrimSpace(out.Type))
	out.Endpoint = strings.TrimRight(strings.TrimSpace(out.Endpoint), "/")
	return out
}

// Pricing 计价信息，单位为每百万字符或每百万 token
type Pricing struct {
	Model                  string  `json:"model,omitempty"`
	PerMillionChars        float64 `json:"per_million_chars,omitempty"`
	PerMillionInputTokens  float64 `json:"per_million_input_tokens,omitempty"`
	PerMillionOutputTokens float64 `json:"per_million_output_tokens,omitempty"`
	Currency               string  `json:"currency,omitempty"`
}

// Estimate 按用量估算费用
func (p Pricing) Estimate(chars, tokensIn, tokensOut int) float64 {
	cost := float64(chars) * p.PerMillionChars / 1e6
	cost += float64(tokensIn) * p.PerMillionInputTokens / 1e6
	cost += float64(tokensOut) * p.PerMillionOutputTokens / 1e6
	return cost
}

// RateLimit 速率限制
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	CharactersPerDay  int `json:"characters_per_day"`
}

// Info 提供商描述，注册后不再修改
type Info struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Category          Category   `json:"category"`
	Languages         []string   `json:"languages,omitempty"`
	Features          []string   `json:"features,omitempty"`
	RequiresAPIKey    bool       `json:"requires_api_key"`
	RequiresAPISecret bool       `json:"requires_api_secret"`
	Pricing           Pricing    `json:"pricing"`
	RateLimit         *RateLimit `json:"rate_limit,omitempty"`
}

// SupportsLanguage 语言列表为空表示不限制
func (i Info) SupportsLanguage(code string) bool {
	if len(i.Languages) == 0 || code == "" || code == "auto" {
		return true
	}
	base := strings.ToLower(code)
	if idx := strings.IndexAny(base, "-_"); idx > 0 {
		base = base[:idx]
	}
	for _, l := range i.Languages {
		l = strings.ToLower(l)
		if l == strings.ToLower(code) || l == base {
			return true
		}
	}
	return false
}

// HasFeature 是否具备某项能力
func (i Info) HasFeature(name string) bool {
	for _, f := range i.Features {
		if f == name {
			return true
		}
	}
	return false
}

// 常用能力名
const (
	FeatureDetect       = "detect"
	FeatureFormality    = "formality"
	FeatureGlossary     = "glossary"
	FeatureAlternatives = "alternatives"
	FeatureQuota        = "quota"
)

// Adapter 所有翻译后端实现的统一契约
type Adapter interface {
	// Info 返回提供商描述
	Info() Info

	// Translate 执行翻译
	Translate(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error)

	// DetectLanguage 检测文本语言
	DetectLanguage(ctx context.Context, text string) (*Detection, error)

	// Validate 用给定配置探测凭据是否可用
	Validate(ctx context.Context, cfg AdapterConfig) error

	// GetQuota 查询配额，不支持时返回 ErrQuotaUnsupported
	GetQuota(ctx context.Context) (*QuotaInfo, error)
}

// ProviderRequest 提供商请求
type ProviderRequest struct {
	Text               string            `json:"text"`
	SourceLanguage     string            `json:"source_language,omitempty"`
	TargetLanguage     string            `json:"target_language"`
	Formality          string            `json:"formality,omitempty"`
	Domain             string            `json:"domain,omitempty"`
	Glossary           map[string]string `json:"glossary,omitempty"`
	PreserveFormatting bool              `json:"preserve_formatting,omitempty"`
}

// Alternative 候选译文
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ProviderResponse 提供商响应
type ProviderResponse struct {
	Text                   string        `json:"text"`
	DetectedSourceLanguage string        `json:"detected_source_language,omitempty"`
	Confidence             *float64      `json:"confidence,omitempty"`
	Alternatives           []Alternative `json:"alternatives,omitempty"`
	Model                  string        `json:"model,omitempty"`
	Characters             int           `json:"characters,omitempty"`
	TokensIn               int           `json:"tokens_in,omitempty"`
	TokensOut              int           `json:"tokens_out,omitempty"`
	Cost                   float64       `json:"cost,omitempty"`
}

// Detection 语言检测结果
type Detection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// QuotaUnit 配额单位
type QuotaUnit string

const (
	QuotaCharacter QuotaUnit = "character"
	QuotaToken     QuotaUnit = "token"
	QuotaRequest   QuotaUnit = "request"
)

// QuotaInfo 配额信息
type QuotaInfo struct {
	Used    int64      `json:"used"`
	Limit   int64      `json:"limit"`
	Unit    QuotaUnit  `json:"unit"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

// Remaining 剩余额度，Limit 为 0 表示无上限
func (q QuotaInfo) Remaining() int64 {
	if q.Limit <= 0 {
		return -1
	}
	if r := q.Limit - q.Used; r > 0 {
		return r
	}
	return 0
}

// UsageRatio 已用比例
func (q QuotaInfo) UsageRatio() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return float64(q.Used) / float64(q.Limit)
}

// Float 返回指针，用于可选的置信度字段
func Float(v float64) *float64 {
	return &v
}

// RequireCredentials 检查提供商要求的凭据是否齐全
func RequireCredentials(info Info, cfg AdapterConfig) error {
	if info.RequiresAPIKey && strings.TrimSpace(cfg.APIKey) == "" {
		return NewError(info.ID, KindUnauthenticated, "api key is required")
	}
	if info.RequiresAPISecret && strings.TrimSpace(cfg.APISecret) == "" {
		return NewError(info.ID, KindUnauthenticated, "api secret is required")
	}
	return nil
}

// PromptInstructions 将正式度、领域和术语表转换为提示词约束，供 LLM 类适配器使用
func PromptInstructions(req *ProviderRequest) string {
	var b strings.Builder
	switch req.Formality {
	case "formal":
		b.WriteString("Use a formal register.\n")
	case "informal":
		b.WriteString("Use an informal, conversational register.\n")
	}
	if req.Domain != "" && req.Domain != "general" {
		b.WriteString("The text belongs to the " + req.Domain + " domain; use its established terminology.\n")
	}
	if len(req.Glossary) > 0 {
		keys := make([]string, 0, len(req.Glossary))
		for k := range req.Glossary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Always translate these terms as given:\n")
		for _, k := range keys {
			b.WriteString("- " + k + " => " + req.Glossary[k] + "\n")
		}
	}
	if req.PreserveFormatting {
		b.WriteString("Preserve all formatting, markup, whitespace and line breaks exactly.\n")
	}
	return b.String()
}

// TranslationPrompt 构造 LLM 翻译提示词
func TranslationPrompt(req *ProviderRequest) (system, user string) {
	source := req.SourceLanguage
	if source == "" || source == "auto" {
		source = "the detected source language"
	}
	system = "You are a professional translator. Translate the user's text from " + source +
		" to " + req.TargetLanguage + ". Reply with the translation only, without quotes or explanations.\n" +
		PromptInstructions(req)
	return strings.TrimSpace(system), req.Text
}
