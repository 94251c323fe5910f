package deepl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/detect"
)

const (
	// ID 提供商标识
	ID = "deepl"

	// DefaultEndpoint 付费版接口
	DefaultEndpoint = "https://api.deepl.com/v2"

	// FreeEndpoint 免费版接口，免费密钥以 ":fx" 结尾
	FreeEndpoint = "https://api-free.deepl.com/v2"
)

// Provider DeepL 提供商
type Provider struct {
	config     providers.AdapterConfig
	httpClient *http.Client
}

var _ providers.Adapter = (*Provider)(nil)

// New 创建 DeepL 提供商
func New(cfg providers.AdapterConfig) (*Provider, error) {
	cfg = providers.NormalizeConfig(cfg)
	if cfg.Endpoint == "" {
		if strings.HasSuffix(cfg.APIKey, ":fx") || cfg.Extra["free"] == "true" {
			cfg.Endpoint = FreeEndpoint
		} else {
			cfg.Endpoint = DefaultEndpoint
		}
	}
	client, err := providers.NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{config: cfg, httpClient: client}, nil
}

// Info 提供商描述
func (p *Provider) Info() providers.Info {
	return providers.Info{
		ID:       ID,
		Name:     "DeepL",
		Category: providers.CategoryTraditional,
		Languages: []string{
			"ar", "bg", "cs", "da", "de", "el", "en", "en-GB", "en-US", "es", "et", "fi", "fr", "hu", "id",
			"it", "ja", "ko", "lt", "lv", "nb", "nl", "pl", "pt", "pt-BR", "pt-PT", "ro", "ru", "sk", "sl",
			"sv", "tr", "uk", "zh",
		},
		Features:       []string{providers.FeatureFormality, providers.FeatureQuota},
		RequiresAPIKey: true,
		Pricing:        providers.Pricing{Model: "deepl", PerMillionChars: 25, Currency: "USD"},
		RateLimit:      &providers.RateLimit{RequestsPerMinute: 300},
	}
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// UsageResponse 用量响应
type UsageResponse struct {
	CharacterCount int64 `json:"character_count"`
	CharacterLimit int64 `json:"character_limit"`
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	if err := providers.RequireCredentials(p.Info(), p.config); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("text", req.Text)
	params.Set("target_lang", normalizeLanguageCode(req.TargetLanguage, false))
	if src := normalizeLanguageCode(req.SourceLanguage, true); src != "" {
		params.Set("source_lang", src)
	}
	switch req.Formality {
	case "formal":
		params.Set("formality", "prefer_more")
	case "informal":
		params.Set("formality", "prefer_less")
	}
	if req.PreserveFormatting {
		params.Set("preserve_formatting", "1")
	}
	if req.Domain != "" && req.Domain != "general" {
		params.Set("context", "Domain: "+req.Domain)
	}

	httpReq, err := p.newRequest(ctx, p.config, http.MethodPost, "/translate", strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp TranslateResponse
	if err := p.do(httpReq, &resp); err != nil {
		return nil, err
	}
	if len(resp.Translations) == 0 {
		return nil, providers.NewError(ID, providers.KindTransient, "no translation returned")
	}

	tr := resp.Translations[0]
	return &providers.ProviderResponse{
		Text:                   tr.Text,
		DetectedSourceLanguage: strings.ToLower(tr.DetectedSourceLanguage),
		Model:                  "deepl",
		Characters:             len([]rune(req.Text)),
	}, nil
}

// DetectLanguage DeepL 没有独立的检测接口，使用本地检测
func (p *Provider) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	return detect.Detect(ID, text)
}

// Validate 请求 /usage 验证密钥
func (p *Provider) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	probe, err := New(cfg)
	if err != nil {
		return err
	}
	if err := providers.RequireCredentials(probe.Info(), probe.config); err != nil {
		return err
	}
	_, err = probe.usage(ctx)
	return err
}

// GetQuota 查询字符用量
func (p *Provider) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	if err := providers.RequireCredentials(p.Info(), p.config); err != nil {
		return nil, err
	}
	u, err := p.usage(ctx)
	if err != nil {
		return nil, err
	}
	return &providers.QuotaInfo{
		Used:  u.CharacterCount,
		Limit: u.CharacterLimit,
		Unit:  providers.QuotaCharacter,
	}, nil
}

func (p *Provider) usage(ctx context.Context) (*UsageResponse, error) {
	httpReq, err := p.newRequest(ctx, p.config, http.MethodGet, "/usage", nil)
	if err != nil {
		return nil, err
	}
	var u UsageResponse
	if err := p.do(httpReq, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Provider) newRequest(ctx context.Context, cfg providers.AdapterConfig, method, path string, body io.Reader) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, cfg.Endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+cfg.APIKey)
	providers.ApplyHeaders(httpReq, cfg.Headers)
	return httpReq, nil
}

func (p *Provider) do(httpReq *http.Request, out any) error {
	body, err := providers.Do(p.httpClient, httpReq, ID, "message", "detail")
	if err != nil {
		return refineError(err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return providers.WrapError(ID, providers.KindTransient, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// refineError DeepL 对不支持的语言返回 400，消息形如 "Value for 'target_lang' not supported."
func refineError(err error) error {
	var pe *providers.Error
	if !errors.As(err, &pe) || pe.Kind != providers.KindRejected {
		return err
	}
	msg := strings.ToLower(pe.Message)
	if strings.Contains(msg, "not supported") && strings.Contains(msg, "lang") {
		pe.Kind = providers.KindUnsupportedLanguage
	}
	return pe
}

// normalizeLanguageCode DeepL 使用大写代码；目标语言的 EN/PT 需要指定变体
func normalizeLanguageCode(lang string, isSource bool) string {
	lang = strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(lang, "_", "-")))
	if lang == "" || lang == "AUTO" {
		return ""
	}
	if isSource {
		if idx := strings.Index(lang, "-"); idx > 0 {
			lang = lang[:idx]
		}
		return lang
	}
	switch lang {
	case "EN":
		return "EN-US"
	case "PT":
		return "PT-BR"
	case "ZH-CN", "ZH-HANS":
		return "ZH-HANS"
	case "ZH-TW", "ZH-HANT":
		return "ZH-HANT"
	case "NO":
		return "NB"
	}
	return lang
}
