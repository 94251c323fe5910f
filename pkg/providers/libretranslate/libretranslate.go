package libretranslate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

const (
	// ID 提供商标识
	ID = "libretranslate"

	// DefaultEndpoint 公共实例
	DefaultEndpoint = "https://libretranslate.com"
)

// Provider LibreTranslate 提供商
type Provider struct {
	config     providers.AdapterConfig
	httpClient *http.Client
}

var _ providers.Adapter = (*Provider)(nil)

// New 创建 LibreTranslate 提供商
func New(cfg providers.AdapterConfig) (*Provider, error) {
	cfg = providers.NormalizeConfig(cfg)
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
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
		Name:     "LibreTranslate",
		Category: providers.CategoryLocal,
		Languages: []string{
			"en", "ar", "az", "zh", "cs", "da", "nl", "eo", "fi", "fr", "de", "el", "he", "hi", "hu",
			"id", "ga", "it", "ja", "ko", "fa", "pl", "pt", "ru", "sk", "es", "sv", "tr", "uk", "vi",
		},
		Features:  []string{providers.FeatureDetect, providers.FeatureAlternatives},
		RateLimit: &providers.RateLimit{RequestsPerMinute: 80},
	}
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Q            string `json:"q"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Format       string `json:"format"`
	Alternatives int    `json:"alternatives,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
}

// TranslateResponse 翻译响应，置信度为 0-100
type TranslateResponse struct {
	TranslatedText   string `json:"translatedText"`
	DetectedLanguage *struct {
		Confidence float64 `json:"confidence"`
		Language   string  `json:"language"`
	} `json:"detectedLanguage,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// DetectResult 检测结果
type DetectResult struct {
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// Language 语言信息
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	src := normalizeLanguageCode(req.SourceLanguage)
	if src == "" {
		src = "auto"
	}
	format := "text"
	if req.PreserveFormatting {
		format = "html"
	}

	var resp TranslateResponse
	err := p.post(ctx, p.config, "/translate", TranslateRequest{
		Q:            req.Text,
		Source:       src,
		Target:       normalizeLanguageCode(req.TargetLanguage),
		Format:       format,
		Alternatives: 2,
		APIKey:       p.config.APIKey,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &providers.ProviderResponse{
		Text:       resp.TranslatedText,
		Model:      "libretranslate",
		Characters: len([]rune(req.Text)),
	}
	if resp.DetectedLanguage != nil {
		out.DetectedSourceLanguage = resp.DetectedLanguage.Language
		out.Confidence = providers.Float(resp.DetectedLanguage.Confidence / 100)
	}
	for _, alt := range resp.Alternatives {
		out.Alternatives = append(out.Alternatives, providers.Alternative{Text: alt})
	}
	return out, nil
}

// DetectLanguage 检测语言
func (p *Provider) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	var results []DetectResult
	err := p.post(ctx, p.config, "/detect", map[string]string{"q": text, "api_key": p.config.APIKey}, &results)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, providers.NewError(ID, providers.KindUnknown, "no detection returned")
	}
	return &providers.Detection{Language: results[0].Language, Confidence: results[0].Confidence / 100}, nil
}

// Validate 获取语言列表验证服务可用
func (p *Provider) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	probe, err := New(cfg)
	if err != nil {
		return err
	}
	_, err = probe.Languages(ctx)
	return err
}

// Languages 服务端支持的语言
func (p *Provider) Languages(ctx context.Context) ([]Language, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/languages", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	providers.ApplyHeaders(httpReq, p.config.Headers)

	body, err := providers.Do(p.httpClient, httpReq, ID, "error")
	if err != nil {
		return nil, err
	}
	var langs []Language
	if err := json.Unmarshal(body, &langs); err != nil {
		return nil, providers.WrapError(ID, providers.KindTransient, fmt.Errorf("failed to decode languages: %w", err))
	}
	return langs, nil
}

// GetQuota LibreTranslate 不提供配额
func (p *Provider) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, providers.ErrQuotaUnsupported
}

func (p *Provider) post(ctx context.Context, cfg providers.AdapterConfig, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	providers.ApplyHeaders(httpReq, cfg.Headers)

	body, err := providers.Do(p.httpClient, httpReq, ID, "error")
	if err != nil {
		var pe *providers.Error
		if errors.As(err, &pe) && pe.Kind == providers.KindRejected &&
			strings.Contains(strings.ToLower(pe.Message), "not supported") {
			pe.Kind = providers.KindUnsupportedLanguage
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return providers.WrapError(ID, providers.KindTransient, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func normalizeLanguageCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch lang {
	case "zh-cn", "zh-hans":
		return "zh"
	case "zh-tw", "zh-hant":
		return "zt"
	}
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		return lang[:idx]
	}
	return lang
}
