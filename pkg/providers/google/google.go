package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

const (
	// ID 提供商标识
	ID = "google"

	// DefaultEndpoint Cloud Translation v2 接口
	DefaultEndpoint = "https://translation.googleapis.com/language/translate/v2"
)

var errorPaths = []string{"error.message", "error.errors.0.message"}

// Provider Google Translate 提供商
type Provider struct {
	config     providers.AdapterConfig
	httpClient *http.Client
}

var _ providers.Adapter = (*Provider)(nil)

// New 创建 Google Translate 提供商
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
		ID:             ID,
		Name:           "Google Translate",
		Category:       providers.CategoryTraditional,
		Languages:      supportedLanguages,
		Features:       []string{providers.FeatureDetect},
		RequiresAPIKey: true,
		Pricing:        providers.Pricing{Model: "nmt", PerMillionChars: 20, Currency: "USD"},
		RateLimit:      &providers.RateLimit{RequestsPerMinute: 600, CharactersPerDay: 500000},
	}
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage,omitempty"`
			Model                  string `json:"model,omitempty"`
		} `json:"translations"`
	} `json:"data"`
}

// DetectResponse 检测响应
type DetectResponse struct {
	Data struct {
		Detections [][]struct {
			Language   string  `json:"language"`
			Confidence float64 `json:"confidence"`
		} `json:"detections"`
	} `json:"data"`
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	if err := providers.RequireCredentials(p.Info(), p.config); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", req.Text)
	form.Set("target", normalizeLanguageCode(req.TargetLanguage))
	if src := normalizeLanguageCode(req.SourceLanguage); src != "" && src != "auto" {
		form.Set("source", src)
	}
	form.Set("format", "text")
	if req.PreserveFormatting {
		form.Set("format", "html")
	}
	if p.config.Model != "" {
		form.Set("model", p.config.Model)
	}

	var resp TranslateResponse
	if err := p.post(ctx, "", form, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data.Translations) == 0 {
		return nil, providers.NewError(ID, providers.KindTransient, "no translation returned")
	}

	tr := resp.Data.Translations[0]
	model := tr.Model
	if model == "" {
		model = "nmt"
	}
	return &providers.ProviderResponse{
		Text:                   tr.TranslatedText,
		DetectedSourceLanguage: tr.DetectedSourceLanguage,
		Model:                  model,
		Characters:             len([]rune(req.Text)),
	}, nil
}

// DetectLanguage 检测语言
func (p *Provider) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	if err := providers.RequireCredentials(p.Info(), p.config); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", text)

	var resp DetectResponse
	if err := p.post(ctx, "/detect", form, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data.Detections) == 0 || len(resp.Data.Detections[0]) == 0 {
		return nil, providers.NewError(ID, providers.KindUnknown, "no detection returned")
	}
	d := resp.Data.Detections[0][0]
	return &providers.Detection{Language: d.Language, Confidence: d.Confidence}, nil
}

// Validate 用给定配置请求语言列表，验证密钥
func (p *Provider) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	probe, err := New(cfg)
	if err != nil {
		return err
	}
	if err := providers.RequireCredentials(probe.Info(), probe.config); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("target", "en")
	var out json.RawMessage
	return probe.post(ctx, "/languages", form, &out)
}

// GetQuota Google 不提供配额查询接口
func (p *Provider) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, providers.ErrQuotaUnsupported
}

func (p *Provider) post(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("key", p.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	providers.ApplyHeaders(httpReq, p.config.Headers)

	body, err := providers.Do(p.httpClient, httpReq, ID, errorPaths...)
	if err != nil {
		return refineError(err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return providers.WrapError(ID, providers.KindTransient, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// refineError 根据错误体中的 reason 细化 400 响应的类别
//
// Google 对无效密钥返回 400 INVALID_ARGUMENT，reason 为 API_KEY_INVALID（v2 为 keyInvalid）。
func refineError(err error) error {
	var pe *providers.Error
	if !errors.As(err, &pe) || pe.Kind != providers.KindRejected {
		return err
	}

	var reasons []string
	for _, path := range []string{"error.details.#.reason", "error.errors.#.reason"} {
		for _, r := range gjson.GetBytes(pe.Body, path).Array() {
			reasons = append(reasons, r.String())
		}
	}
	msg := strings.ToLower(pe.Message)
	switch {
	case slices.Contains(reasons, "API_KEY_INVALID"), slices.Contains(reasons, "keyInvalid"),
		strings.Contains(msg, "api key not valid"):
		pe.Kind = providers.KindUnauthenticated
	case strings.Contains(msg, "bad language pair"), strings.Contains(msg, "unsupported language"):
		pe.Kind = providers.KindUnsupportedLanguage
	}
	return pe
}

// normalizeLanguageCode Google 使用 zh-CN/zh-TW 区分简繁
func normalizeLanguageCode(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "":
		return ""
	case "zh", "zh-cn", "zh-hans", "zh_cn":
		return "zh-CN"
	case "zh-tw", "zh-hant", "zh_tw", "zh-hk":
		return "zh-TW"
	case "he", "iw":
		return "iw"
	}
	return strings.TrimSpace(lang)
}

var supportedLanguages = []string{
	"af", "sq", "am", "ar", "hy", "az", "eu", "be", "bn", "bs", "bg", "ca", "zh", "zh-CN", "zh-TW",
	"hr", "cs", "da", "nl", "en", "eo", "et", "fi", "fr", "gl", "ka", "de", "el", "gu", "ht", "he",
	"hi", "hu", "is", "id", "ga", "it", "ja", "kn", "kk", "km", "ko", "ky", "lo", "la", "lv", "lt",
	"mk", "ms", "ml", "mt", "mr", "mn", "my", "ne", "no", "ps", "fa", "pl", "pt", "pa", "ro", "ru",
	"sr", "si", "sk", "sl", "es", "sw", "sv", "ta", "te", "th", "tr", "uk", "ur", "uz", "vi", "cy", "yi",
}
