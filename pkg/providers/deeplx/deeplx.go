package deeplx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/detect"
)

const (
	// ID 提供商标识
	ID = "deeplx"

	// DefaultEndpoint 本地 DeepLX 服务
	DefaultEndpoint = "http://localhost:1188/translate"
)

// Provider DeepLX 提供商
type Provider struct {
	config     providers.AdapterConfig
	httpClient *http.Client
}

var _ providers.Adapter = (*Provider)(nil)

// New 创建 DeepLX 提供商，APIKey 作为可选访问令牌
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
		Name:     "DeepLX",
		Category: providers.CategoryLocal,
		Languages: []string{
			"bg", "cs", "da", "de", "el", "en", "es", "et", "fi", "fr", "hu", "id", "it", "ja", "ko",
			"lt", "lv", "nb", "nl", "pl", "pt", "ro", "ru", "sk", "sl", "sv", "tr", "uk", "zh",
		},
		Features: []string{providers.FeatureAlternatives},
	}
}

// TranslateRequest 翻译请求
type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// TranslateResponse 翻译响应
type TranslateResponse struct {
	Code         int      `json:"code"`
	Message      string   `json:"message,omitempty"`
	Data         string   `json:"data"`
	SourceLang   string   `json:"source_lang,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	src := strings.ToUpper(req.SourceLanguage)
	if src == "" {
		src = "AUTO"
	}
	resp, err := p.call(ctx, p.config, TranslateRequest{
		Text:       req.Text,
		SourceLang: src,
		TargetLang: strings.ToUpper(req.TargetLanguage),
	})
	if err != nil {
		return nil, err
	}

	out := &providers.ProviderResponse{
		Text:                   resp.Data,
		DetectedSourceLanguage: strings.ToLower(resp.SourceLang),
		Model:                  "deeplx",
		Characters:             len([]rune(req.Text)),
	}
	for _, alt := range resp.Alternatives {
		if alt != "" && alt != resp.Data {
			out.Alternatives = append(out.Alternatives, providers.Alternative{Text: alt})
		}
	}
	return out, nil
}

// DetectLanguage 使用本地检测
func (p *Provider) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	return detect.Detect(ID, text)
}

// Validate 翻译一个短句验证服务可用
func (p *Provider) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	probe, err := New(cfg)
	if err != nil {
		return err
	}
	_, err = probe.call(ctx, probe.config, TranslateRequest{Text: "Hello", SourceLang: "EN", TargetLang: "DE"})
	return err
}

// GetQuota DeepLX 不提供配额
func (p *Provider) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, providers.ErrQuotaUnsupported
}

func (p *Provider) call(ctx context.Context, cfg providers.AdapterConfig, req TranslateRequest) (*TranslateResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	providers.ApplyHeaders(httpReq, cfg.Headers)

	body, err := providers.Do(p.httpClient, httpReq, ID, "message")
	if err != nil {
		return nil, err
	}

	var resp TranslateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.WrapError(ID, providers.KindTransient, fmt.Errorf("failed to decode response: %w", err))
	}
	// DeepLX 在 200 响应体中也可能返回错误码
	if resp.Code != 0 && resp.Code != http.StatusOK {
		return nil, providers.FromHTTPStatus(ID, resp.Code, resp.Message, nil)
	}
	if resp.Data == "" {
		return nil, providers.NewError(ID, providers.KindTransient, "empty translation returned")
	}
	return &resp, nil
}
