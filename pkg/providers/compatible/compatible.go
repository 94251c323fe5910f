// Package compatible 接入 OpenAI 兼容接口的服务，如 DeepSeek、Groq、Moonshot
package compatible

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/detect"
)

const (
	// DefaultEndpoint 未配置地址时使用 DeepSeek
	DefaultEndpoint = "https://api.deepseek.com/v1"

	// DefaultModel 默认模型
	DefaultModel = "deepseek-chat"
)

// Provider OpenAI 兼容提供商
type Provider struct {
	id     string
	config providers.AdapterConfig
	client *goopenai.Client
}

var _ providers.Adapter = (*Provider)(nil)

// New 创建兼容提供商，id 为注册表中的标识
func New(id string, cfg providers.AdapterConfig) (*Provider, error) {
	cfg = providers.NormalizeConfig(cfg)
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	httpClient, err := providers.NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Headers) > 0 {
		httpClient.Transport = &headerTransport{base: httpClient.Transport, headers: cfg.Headers}
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.Endpoint
	clientCfg.HTTPClient = httpClient

	return &Provider{
		id:     strings.ToLower(id),
		config: cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
	}, nil
}

// Info 提供商描述
func (p *Provider) Info() providers.Info {
	var in, out float64
	if v, err := strconv.ParseFloat(p.config.Extra["input_price"], 64); err == nil {
		in = v
	}
	if v, err := strconv.ParseFloat(p.config.Extra["output_price"], 64); err == nil {
		out = v
	}
	name := p.config.Extra["name"]
	if name == "" {
		name = p.id
	}
	return providers.Info{
		ID:             p.id,
		Name:           name,
		Category:       providers.CategoryAI,
		Features:       []string{providers.FeatureFormality, providers.FeatureGlossary},
		RequiresAPIKey: p.config.Extra["no_auth"] != "true",
		Pricing: providers.Pricing{
			Model:                  p.config.Model,
			PerMillionInputTokens:  in,
			PerMillionOutputTokens: out,
			Currency:               "USD",
		},
	}
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	if err := providers.RequireCredentials(p.Info(), p.config); err != nil {
		return nil, err
	}

	system, user := providers.TranslationPrompt(req)
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
		Temperature: float32(p.config.Temperature),
		MaxTokens:   p.config.MaxTokens,
	})
	if err != nil {
		return nil, p.toProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewError(p.id, providers.KindTransient, "no choices returned")
	}

	model := resp.Model
	if model == "" {
		model = p.config.Model
	}
	return &providers.ProviderResponse{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:      model,
		Characters: len([]rune(req.Text)),
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
	}, nil
}

// DetectLanguage 使用本地检测
func (p *Provider) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	return detect.Detect(p.id, text)
}

// Validate 列出模型验证密钥
func (p *Provider) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	probe, err := New(p.id, cfg)
	if err != nil {
		return err
	}
	if err := providers.RequireCredentials(probe.Info(), probe.config); err != nil {
		return err
	}
	if _, err := probe.client.ListModels(ctx); err != nil {
		return probe.toProviderError(err)
	}
	return nil
}

// GetQuota 兼容接口没有统一的配额查询
func (p *Provider) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, providers.ErrQuotaUnsupported
}

func (p *Provider) toProviderError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		pe := providers.FromHTTPStatus(p.id, apiErr.HTTPStatusCode, apiErr.Message, nil)
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			pe.Kind = providers.KindQuotaExceeded
		}
		pe.Cause = err
		return pe
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		pe := providers.FromHTTPStatus(p.id, reqErr.HTTPStatusCode, "", nil)
		pe.Cause = err
		return pe
	}
	return providers.TransportError(p.id, err)
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
