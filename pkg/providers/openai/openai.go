package openai

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/detect"
)

const (
	// ID 提供商标识
	ID = "openai"

	// DefaultModel 默认模型
	DefaultModel = "gpt-4o-mini"
)

// 每百万 token 价格（美元）
var modelPricing = map[string][2]float64{
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4o":        {2.50, 10.00},
	"gpt-4.1-mini":  {0.40, 1.60},
	"gpt-4.1":       {2.00, 8.00},
	"gpt-3.5-turbo": {0.50, 1.50},
}

// Provider OpenAI 提供商（官方 SDK）
type Provider struct {
	config providers.AdapterConfig
	client openai.Client
}

var _ providers.Adapter = (*Provider)(nil)

// New 创建 OpenAI 提供商
//
// SDK 自带的重试被关闭，重试统一由调度引擎按策略执行。
func New(cfg providers.AdapterConfig) (*Provider, error) {
	cfg = providers.NormalizeConfig(cfg)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	httpClient, err := providers.NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint+"/"))
	}
	if org := cfg.Extra["organization"]; org != "" {
		opts = append(opts, option.WithOrganization(org))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Provider{config: cfg, client: openai.NewClient(opts...)}, nil
}

// Info 提供商描述
func (p *Provider) Info() providers.Info {
	return providers.Info{
		ID:             ID,
		Name:           "OpenAI",
		Category:       providers.CategoryAI,
		Features:       []string{providers.FeatureFormality, providers.FeatureGlossary},
		RequiresAPIKey: true,
		Pricing:        pricingFor(p.config),
		RateLimit:      &providers.RateLimit{RequestsPerMinute: 500},
	}
}

func pricingFor(cfg providers.AdapterConfig) providers.Pricing {
	price := modelPricing[cfg.Model]
	if v, err := strconv.ParseFloat(cfg.Extra["input_price"], 64); err == nil {
		price[0] = v
	}
	if v, err := strconv.ParseFloat(cfg.Extra["output_price"], 64); err == nil {
		price[1] = v
	}
	return providers.Pricing{
		Model:                  cfg.Model,
		PerMillionInputTokens:  price[0],
		PerMillionOutputTokens: price[1],
		Currency:               "USD",
	}
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	if err := providers.RequireCredentials(p.Info(), p.config); err != nil {
		return nil, err
	}

	system, user := providers.TranslationPrompt(req)
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: openai.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = openai.Float(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.config.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, toProviderError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, providers.NewError(ID, providers.KindTransient, "no choices returned")
	}

	model := completion.Model
	if model == "" {
		model = p.config.Model
	}
	return &providers.ProviderResponse{
		Text:       strings.TrimSpace(completion.Choices[0].Message.Content),
		Model:      model,
		Characters: len([]rune(req.Text)),
		TokensIn:   int(completion.Usage.PromptTokens),
		TokensOut:  int(completion.Usage.CompletionTokens),
	}, nil
}

// DetectLanguage 使用本地检测，避免消耗 token
func (p *Provider) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	return detect.Detect(ID, text)
}

// Validate 列出模型验证密钥
func (p *Provider) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	probe, err := New(cfg)
	if err != nil {
		return err
	}
	if err := providers.RequireCredentials(probe.Info(), probe.config); err != nil {
		return err
	}
	if _, err := probe.client.Models.List(ctx); err != nil {
		return toProviderError(err)
	}
	return nil
}

// GetQuota OpenAI 没有公开的配额接口
func (p *Provider) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, providers.ErrQuotaUnsupported
}

func toProviderError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return providers.TransportError(ID, err)
	}

	var header http.Header
	if apiErr.Response != nil {
		header = apiErr.Response.Header
	}
	pe := providers.FromHTTPStatus(ID, apiErr.StatusCode, apiErr.Message, header)
	if apiErr.Code == "insufficient_quota" {
		pe.Kind = providers.KindQuotaExceeded
	}
	pe.Cause = err
	return pe
}
