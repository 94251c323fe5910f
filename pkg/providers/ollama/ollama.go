package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/detect"
)

const (
	// ID 提供商标识
	ID = "ollama"

	// DefaultEndpoint 本地 Ollama 服务
	DefaultEndpoint = "http://localhost:11434"

	// DefaultModel 默认模型
	DefaultModel = "qwen2.5:7b"
)

// Provider Ollama 提供商
type Provider struct {
	config     providers.AdapterConfig
	httpClient *http.Client
}

var _ providers.Adapter = (*Provider)(nil)

// New 创建 Ollama 提供商，本地推理较慢，默认超时放宽到两分钟
func New(cfg providers.AdapterConfig) (*Provider, error) {
	cfg = providers.NormalizeConfig(cfg)
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
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
		Name:     "Ollama",
		Category: providers.CategoryLocal,
		Features: []string{providers.FeatureFormality, providers.FeatureGlossary},
		Pricing:  providers.Pricing{Model: p.config.Model},
	}
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// GenerateResponse 生成响应
type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// TagsResponse 本地模型列表
type TagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	system, user := providers.TranslationPrompt(req)

	options := map[string]any{}
	if p.config.Temperature > 0 {
		options["temperature"] = p.config.Temperature
	}
	if p.config.MaxTokens > 0 {
		options["num_predict"] = p.config.MaxTokens
	}

	payload, err := json.Marshal(GenerateRequest{
		Model:   p.config.Model,
		System:  system,
		Prompt:  user,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	providers.ApplyHeaders(httpReq, p.config.Headers)

	body, err := providers.Do(p.httpClient, httpReq, ID, "error")
	if err != nil {
		return nil, err
	}

	var resp GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providers.WrapError(ID, providers.KindTransient, fmt.Errorf("failed to decode response: %w", err))
	}
	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return nil, providers.NewError(ID, providers.KindTransient, "empty response from model")
	}

	return &providers.ProviderResponse{
		Text:       text,
		Model:      p.config.Model,
		Characters: len([]rune(req.Text)),
		TokensIn:   resp.PromptEvalCount,
		TokensOut:  resp.EvalCount,
	}, nil
}

// DetectLanguage 使用本地检测
func (p *Provider) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	return detect.Detect(ID, text)
}

// Validate 检查服务可达且模型已拉取
func (p *Provider) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	probe, err := New(cfg)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, probe.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	body, err := providers.Do(probe.httpClient, httpReq, ID, "error")
	if err != nil {
		return err
	}

	var tags TagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return providers.WrapError(ID, providers.KindTransient, fmt.Errorf("failed to decode tags: %w", err))
	}
	for _, m := range tags.Models {
		if m.Name == probe.config.Model || m.Model == probe.config.Model ||
			strings.TrimSuffix(m.Name, ":latest") == probe.config.Model {
			return nil
		}
	}
	return providers.NewError(ID, providers.KindRejected,
		fmt.Sprintf("model %q not found, run `ollama pull %s`", probe.config.Model, probe.config.Model))
}

// GetQuota 本地模型没有配额
func (p *Provider) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, providers.ErrQuotaUnsupported
}
