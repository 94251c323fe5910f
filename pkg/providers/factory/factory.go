package factory

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/baidu"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/compatible"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/deepl"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/deeplx"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/google"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/libretranslate"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/ollama"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/openai"
)

// compatiblePresets OpenAI 兼容服务的默认地址与模型
var compatiblePresets = map[string][2]string{
	"deepseek":   {"https://api.deepseek.com/v1", "deepseek-chat"},
	"groq":       {"https://api.groq.com/openai/v1", "llama-3.1-8b-instant"},
	"moonshot":   {"https://api.moonshot.cn/v1", "moonshot-v1-8k"},
	"openrouter": {"https://openrouter.ai/api/v1", "openai/gpt-4o-mini"},
	"compatible": {compatible.DefaultEndpoint, compatible.DefaultModel},
}

// Types 支持的适配器类型
func Types() []string {
	types := []string{"google", "deepl", "deeplx", "libretranslate", "baidu", "openai", "ollama"}
	for k := range compatiblePresets {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// Create 根据配置创建适配器，Type 为空时以 id 作为类型
func Create(id string, cfg providers.AdapterConfig) (providers.Adapter, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	cfg = providers.NormalizeConfig(cfg)
	typ := cfg.Type
	if typ == "" {
		typ = id
	}

	var (
		adapter providers.Adapter
		err     error
	)
	switch typ {
	case "google":
		adapter, err = google.New(cfg)
	case "deepl":
		adapter, err = deepl.New(cfg)
	case "deeplx":
		adapter, err = deeplx.New(cfg)
	case "libretranslate":
		adapter, err = libretranslate.New(cfg)
	case "baidu":
		adapter, err = baidu.New(cfg)
	case "openai":
		adapter, err = openai.New(cfg)
	case "ollama":
		adapter, err = ollama.New(cfg)
	default:
		preset, ok := compatiblePresets[typ]
		if !ok {
			return nil, fmt.Errorf("unsupported provider type %q for %q (supported: %s)", typ, id, strings.Join(Types(), ", "))
		}
		if cfg.Endpoint == "" {
			cfg.Endpoint = preset[0]
		}
		if cfg.Model == "" {
			cfg.Model = preset[1]
		}
		p, err := compatible.New(id, cfg)
		if err != nil {
			return nil, fmt.Errorf("create %s provider: %w", id, err)
		}
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", id, err)
	}

	if adapter.Info().ID != id {
		return &renamed{Adapter: adapter, id: id}, nil
	}
	return adapter, nil
}

// Apply 为配置中的所有提供商创建适配器并注册，单个失败不影响其他提供商
func Apply(reg *providers.Registry, settings map[string]providers.Settings, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	ids := make([]string, 0, len(settings))
	for id := range settings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		adapter, err := Create(id, settings[id].Config)
		if err != nil {
			logger.Warn("failed to create provider", zap.String("provider", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if err := reg.Register(adapter); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Debug("provider registered",
			zap.String("provider", adapter.Info().ID),
			zap.Bool("enabled", settings[id].Enabled))
	}
	return errors.Join(errs...)
}

// renamed 以配置中的 id 注册同类型的第二个实例，如 google-backup
type renamed struct {
	providers.Adapter
	id string
}

func (r *renamed) Info() providers.Info {
	info := r.Adapter.Info()
	info.ID = r.id
	return info
}
