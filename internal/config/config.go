package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nerdneilsfield/go-translator-hub/internal/logger"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/retry"
	"github.com/nerdneilsfield/go-translator-hub/pkg/translation"
)

// EnvPrefix 环境变量前缀，如 TRANSLATOR_PRIMARY_PROVIDER
const EnvPrefix = "TRANSLATOR"

// ConfigName 默认配置文件名（不含扩展名）
const ConfigName = ".translator-hub"

// RetrySettings 退避参数
type RetrySettings struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

// EngineSettings 引擎参数
type EngineSettings struct {
	CacheCapacity   int           `mapstructure:"cache_capacity"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	RateLimit       bool          `mapstructure:"rate_limit"`
	Retry           RetrySettings `mapstructure:"retry"`
}

// Config 保存翻译器的所有配置
type Config struct {
	Version                 int                           `mapstructure:"version"`
	PrimaryProvider         string                        `mapstructure:"primary_provider"`
	FallbackProviders       []string                      `mapstructure:"fallback_providers"`
	Providers               map[string]providers.Settings `mapstructure:"providers"`
	Options                 translation.ManagerOptions    `mapstructure:"options"`
	LanguagePairPreferences map[string]string             `mapstructure:"language_pair_preferences"`

	SourceLang   string `mapstructure:"source_lang"`
	TargetLang   string `mapstructure:"target_lang"`
	GlossaryPath string `mapstructure:"glossary_path"`

	Engine EngineSettings `mapstructure:"engine"`

	// DataDir 统计和缓存快照的存储目录
	DataDir          string        `mapstructure:"data_dir"`
	AutoSaveInterval time.Duration `mapstructure:"auto_save_interval"`

	Log logger.Options `mapstructure:"log"`
}

// getDefaultDataDir 获取默认数据目录
func getDefaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "translator-hub")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".translator-hub", "data")
	}
	return "./translator-hub-data"
}

// DefaultProviders 默认提供商配置，凭据从环境变量读取
func DefaultProviders() map[string]providers.Settings {
	return map[string]providers.Settings{
		"google": {Enabled: true, Config: providers.AdapterConfig{APIKey: "${GOOGLE_API_KEY}"}},
		"deepl":  {Enabled: true, Config: providers.AdapterConfig{APIKey: "${DEEPL_API_KEY}"}},
		"openai": {Enabled: false, Config: providers.AdapterConfig{APIKey: "${OPENAI_API_KEY}", Model: "gpt-4o-mini"}},
		"deepseek": {Enabled: false, Config: providers.AdapterConfig{
			Type: "deepseek", APIKey: "${DEEPSEEK_API_KEY}",
		}},
		"baidu": {Enabled: false, Config: providers.AdapterConfig{
			AppID: "${BAIDU_APP_ID}", Secret: "${BAIDU_SECRET}",
		}},
		"libretranslate": {Enabled: false, Config: providers.AdapterConfig{Endpoint: "http://localhost:5000"}},
		"deeplx":         {Enabled: false, Config: providers.AdapterConfig{Endpoint: "http://localhost:1188"}},
		"ollama":         {Enabled: false, Config: providers.AdapterConfig{Endpoint: "http://localhost:11434"}},
	}
}

// NewDefaultConfig 创建一个新的默认配置
func NewDefaultConfig() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Version:           1,
		PrimaryProvider:   "google",
		FallbackProviders: []string{"deepl", "openai"},
		Providers:         DefaultProviders(),
		Options:           translation.DefaultManagerOptions(),
		SourceLang:        translation.AutoDetect,
		TargetLang:        "zh-CN",
		Engine: EngineSettings{
			CacheCapacity:  translation.DefaultCacheCapacity,
			CacheTTL:       translation.DefaultCacheTTL,
			BreakerTimeout: 30 * time.Second,
			RateLimit:      true,
			Retry: RetrySettings{
				BaseDelay:  policy.BaseDelay,
				MaxDelay:   policy.MaxDelay,
				Multiplier: policy.Multiplier,
				Jitter:     policy.Jitter,
			},
		},
		DataDir:          getDefaultDataDir(),
		AutoSaveInterval: 30 * time.Second,
	}
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	d := NewDefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("primary_provider", d.PrimaryProvider)
	v.SetDefault("fallback_providers", d.FallbackProviders)
	v.SetDefault("source_lang", d.SourceLang)
	v.SetDefault("target_lang", d.TargetLang)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("auto_save_interval", d.AutoSaveInterval)

	v.SetDefault("options.auto_fallback", d.Options.AutoFallback)
	v.SetDefault("options.cache_results", d.Options.CacheResults)
	v.SetDefault("options.parallel_translation", d.Options.ParallelTranslation)
	v.SetDefault("options.retry_count", d.Options.RetryCount)
	v.SetDefault("options.timeout", d.Options.Timeout)

	v.SetDefault("engine.cache_capacity", d.Engine.CacheCapacity)
	v.SetDefault("engine.cache_ttl", d.Engine.CacheTTL)
	v.SetDefault("engine.max_parallel", d.Engine.MaxParallel)
	v.SetDefault("engine.breaker_failures", d.Engine.BreakerFailures)
	v.SetDefault("engine.breaker_timeout", d.Engine.BreakerTimeout)
	v.SetDefault("engine.rate_limit", d.Engine.RateLimit)
	v.SetDefault("engine.retry.base_delay", d.Engine.Retry.BaseDelay)
	v.SetDefault("engine.retry.max_delay", d.Engine.Retry.MaxDelay)
	v.SetDefault("engine.retry.multiplier", d.Engine.Retry.Multiplier)
	v.SetDefault("engine.retry.jitter", d.Engine.Retry.Jitter)

	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// LoadEnv 加载 .env 文件；path 为空时尝试当前目录的 .env，不存在不报错
func LoadEnv(path string) error {
	if path != "" {
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// LoadConfig 从文件加载配置，未指定路径时在家目录和当前目录查找
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize 统一提供商 ID 大小写并展开凭据中的 ${ENV}
func (c *Config) normalize() {
	settings := make(map[string]providers.Settings, len(c.Providers))
	for id, s := range c.Providers {
		s.Config = expandConfig(s.Config)
		settings[strings.ToLower(strings.TrimSpace(id))] = s
	}
	c.Providers = settings
	c.PrimaryProvider = strings.ToLower(strings.TrimSpace(c.PrimaryProvider))
	for i, id := range c.FallbackProviders {
		c.FallbackProviders[i] = strings.ToLower(strings.TrimSpace(id))
	}
	if c.DataDir == "" {
		c.DataDir = getDefaultDataDir()
	}
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.Log.File = os.ExpandEnv(c.Log.File)
}

func expandConfig(cfg providers.AdapterConfig) providers.AdapterConfig {
	cfg.APIKey = os.ExpandEnv(cfg.APIKey)
	cfg.APISecret = os.ExpandEnv(cfg.APISecret)
	cfg.AppID = os.ExpandEnv(cfg.AppID)
	cfg.Secret = os.ExpandEnv(cfg.Secret)
	cfg.Endpoint = os.ExpandEnv(cfg.Endpoint)
	cfg.Proxy = os.ExpandEnv(cfg.Proxy)
	if len(cfg.Headers) > 0 {
		headers := make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = os.ExpandEnv(v)
		}
		cfg.Headers = headers
	}
	return cfg
}

// Validate 检查配置
func (c *Config) Validate() error {
	var errs []error
	if err := c.ManagerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.PrimaryProvider != "" {
		if _, ok := c.Providers[c.PrimaryProvider]; !ok {
			errs = append(errs, fmt.Errorf("primary provider %q has no providers entry", c.PrimaryProvider))
		}
	}
	for _, id := range c.FallbackProviders {
		if _, ok := c.Providers[id]; !ok {
			errs = append(errs, fmt.Errorf("fallback provider %q has no providers entry", id))
		}
	}
	if c.Engine.CacheCapacity < 0 {
		errs = append(errs, fmt.Errorf("engine.cache_capacity must be >= 0"))
	}
	if c.Engine.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("engine.max_parallel must be >= 0"))
	}
	if c.Engine.BreakerFailures < 0 {
		errs = append(errs, fmt.Errorf("engine.breaker_failures must be >= 0"))
	}
	if j := c.Engine.Retry.Jitter; j < 0 || j > 1 {
		errs = append(errs, fmt.Errorf("engine.retry.jitter must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// ManagerConfig 转换为引擎的调度配置快照
func (c *Config) ManagerConfig() translation.ManagerConfig {
	return translation.ManagerConfig{
		Version:                 c.Version,
		PrimaryProvider:         c.PrimaryProvider,
		FallbackProviders:       c.FallbackProviders,
		Providers:               c.Providers,
		Options:                 c.Options,
		LanguagePairPreferences: c.LanguagePairPreferences,
	}
}

// EngineConfig 转换为引擎参数
func (c *Config) EngineConfig() translation.EngineConfig {
	return translation.EngineConfig{
		CacheCapacity: c.Engine.CacheCapacity,
		CacheTTL:      c.Engine.CacheTTL,
		Retry: retry.Policy{
			MaxRetries: c.Options.RetryCount,
			BaseDelay:  c.Engine.Retry.BaseDelay,
			MaxDelay:   c.Engine.Retry.MaxDelay,
			Multiplier: c.Engine.Retry.Multiplier,
			Jitter:     c.Engine.Retry.Jitter,
		},
		MaxParallel:     c.Engine.MaxParallel,
		BreakerFailures: c.Engine.BreakerFailures,
		BreakerTimeout:  c.Engine.BreakerTimeout,
		RateLimit:       c.Engine.RateLimit,
	}
}

// SaveConfig 将配置保存到文件
func SaveConfig(cfg *Config, configPath string) error {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		configPath = filepath.Join(home, ConfigName+".yaml")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.MergeConfigMap(structToMap(cfg)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}
	return v.WriteConfigAs(configPath)
}

// structToMap 将配置转换为 map，键名与 mapstructure 标签一致
func structToMap(c *Config) map[string]interface{} {
	provs := make(map[string]interface{}, len(c.Providers))
	for id, s := range c.Providers {
		provs[id] = map[string]interface{}{
			"enabled": s.Enabled,
			"config":  adapterConfigToMap(s.Config),
		}
	}
	return map[string]interface{}{
		"version":                   c.Version,
		"primary_provider":          c.PrimaryProvider,
		"fallback_providers":        c.FallbackProviders,
		"providers":                 provs,
		"language_pair_preferences": c.LanguagePairPreferences,
		"source_lang":               c.SourceLang,
		"target_lang":               c.TargetLang,
		"glossary_path":             c.GlossaryPath,
		"data_dir":                  c.DataDir,
		"auto_save_interval":        c.AutoSaveInterval.String(),
		"options": map[string]interface{}{
			"auto_fallback":        c.Options.AutoFallback,
			"cache_results":        c.Options.CacheResults,
			"parallel_translation": c.Options.ParallelTranslation,
			"retry_count":          c.Options.RetryCount,
			"timeout":              c.Options.Timeout.String(),
		},
		"engine": map[string]interface{}{
			"cache_capacity":   c.Engine.CacheCapacity,
			"cache_ttl":        c.Engine.CacheTTL.String(),
			"max_parallel":     c.Engine.MaxParallel,
			"breaker_failures": c.Engine.BreakerFailures,
			"breaker_timeout":  c.Engine.BreakerTimeout.String(),
			"rate_limit":       c.Engine.RateLimit,
			"retry": map[string]interface{}{
				"base_delay": c.Engine.Retry.BaseDelay.String(),
				"max_delay":  c.Engine.Retry.MaxDelay.String(),
				"multiplier": c.Engine.Retry.Multiplier,
				"jitter":     c.Engine.Retry.Jitter,
			},
		},
		"log": map[string]interface{}{
			"debug":        c.Log.Debug,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"compress":     c.Log.Compress,
			"console":      c.Log.Console,
		},
	}
}

func adapterConfigToMap(cfg providers.AdapterConfig) map[string]interface{} {
	m := map[string]interface{}{}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("type", cfg.Type)
	set("api_key", cfg.APIKey)
	set("api_secret", cfg.APISecret)
	set("app_id", cfg.AppID)
	set("secret", cfg.Secret)
	set("endpoint", cfg.Endpoint)
	set("model", cfg.Model)
	set("proxy", cfg.Proxy)
	if cfg.Temperature != 0 {
		m["temperature"] = cfg.Temperature
	}
	if cfg.MaxTokens != 0 {
		m["max_tokens"] = cfg.MaxTokens
	}
	if cfg.Timeout != 0 {
		m["timeout"] = cfg.Timeout.String()
	}
	if len(cfg.Headers) > 0 {
		m["headers"] = cfg.Headers
	}
	if len(cfg.Extra) > 0 {
		m["extra"] = cfg.Extra
	}
	return m
}
