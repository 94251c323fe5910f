package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
version: 2
primary_provider: DeepL
fallback_providers: [google, ollama]
providers:
  deepl:
    enabled: true
    config:
      api_key: ${TEST_DEEPL_KEY}
      timeout: 5s
  google:
    enabled: true
    config:
      api_key: plain-key
  ollama:
    enabled: false
    config:
      endpoint: http://localhost:11434/
      model: qwen2.5:7b
options:
  auto_fallback: true
  parallel_translation: true
  retry_count: 1
  timeout: 10s
language_pair_preferences:
  "en>ja": google
engine:
  max_parallel: 2
  breaker_failures: 5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_DEEPL_KEY", "secret-from-env")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Version)
	assert.Equal(t, "deepl", cfg.PrimaryProvider)
	assert.Equal(t, []string{"google", "ollama"}, cfg.FallbackProviders)
	assert.Equal(t, "secret-from-env", cfg.Providers["deepl"].Config.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Providers["deepl"].Config.Timeout)
	assert.False(t, cfg.Providers["ollama"].Enabled)

	assert.True(t, cfg.Options.ParallelTranslation)
	assert.True(t, cfg.Options.CacheResults, "unset options keep their defaults")
	assert.Equal(t, 1, cfg.Options.RetryCount)
	assert.Equal(t, 10*time.Second, cfg.Options.Timeout)
	assert.Equal(t, "google", cfg.LanguagePairPreferences["en>ja"])

	ec := cfg.EngineConfig()
	assert.Equal(t, 2, ec.MaxParallel)
	assert.Equal(t, 5, ec.BreakerFailures)
	assert.Equal(t, 500*time.Millisecond, ec.Retry.BaseDelay)

	mc := cfg.ManagerConfig()
	assert.Equal(t, "deepl", mc.Selection().Primary)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TRANSLATOR_PRIMARY_PROVIDER", "google")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "google", cfg.PrimaryProvider)
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
primary_provider: nowhere
providers:
  google:
    enabled: true
options:
  retry_count: -1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry count")
	assert.Contains(t, err.Error(), `primary provider "nowhere"`)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	orig := NewDefaultConfig()
	orig.Options.Timeout = 45 * time.Second
	orig.LanguagePairPreferences = map[string]string{"en>de": "deepl"}
	require.NoError(t, SaveConfig(orig, path))

	t.Setenv("GOOGLE_API_KEY", "g-key")
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, orig.PrimaryProvider, loaded.PrimaryProvider)
	assert.Equal(t, 45*time.Second, loaded.Options.Timeout)
	assert.Equal(t, "g-key", loaded.Providers["google"].Config.APIKey)
	assert.Equal(t, "deepl", loaded.LanguagePairPreferences["en>de"])
	assert.Equal(t, orig.Engine.CacheTTL, loaded.Engine.CacheTTL)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_ENV_ONLY_KEY=from-dotenv\n"), 0o644))
	t.Setenv("TEST_ENV_ONLY_KEY", "")

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("TEST_ENV_ONLY_KEY"))

	assert.Error(t, LoadEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestLoadGlossary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
source_lang = "en"
target_lang = "zh-CN"

[terms]
"pod" = "容器组"

[translations]
"node" = "节点"
"pod" = "ignored"
`), 0o644))

	g, err := LoadGlossary(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"pod": "容器组", "node": "节点"}, g.Terms)

	assert.True(t, g.Applies("en", "zh-cn"))
	assert.True(t, g.Applies("auto", "zh-CN"))
	assert.False(t, g.Applies("fr", "zh-CN"))
	assert.False(t, g.Applies("en", "ja"))

	_, err = LoadGlossary(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
