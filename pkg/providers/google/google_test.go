package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(providers.AdapterConfig{APIKey: "test-key", Endpoint: server.URL})
	require.NoError(t, err)
	return p
}

func TestTranslate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/", r.URL.Path)
		assert.Equal(t, "test-key", r.PostForm.Get("key"))
		assert.Equal(t, "Hello", r.PostForm.Get("q"))
		assert.Equal(t, "en", r.PostForm.Get("source"))
		assert.Equal(t, "zh-CN", r.PostForm.Get("target"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"translations":[{"translatedText":"你好","detectedSourceLanguage":"en"}]}}`))
	})

	resp, err := p.Translate(context.Background(), &providers.ProviderRequest{
		Text:           "Hello",
		SourceLanguage: "en",
		TargetLanguage: "zh",
	})
	require.NoError(t, err)
	assert.Equal(t, "你好", resp.Text)
	assert.Equal(t, "en", resp.DetectedSourceLanguage)
	assert.Equal(t, 5, resp.Characters)
	assert.Equal(t, "nmt", resp.Model)
}

func TestTranslateAutoSourceOmitsSource(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, ok := r.PostForm["source"]
		assert.False(t, ok)
		w.Write([]byte(`{"data":{"translations":[{"translatedText":"Bonjour","detectedSourceLanguage":"en"}]}}`))
	})

	resp, err := p.Translate(context.Background(), &providers.ProviderRequest{
		Text: "Hello", SourceLanguage: "auto", TargetLanguage: "fr",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", resp.Text)
}

func TestTranslateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   providers.ErrorKind
		msg    string
	}{
		{"invalid key", http.StatusForbidden, `{"error":{"code":403,"message":"API key not valid"}}`, providers.KindUnauthenticated, "API key not valid"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Quota exceeded"}}`, providers.KindRateLimited, "Quota exceeded"},
		{"server error", http.StatusInternalServerError, `oops`, providers.KindTransient, "oops"},
		{"bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"Invalid Value"}}`, providers.KindRejected, "Invalid Value"},
		{"key rejected as bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT","details":[{"reason":"API_KEY_INVALID"}]}}`, providers.KindUnauthenticated, "API key not valid"},
		{"v2 key invalid reason", http.StatusBadRequest, `{"error":{"code":400,"message":"Bad Request","errors":[{"reason":"keyInvalid","message":"Bad Request"}]}}`, providers.KindUnauthenticated, "Bad Request"},
		{"bad language pair", http.StatusBadRequest, `{"error":{"code":400,"message":"Bad language pair: en|xx"}}`, providers.KindUnsupportedLanguage, "Bad language pair"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := p.Translate(context.Background(), &providers.ProviderRequest{Text: "Hello", TargetLanguage: "de"})
			require.Error(t, err)
			var pe *providers.Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Contains(t, pe.Message, tt.msg)
		})
	}
}

func TestTranslateWithoutKey(t *testing.T) {
	p, err := New(providers.AdapterConfig{})
	require.NoError(t, err)

	_, err = p.Translate(context.Background(), &providers.ProviderRequest{Text: "Hello", TargetLanguage: "de"})
	assert.Equal(t, providers.KindUnauthenticated, providers.KindOf(err))
}

func TestDetectLanguage(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		w.Write([]byte(`{"data":{"detections":[[{"language":"fr","confidence":0.93,"isReliable":false}]]}}`))
	})

	d, err := p.DetectLanguage(context.Background(), "Bonjour tout le monde")
	require.NoError(t, err)
	assert.Equal(t, "fr", d.Language)
	assert.InDelta(t, 0.93, d.Confidence, 1e-9)
}

func TestValidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("key") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key."}}`))
			return
		}
		assert.Equal(t, "/languages", r.URL.Path)
		w.Write([]byte(`{"data":{"languages":[{"language":"en"}]}}`))
	}))
	defer server.Close()

	p, err := New(providers.AdapterConfig{})
	require.NoError(t, err)

	assert.NoError(t, p.Validate(context.Background(), providers.AdapterConfig{APIKey: "good", Endpoint: server.URL}))
	assert.Error(t, p.Validate(context.Background(), providers.AdapterConfig{APIKey: "bad", Endpoint: server.URL}))
	assert.Equal(t, providers.KindUnauthenticated,
		providers.KindOf(p.Validate(context.Background(), providers.AdapterConfig{Endpoint: server.URL})))
}

func TestGetQuotaUnsupported(t *testing.T) {
	p, err := New(providers.AdapterConfig{APIKey: "k"})
	require.NoError(t, err)
	_, err = p.GetQuota(context.Background())
	assert.ErrorIs(t, err, providers.ErrQuotaUnsupported)
}

func TestNormalizeLanguageCode(t *testing.T) {
	assert.Equal(t, "zh-CN", normalizeLanguageCode("zh"))
	assert.Equal(t, "zh-TW", normalizeLanguageCode("zh-Hant"))
	assert.Equal(t, "de", normalizeLanguageCode("de"))
	assert.Equal(t, "", normalizeLanguageCode(""))
}
