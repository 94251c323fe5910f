package translation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/deepl"
	"github.com/nerdneilsfield/go-translator-hub/pkg/providers/google"
)

type httpFailure struct {
	name   string
	status int
	body   string
	kind   providers.ErrorKind
	calls  int // 主提供商的调用次数，RetryCount 为 2
}

// failingServer 始终以给定状态码响应并计数
func failingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

// runAdapterFailures 对每种失败响应分别验证回退路径和单提供商时的错误类别
func runAdapterFailures(t *testing.T, id string, build func(endpoint string) (providers.Adapter, error), tests []httpFailure) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Run("falls back", func(t *testing.T) {
				server, hits := failingServer(t, tt.status, tt.body)
				primary, err := build(server.URL)
				require.NoError(t, err)
				backup := newFake("backup", nil)
				e, _ := newTestEngine(t, primary, backup)

				resp, err := e.Translate(context.Background(), helloRequest(), managerConfig(id, "backup"))
				require.NoError(t, err)
				assert.Equal(t, "backup", resp.Provider)
				assert.Equal(t, tt.calls, int(hits.Load()))
				assert.Equal(t, 1, backup.Calls())
			})

			t.Run("exhausts alone", func(t *testing.T) {
				server, hits := failingServer(t, tt.status, tt.body)
				primary, err := build(server.URL)
				require.NoError(t, err)
				e, _ := newTestEngine(t, primary)

				_, err = e.Translate(context.Background(), helloRequest(), managerConfig(id))
				require.Error(t, err)
				var ee *ExhaustedError
				require.ErrorAs(t, err, &ee)
				assert.Equal(t, []providers.ErrorKind{tt.kind}, ee.Kinds())
				assert.Equal(t, tt.calls, int(hits.Load()))
			})
		})
	}
}

func TestGoogleHTTPFailuresThroughEngine(t *testing.T) {
	build := func(endpoint string) (providers.Adapter, error) {
		return google.New(providers.AdapterConfig{APIKey: "test-key", Endpoint: endpoint})
	}
	runAdapterFailures(t, google.ID, build, []httpFailure{
		{"key not valid", http.StatusBadRequest,
			`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT","details":[{"reason":"API_KEY_INVALID"}]}}`,
			providers.KindUnauthenticated, 1},
		{"bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"Invalid Value"}}`, providers.KindRejected, 1},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":401,"message":"Login Required"}}`, providers.KindUnauthenticated, 1},
		{"forbidden", http.StatusForbidden, `{"error":{"code":403,"message":"The caller does not have permission"}}`, providers.KindUnauthenticated, 1},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Rate Limit Exceeded"}}`, providers.KindRateLimited, 3},
		{"server error", http.StatusInternalServerError, `{"error":{"code":500,"message":"Backend Error"}}`, providers.KindTransient, 3},
		{"unavailable", http.StatusServiceUnavailable, `{"error":{"code":503,"message":"Service Unavailable"}}`, providers.KindTransient, 3},
	})
}

func TestDeepLHTTPFailuresThroughEngine(t *testing.T) {
	build := func(endpoint string) (providers.Adapter, error) {
		return deepl.New(providers.AdapterConfig{APIKey: "secret", Endpoint: endpoint})
	}
	runAdapterFailures(t, deepl.ID, build, []httpFailure{
		{"unsupported target", http.StatusBadRequest, `{"message":"Value for 'target_lang' not supported."}`, providers.KindUnsupportedLanguage, 1},
		{"bad request", http.StatusBadRequest, `{"message":"Bad request. Reason: Parameter 'text' not specified."}`, providers.KindRejected, 1},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Unauthorized"}`, providers.KindUnauthenticated, 1},
		{"forbidden", http.StatusForbidden, `{"message":"Authorization failure, check auth_key"}`, providers.KindUnauthenticated, 1},
		{"rate limited", http.StatusTooManyRequests, `{"message":"Too many requests"}`, providers.KindRateLimited, 3},
		{"quota exceeded", 456, `{"message":"Quota exceeded"}`, providers.KindQuotaExceeded, 1},
		{"server error", http.StatusInternalServerError, `{"message":"Internal error"}`, providers.KindTransient, 3},
		{"unavailable", http.StatusServiceUnavailable, `{"message":"Service unavailable"}`, providers.KindTransient, 3},
	})
}

func TestInvalidRequestNeverReachesProviders(t *testing.T) {
	server, hits := failingServer(t, http.StatusOK, `{}`)
	g, err := google.New(providers.AdapterConfig{APIKey: "test-key", Endpoint: server.URL})
	require.NoError(t, err)
	backup := newFake("backup", nil)
	e, _ := newTestEngine(t, g, backup)

	_, err = e.Translate(context.Background(), Request{Text: " ", TargetLang: "zh"}, managerConfig(google.ID, "backup"))
	require.Error(t, err)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, providers.KindInvalidRequest, providers.KindOf(err))
	assert.Zero(t, hits.Load())
	assert.Zero(t, backup.Calls())
}
