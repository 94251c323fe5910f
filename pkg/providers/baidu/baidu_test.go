package baidu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

// mockBaidu 校验签名并返回固定结果
func mockBaidu(t *testing.T, secret string) *httptest.Server {
	mux := http.NewServeMux()
	check := func(w http.ResponseWriter, r *http.Request) bool {
		require.NoError(t, r.ParseForm())
		f := r.PostForm
		if f.Get("sign") != Sign(f.Get("appid"), f.Get("q"), f.Get("salt"), secret) {
			w.Write([]byte(`{"error_code":"54001","error_msg":"Invalid Sign"}`))
			return false
		}
		return true
	}
	mux.HandleFunc("/translate", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		switch r.PostForm.Get("to") {
		case "zh":
			w.Write([]byte(`{"from":"en","to":"zh","trans_result":[{"src":"Hello","dst":"你好"},{"src":"World","dst":"世界"}]}`))
		case "kor":
			w.Write([]byte(`{"error_code":54003,"error_msg":"Invalid Access Limit"}`))
		default:
			w.Write([]byte(`{"error_code":"58001","error_msg":"Invalid Language"}`))
		}
	})
	mux.HandleFunc("/language", func(w http.ResponseWriter, r *http.Request) {
		if !check(w, r) {
			return
		}
		w.Write([]byte(`{"error_code":0,"error_msg":"success","data":{"src":"jp"}}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestTranslateWithLegacyCredentials(t *testing.T) {
	server := mockBaidu(t, "s3cret")

	// app_id/secret 旧字段在构造时映射
	p, err := New(providers.AdapterConfig{AppID: "2015063000000001", Secret: "s3cret", Endpoint: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "2015063000000001", p.config.APIKey)

	resp, err := p.Translate(context.Background(), &providers.ProviderRequest{Text: "Hello\nWorld", TargetLanguage: "zh-CN"})
	require.NoError(t, err)
	assert.Equal(t, "你好\n世界", resp.Text)
	assert.Equal(t, "en", resp.DetectedSourceLanguage)
}

func TestTranslateErrorCodes(t *testing.T) {
	server := mockBaidu(t, "s3cret")

	tests := []struct {
		name   string
		secret string
		target string
		kind   providers.ErrorKind
	}{
		{"签名错误", "wrong", "zh", providers.KindUnauthenticated},
		{"频率限制", "s3cret", "ko", providers.KindRateLimited},
		{"不支持的语言", "s3cret", "tlh", providers.KindUnsupportedLanguage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(providers.AdapterConfig{APIKey: "app", APISecret: tt.secret, Endpoint: server.URL})
			require.NoError(t, err)
			_, err = p.Translate(context.Background(), &providers.ProviderRequest{Text: "Hello", TargetLanguage: tt.target})
			assert.Equal(t, tt.kind, providers.KindOf(err))
		})
	}
}

func TestMissingSecret(t *testing.T) {
	p, err := New(providers.AdapterConfig{APIKey: "app"})
	require.NoError(t, err)
	_, err = p.Translate(context.Background(), &providers.ProviderRequest{Text: "Hello", TargetLanguage: "zh"})
	assert.Equal(t, providers.KindUnauthenticated, providers.KindOf(err))
}

func TestDetectLanguage(t *testing.T) {
	server := mockBaidu(t, "s3cret")
	p, err := New(providers.AdapterConfig{APIKey: "app", APISecret: "s3cret", Endpoint: server.URL})
	require.NoError(t, err)

	d, err := p.DetectLanguage(context.Background(), "こんにちは")
	require.NoError(t, err)
	assert.Equal(t, "ja", d.Language)
}

func TestSign(t *testing.T) {
	// 官方文档示例
	assert.Equal(t, "f89f9594663708c1605f3d736d01d2d4",
		Sign("2015063000000001", "apple", "1435660288", "12345678"))
}
