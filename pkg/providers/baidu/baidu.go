package baidu

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nerdneilsfield/go-translator-hub/pkg/providers"
)

const (
	// ID 提供商标识
	ID = "baidu"

	// DefaultEndpoint 百度通用翻译接口
	DefaultEndpoint = "https://fanyi-api.baidu.com/api/trans/vip"
)

// Provider 百度翻译提供商
//
// APIKey 对应 appid，APISecret 对应密钥；旧配置中的 app_id/secret 在 New 中完成映射。
type Provider struct {
	config     providers.AdapterConfig
	httpClient *http.Client
	salt       func() string
}

var _ providers.Adapter = (*Provider)(nil)

// New 创建百度翻译提供商
func New(cfg providers.AdapterConfig) (*Provider, error) {
	cfg = providers.NormalizeConfig(cfg)
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	client, err := providers.NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{
		config:     cfg,
		httpClient: client,
		salt:       func() string { return strconv.FormatInt(time.Now().UnixNano(), 10) },
	}, nil
}

// Info 提供商描述
func (p *Provider) Info() providers.Info {
	return providers.Info{
		ID:       ID,
		Name:     "Baidu Translate",
		Category: providers.CategoryTraditional,
		Languages: []string{
			"zh", "en", "ja", "ko", "fr", "es", "th", "ar", "ru", "pt", "de", "it", "el", "nl",
			"pl", "bg", "et", "da", "fi", "cs", "ro", "sl", "sv", "hu", "vi", "zh-TW",
		},
		Features:          []string{providers.FeatureDetect},
		RequiresAPIKey:    true,
		RequiresAPISecret: true,
		Pricing:           providers.Pricing{Model: "general", PerMillionChars: 49, Currency: "CNY"},
		RateLimit:         &providers.RateLimit{RequestsPerMinute: 60},
	}
}

// Sign 计算签名 md5(appid+q+salt+secret)
func Sign(appID, query, salt, secret string) string {
	sum := md5.Sum([]byte(appID + query + salt + secret))
	return hex.EncodeToString(sum[:])
}

// Translate 执行翻译
func (p *Provider) Translate(ctx context.Context, req *providers.ProviderRequest) (*providers.ProviderResponse, error) {
	if err := providers.RequireCredentials(p.Info(), p.config); err != nil {
		return nil, err
	}

	from := toBaiduCode(req.SourceLanguage)
	if from == "" {
		from = "auto"
	}
	params := url.Values{}
	params.Set("from", from)
	params.Set("to", toBaiduCode(req.TargetLanguage))

	body, err := p.call(ctx, p.config, "/translate", req.Text, params)
	if err != nil {
		return nil, err
	}

	results := gjson.GetBytes(body, "trans_result.#.dst").Array()
	if len(results) == 0 {
		return nil, providers.NewError(ID, providers.KindTransient, "no translation returned")
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, r.String())
	}

	return &providers.ProviderResponse{
		Text:                   strings.Join(lines, "\n"),
		DetectedSourceLanguage: fromBaiduCode(gjson.GetBytes(body, "from").String()),
		Model:                  "general",
		Characters:             len([]rune(req.Text)),
	}, nil
}

// DetectLanguage 语种识别
func (p *Provider) DetectLanguage(ctx context.Context, text string) (*providers.Detection, error) {
	if err := providers.RequireCredentials(p.Info(), p.config); err != nil {
		return nil, err
	}
	body, err := p.call(ctx, p.config, "/language", text, url.Values{})
	if err != nil {
		return nil, err
	}
	src := gjson.GetBytes(body, "data.src").String()
	if src == "" {
		return nil, providers.NewError(ID, providers.KindUnknown, "no detection returned")
	}
	// 接口不返回置信度
	return &providers.Detection{Language: fromBaiduCode(src), Confidence: 1}, nil
}

// Validate 翻译一个单词验证 appid 与密钥
func (p *Provider) Validate(ctx context.Context, cfg providers.AdapterConfig) error {
	probe, err := New(cfg)
	if err != nil {
		return err
	}
	probe.salt = p.salt
	_, err = probe.Translate(ctx, &providers.ProviderRequest{Text: "hello", SourceLanguage: "en", TargetLanguage: "zh"})
	return err
}

// GetQuota 百度不提供配额查询接口
func (p *Provider) GetQuota(ctx context.Context) (*providers.QuotaInfo, error) {
	return nil, providers.ErrQuotaUnsupported
}

func (p *Provider) call(ctx context.Context, cfg providers.AdapterConfig, path, query string, params url.Values) ([]byte, error) {
	salt := p.salt()
	params.Set("q", query)
	params.Set("appid", cfg.APIKey)
	params.Set("salt", salt)
	params.Set("sign", Sign(cfg.APIKey, query, salt, cfg.APISecret))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	providers.ApplyHeaders(httpReq, cfg.Headers)

	body, err := providers.Do(p.httpClient, httpReq, ID, "error_msg")
	if err != nil {
		return nil, err
	}

	code := gjson.GetBytes(body, "error_code").String()
	if code != "" && code != "0" && code != "52000" {
		return nil, &providers.Error{
			Provider: ID,
			Kind:     kindForCode(code),
			Message:  fmt.Sprintf("%s (code %s)", gjson.GetBytes(body, "error_msg").String(), code),
		}
	}
	return body, nil
}

// kindForCode 百度错误码映射
func kindForCode(code string) providers.ErrorKind {
	switch code {
	case "52001":
		return providers.KindTimeout
	case "52002":
		return providers.KindTransient
	case "52003", "54001", "58000", "58002", "90107":
		return providers.KindUnauthenticated
	case "54000":
		return providers.KindRejected
	case "54003", "54005":
		return providers.KindRateLimited
	case "54004":
		return providers.KindQuotaExceeded
	case "58001":
		return providers.KindUnsupportedLanguage
	default:
		return providers.KindUnknown
	}
}

var toBaidu = map[string]string{
	"ja": "jp", "ko": "kor", "fr": "fra", "es": "spa", "ar": "ara", "vi": "vie",
	"bg": "bul", "et": "est", "da": "dan", "fi": "fin", "ro": "rom", "sl": "slo", "sv": "swe",
	"zh-tw": "cht", "zh-hant": "cht", "zh-cn": "zh", "zh-hans": "zh",
}

func toBaiduCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if v, ok := toBaidu[lang]; ok {
		return v
	}
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		if v, ok := toBaidu[lang[:idx]]; ok {
			return v
		}
		return lang[:idx]
	}
	return lang
}

func fromBaiduCode(code string) string {
	if code == "cht" {
		return "zh-TW"
	}
	for k, v := range toBaidu {
		if v == code && !strings.Contains(k, "-") {
			return k
		}
	}
	return code
}
