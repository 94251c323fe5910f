package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/net/proxy"
)

// DefaultTimeout 单次 HTTP 调用的默认超时
const DefaultTimeout = 30 * time.Second

// NewHTTPClient 按配置创建 HTTP 客户端，支持 http(s) 与 socks5 代理
func NewHTTPClient(cfg AdapterConfig) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", cfg.Proxy, err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(u, &net.Dialer{Timeout: 10 * time.Second})
			if err != nil {
				return nil, fmt.Errorf("create socks proxy: %w", err)
			}
			transport.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// ApplyHeaders 写入自定义请求头
func ApplyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// ReadBody 读取响应体，限制大小
func ReadBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

// Truncate 截断过长的错误消息
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Do 执行请求并读取响应体
//
// 传输层错误与非 2xx 响应都转换为 *Error；errorPaths 为响应体中错误消息的 gjson 路径，
// 按顺序取第一个非空值。
func Do(client *http.Client, req *http.Request, provider string, errorPaths ...string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, TransportError(provider, err)
	}
	defer resp.Body.Close()

	body, err := ReadBody(resp)
	if err != nil {
		return nil, TransportError(provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if gjson.ValidBytes(body) {
			for _, path := range errorPaths {
				if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
					msg = v.String()
					break
				}
			}
		}
		if msg == "" {
			msg = Truncate(string(body), 200)
		}
		pe := FromHTTPStatus(provider, resp.StatusCode, msg, resp.Header)
		pe.Body = body
		return nil, pe
	}
	return body, nil
}

// TransportError 将网络层错误转换为 *Error
func TransportError(provider string, err error) *Error {
	kind := KindTransient
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return WrapError(provider, kind, err)
}
