package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// ChatRequest 服务器收到的聊天请求
type ChatRequest struct {
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// UserMessage 第一条用户消息
func (r ChatRequest) UserMessage() string {
	for _, m := range r.Messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

// SystemMessage 第一条系统消息
func (r ChatRequest) SystemMessage() string {
	for _, m := range r.Messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

// MockOpenAIServer 模拟 OpenAI 兼容接口的服务器
type MockOpenAIServer struct {
	Server *httptest.Server
	URL    string

	mu              sync.Mutex
	responses       map[string]string
	defaultResponse string
	status          int
	errorMessage    string
	delay           time.Duration
	requests        []ChatRequest
	apiKey          string
}

// NewMockOpenAIServer 创建模拟服务器，测试结束时自动关闭
func NewMockOpenAIServer(t *testing.T) *MockOpenAIServer {
	mock := &MockOpenAIServer{
		responses:       make(map[string]string),
		defaultResponse: "这是翻译后的文本",
	}

	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))
	mock.URL = mock.Server.URL
	t.Cleanup(mock.Server.Close)
	return mock
}

// SetResponse 为指定用户消息设置回复
func (m *MockOpenAIServer) SetResponse(userMessage, response string) {
	m.mu.Lock()
	m.responses[userMessage] = response
	m.mu.Unlock()
}

// SetDefaultResponse 设置默认回复
func (m *MockOpenAIServer) SetDefaultResponse(response string) {
	m.mu.Lock()
	m.defaultResponse = response
	m.mu.Unlock()
}

// FailWith 之后的请求都返回指定状态码
func (m *MockOpenAIServer) FailWith(status int, message string) {
	m.mu.Lock()
	m.status = status
	m.errorMessage = message
	m.mu.Unlock()
}

// SetDelay 模拟响应延迟
func (m *MockOpenAIServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// RequireAPIKey 要求请求携带指定的 Bearer 密钥
func (m *MockOpenAIServer) RequireAPIKey(key string) {
	m.mu.Lock()
	m.apiKey = key
	m.mu.Unlock()
}

// Requests 已收到的聊天请求
func (m *MockOpenAIServer) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

func (m *MockOpenAIServer) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"api_error"}}`, message)
}

func (m *MockOpenAIServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	apiKey, status, errMsg, delay := m.apiKey, m.status, m.errorMessage, m.delay
	m.mu.Unlock()

	if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
		m.writeError(w, http.StatusUnauthorized, "Incorrect API key provided")
		return
	}

	if strings.HasSuffix(r.URL.Path, "/models") {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini","object":"model","created":1700000000,"owned_by":"openai"}]}`))
		return
	}

	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		m.writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.writeError(w, http.StatusBadRequest, "无法解析请求体")
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	response, ok := m.responses[req.UserMessage()]
	if !ok {
		response = m.defaultResponse
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		m.writeError(w, status, errMsg)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": response},
		}},
		"usage": map[string]any{
			"prompt_tokens":     12,
			"completion_tokens": 4,
			"total_tokens":      16,
		},
	})
}
