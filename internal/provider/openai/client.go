package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "ChatGate/internal/errors"
)

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultChatModel       = "gpt-4o-mini"
	defaultImageModel      = "dall-e-3"
	defaultSpeechModel     = "tts-1"
	defaultSpeechVoice     = "alloy"
	defaultTranscribeModel = "whisper-1"
	defaultTimeout         = 60 * time.Second
	defaultPollInterval    = 2 * time.Second
)

// Config 描述调用 OpenAI 各类 API 所需的信息。
type Config struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	ImageModel      string
	SpeechModel     string
	SpeechVoice     string
	TranscribeModel string
	Timeout         time.Duration
	PollInterval    time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的聊天、图片、语音等能力。
type Client struct {
	apiKey          string
	baseURL         string
	chatModel       string
	imageModel      string
	speechModel     string
	speechVoice     string
	transcribeModel string
	pollInterval    time.Duration
	httpClient      *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	client := &Client{
		apiKey:          apiKey,
		baseURL:         baseURL,
		chatModel:       orDefault(cfg.ChatModel, defaultChatModel),
		imageModel:      orDefault(cfg.ImageModel, defaultImageModel),
		speechModel:     orDefault(cfg.SpeechModel, defaultSpeechModel),
		speechVoice:     orDefault(cfg.SpeechVoice, defaultSpeechVoice),
		transcribeModel: orDefault(cfg.TranscribeModel, defaultTranscribeModel),
		pollInterval:    pollInterval,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	return client, nil
}

func orDefault(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

// newJSONRequest 构造 JSON 请求并附加认证头。
func (c *Client) newJSONRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// apiError 对应 OpenAI 的标准错误信封。
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// responseError 将非 2xx 响应映射为统一错误。
// 提供方 error.message 字段原样透出，读不到时退回状态码加响应体。
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(body))
	var decoded apiError
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		message = decoded.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, message,
			xerrors.WithMetadata("status", resp.Status))
	case resp.StatusCode >= http.StatusInternalServerError:
		return xerrors.New(xerrors.CodeProviderFailure, fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, message))
	default:
		return xerrors.New(xerrors.CodeProviderRejected, message,
			xerrors.WithMetadata("status", resp.Status))
	}
}
