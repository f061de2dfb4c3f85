package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ChatGate/internal/provider"
)

const (
	defaultTranslatorEndpoint = "https://api.cognitive.microsofttranslator.com"
	translatorAPIVersion      = "3.0"
	defaultTranslatorTimeout  = 15 * time.Second
)

// TranslatorConfig 描述调用 Azure Translator 服务所需的信息。
type TranslatorConfig struct {
	Endpoint string
	APIKey   string
	Region   string
	Timeout  time.Duration
}

// TranslatorClient 通过 Azure Translator 服务完成同步文本翻译。
type TranslatorClient struct {
	endpoint   string
	apiKey     string
	region     string
	httpClient *http.Client
}

// NewTranslatorClient 根据配置创建 Azure Translator 客户端。
func NewTranslatorClient(cfg TranslatorConfig) (*TranslatorClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Azure Translator API Key")
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultTranslatorEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTranslatorTimeout
	}

	return &TranslatorClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		region:     strings.TrimSpace(cfg.Region),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Translate 调用 Translator API 并返回目标语言文本。
func (c *TranslatorClient) Translate(ctx context.Context, req provider.TranslationRequest) (*provider.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("翻译文本不能为空")
	}
	if strings.TrimSpace(req.To) == "" {
		return nil, errors.New("未指定目标语言")
	}

	query := url.Values{}
	query.Set("api-version", translatorAPIVersion)
	query.Set("to", req.To)
	if req.From != "" {
		query.Set("from", req.From)
	}

	payload := []map[string]string{{"Text": req.Text}}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化 Azure 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/translate?"+query.Encode(), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("构建 Azure 请求失败: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	if c.region != "" {
		httpReq.Header.Set("Ocp-Apim-Subscription-Region", c.region)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 Azure 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, azureResponseError(resp)
	}

	var decoded []struct {
		Translations []struct {
			Text string `json:"text"`
			To   string `json:"to"`
		} `json:"translations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 Azure 响应失败: %w", err)
	}
	if len(decoded) == 0 || len(decoded[0].Translations) == 0 {
		return nil, errors.New("Azure 响应中没有翻译结果")
	}

	text := decoded[0].Translations[0].Text
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("Azure 翻译结果为空")
	}
	return &provider.Result{Text: text}, nil
}

var _ provider.TranslationClient = (*TranslatorClient)(nil)
