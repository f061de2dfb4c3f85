package azure

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
	"ChatGate/internal/provider"
)

const (
	defaultLanguageAPIVersion = "2023-04-01"
	defaultPollInterval       = 2 * time.Second
	defaultLanguageTimeout    = 30 * time.Second
	defaultSentenceCount      = 3
	defaultDocumentLanguage   = "en"
)

// LanguageConfig 描述调用 Azure Language 服务所需的信息。
type LanguageConfig struct {
	Endpoint     string
	APIKey       string
	APIVersion   string
	PollInterval time.Duration
	Timeout      time.Duration
}

// LanguageClient 通过 Azure Language 服务执行异步文本分析作业。
type LanguageClient struct {
	endpoint     string
	apiKey       string
	apiVersion   string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewLanguageClient 根据配置创建 Azure Language 客户端。
func NewLanguageClient(cfg LanguageConfig) (*LanguageClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("未提供 Azure Language endpoint")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Azure Language API Key")
	}

	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultLanguageAPIVersion
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLanguageTimeout
	}

	return &LanguageClient{
		endpoint:     endpoint,
		apiKey:       apiKey,
		apiVersion:   apiVersion,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

type analyzeJobState struct {
	Status string `json:"status"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Tasks struct {
		Items []struct {
			Status  string `json:"status"`
			Results struct {
				Documents []struct {
					Sentences []struct {
						Text      string  `json:"text"`
						RankScore float64 `json:"rankScore"`
					} `json:"sentences"`
				} `json:"documents"`
				Errors []struct {
					Error struct {
						Message string `json:"message"`
					} `json:"error"`
				} `json:"errors"`
			} `json:"results"`
		} `json:"items"`
	} `json:"tasks"`
}

// Summarize 提交抽取式摘要作业并轮询直至远端返回终态。
// 轮询次数只受作业自身状态与调用方上下文约束。
func (c *LanguageClient) Summarize(ctx context.Context, req provider.SummaryRequest) (*provider.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("摘要文本不能为空")
	}

	operationURL, err := c.submitJob(ctx, req)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		state, err := c.jobState(ctx, operationURL)
		if err != nil {
			return nil, err
		}

		switch state.Status {
		case "notStarted", "running":
			// 作业尚未完成，等待下一轮。
		case "succeeded":
			return summaryFromState(state)
		default:
			message := fmt.Sprintf("摘要作业进入终态 %s", state.Status)
			if len(state.Errors) > 0 && state.Errors[0].Message != "" {
				message = state.Errors[0].Message
			}
			return nil, xerrors.New(xerrors.CodeProviderRejected, message,
				xerrors.WithMetadata("job_status", state.Status))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// submitJob 创建分析作业，返回 Operation-Location 轮询地址。
func (c *LanguageClient) submitJob(ctx context.Context, req provider.SummaryRequest) (string, error) {
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = defaultDocumentLanguage
	}
	sentenceCount := req.SentenceCount
	if sentenceCount <= 0 {
		sentenceCount = defaultSentenceCount
	}

	payload := map[string]any{
		"analysisInput": map[string]any{
			"documents": []map[string]any{
				{"id": "1", "language": language, "text": req.Text},
			},
		},
		"tasks": []map[string]any{
			{
				"kind":     "ExtractiveSummarization",
				"taskName": "summary",
				"parameters": map[string]any{
					"sentenceCount": sentenceCount,
				},
			},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化 Azure 请求失败: %w", err)
	}

	endpoint := fmt.Sprintf("%s/language/analyze-text/jobs?api-version=%s", c.endpoint, c.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("构建 Azure 请求失败: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求 Azure 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", azureResponseError(resp)
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", errors.New("Azure 响应缺少 Operation-Location 头")
	}
	return operationURL, nil
}

func (c *LanguageClient) jobState(ctx context.Context, operationURL string) (*analyzeJobState, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
	if err != nil {
		return nil, fmt.Errorf("构建 Azure 请求失败: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 Azure 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, azureResponseError(resp)
	}

	var state analyzeJobState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("解析 Azure 作业状态失败: %w", err)
	}
	return &state, nil
}

func summaryFromState(state *analyzeJobState) (*provider.Result, error) {
	if len(state.Tasks.Items) == 0 {
		return nil, errors.New("Azure 作业结果中没有任务")
	}
	results := state.Tasks.Items[0].Results
	if len(results.Errors) > 0 {
		return nil, xerrors.New(xerrors.CodeProviderRejected, results.Errors[0].Error.Message)
	}
	if len(results.Documents) == 0 {
		return nil, errors.New("Azure 作业结果中没有文档")
	}

	sentences := results.Documents[0].Sentences
	if len(sentences) == 0 {
		return nil, errors.New("Azure 作业结果中没有摘要句子")
	}
	parts := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		parts = append(parts, sentence.Text)
	}
	return &provider.Result{Text: strings.Join(parts, " ")}, nil
}

// azureError 对应 Azure 各服务的标准错误信封。
type azureError struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func azureResponseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(body))
	var decoded azureError
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
		return xerrors.New(xerrors.CodeProviderFailure, fmt.Sprintf("Azure 返回错误状态 %d: %s", resp.StatusCode, message))
	default:
		return xerrors.New(xerrors.CodeProviderRejected, message,
			xerrors.WithMetadata("status", resp.Status))
	}
}

var _ provider.SummaryClient = (*LanguageClient)(nil)
