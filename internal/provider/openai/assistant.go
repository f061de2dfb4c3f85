package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	xerrors "ChatGate/internal/errors"
	"ChatGate/internal/provider"
)

// assistantsBetaHeader 是 Assistants API 必须携带的版本头。
const assistantsBetaHeader = "assistants=v2"

type runState struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// RunAssistant 在新线程上执行一次托管助手运行。
// 创建运行后按固定间隔轮询状态，直到远端返回终态。
func (c *Client) RunAssistant(ctx context.Context, req provider.AssistantRequest) (*provider.Result, error) {
	if strings.TrimSpace(req.AssistantID) == "" {
		return nil, errors.New("未指定 assistant_id")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("会话消息不能为空")
	}

	run, err := c.createThreadRun(ctx, req)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		switch run.Status {
		case "completed":
			return c.latestAssistantMessage(ctx, run.ThreadID)
		case "failed", "cancelled", "expired", "incomplete":
			message := fmt.Sprintf("助手运行进入终态 %s", run.Status)
			if run.LastError != nil && run.LastError.Message != "" {
				message = run.LastError.Message
			}
			return nil, xerrors.New(xerrors.CodeProviderRejected, message,
				xerrors.WithMetadata("run_status", run.Status))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		run, err = c.getRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (c *Client) createThreadRun(ctx context.Context, req provider.AssistantRequest) (*runState, error) {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	payload := map[string]any{
		"assistant_id": req.AssistantID,
		"thread": map[string]any{
			"messages": messages,
		},
	}
	if req.Instructions != "" {
		payload["instructions"] = req.Instructions
	}

	httpReq, err := c.newJSONRequest(ctx, "/threads/runs", payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("OpenAI-Beta", assistantsBetaHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}

	var run runState
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("解析助手运行响应失败: %w", err)
	}
	if run.ID == "" || run.ThreadID == "" {
		return nil, errors.New("助手运行响应缺少 id 或 thread_id")
	}
	return &run, nil
}

func (c *Client) getRun(ctx context.Context, threadID, runID string) (*runState, error) {
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	resp, err := c.getAssistants(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}
	var run runState
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("解析助手运行状态失败: %w", err)
	}
	return &run, nil
}

// latestAssistantMessage 拉取线程中最新一条助手回复。
func (c *Client) latestAssistantMessage(ctx context.Context, threadID string) (*provider.Result, error) {
	path := fmt.Sprintf("/threads/%s/messages?order=desc&limit=1", threadID)
	resp, err := c.getAssistants(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}

	var decoded struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析线程消息失败: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, errors.New("助手线程中没有消息")
	}

	var builder strings.Builder
	for _, part := range decoded.Data[0].Content {
		if part.Type != "text" {
			continue
		}
		builder.WriteString(part.Text.Value)
	}
	text := builder.String()
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("助手回复内容为空")
	}
	return &provider.Result{Text: text}, nil
}

func (c *Client) getAssistants(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", assistantsBetaHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	return resp, nil
}

var _ provider.AssistantClient = (*Client)(nil)
