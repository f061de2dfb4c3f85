package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ChatGate/internal/provider"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Complete 调用 Chat Completions API 并返回完整回复。
func (c *Client) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Result, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("会话消息不能为空")
	}

	httpReq, err := c.newJSONRequest(ctx, "/chat/completions", c.buildChatPayload(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}
	return &provider.Result{Text: content}, nil
}

// Stream 以流式方式调用 Chat Completions API。
// 每个增量片段交给 handler 处理，返回值汇总全部片段。
func (c *Client) Stream(ctx context.Context, req provider.ChatRequest, handler provider.StreamHandler) (*provider.Result, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("会话消息不能为空")
	}

	httpReq, err := c.newJSONRequest(ctx, "/chat/completions", c.buildChatPayload(req, true))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}

	var builder strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		builder.WriteString(delta)
		if handler != nil {
			if err := handler(delta); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取 OpenAI 流式响应失败: %w", err)
	}

	return &provider.Result{Text: builder.String()}, nil
}

func (c *Client) buildChatPayload(req provider.ChatRequest, stream bool) map[string]any {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.chatModel
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}
	if stream {
		payload["stream"] = true
	}
	return payload
}

var _ provider.ChatClient = (*Client)(nil)
