package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"ChatGate/internal/provider"
)

// Transcribe 调用 Audio Transcriptions API，把音频转写为文本。
// 请求体按提供方要求以 multipart 表单提交。
func (c *Client) Transcribe(ctx context.Context, req provider.TranscriptionRequest) (*provider.Result, error) {
	if len(req.Data) == 0 {
		return nil, errors.New("音频内容不能为空")
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "audio.mp3"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("构建 multipart 表单失败: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, fmt.Errorf("写入音频内容失败: %w", err)
	}
	if err := form.WriteField("model", orDefault(req.Model, c.transcribeModel)); err != nil {
		return nil, fmt.Errorf("写入 model 字段失败: %w", err)
	}
	if req.Language != "" {
		if err := form.WriteField("language", req.Language); err != nil {
			return nil, fmt.Errorf("写入 language 字段失败: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("关闭 multipart 表单失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if strings.TrimSpace(decoded.Text) == "" {
		return nil, errors.New("OpenAI 转写结果为空")
	}
	return &provider.Result{Text: decoded.Text}, nil
}

var _ provider.TranscriptionClient = (*Client)(nil)
