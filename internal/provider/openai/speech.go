package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"ChatGate/internal/provider"
)

// speechMIMETypes 按输出格式映射 MIME 类型。
var speechMIMETypes = map[string]string{
	"mp3":  "audio/mpeg",
	"opus": "audio/ogg",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"wav":  "audio/wav",
	"pcm":  "audio/pcm",
}

// Synthesize 调用 Audio Speech API，把合成的音频作为内联文件返回。
func (c *Client) Synthesize(ctx context.Context, req provider.SpeechRequest) (*provider.Result, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, errors.New("合成文本不能为空")
	}

	model := orDefault(req.Model, c.speechModel)
	voice := orDefault(req.Voice, c.speechVoice)
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = "mp3"
	}

	payload := map[string]any{
		"model":           model,
		"input":           req.Input,
		"voice":           voice,
		"response_format": format,
	}
	httpReq, err := c.newJSONRequest(ctx, "/audio/speech", payload)
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

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 OpenAI 音频响应失败: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("OpenAI 返回了空的音频内容")
	}

	mimeType := speechMIMETypes[format]
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &provider.Result{
		Files: []provider.File{{
			Name:     "speech." + format,
			MIMEType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(audio),
		}},
	}, nil
}

var _ provider.SpeechClient = (*Client)(nil)
