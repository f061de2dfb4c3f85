package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ChatGate/internal/provider"
)

// GenerateImages 调用 Images API 生成图片，归一化为文件列表。
func (c *Client) GenerateImages(ctx context.Context, req provider.ImageRequest) (*provider.Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("图片描述不能为空")
	}

	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.imageModel
	}
	payload := map[string]any{
		"prompt": req.Prompt,
		"model":  model,
	}
	if req.N > 0 {
		payload["n"] = req.N
	}
	if req.Size != "" {
		payload["size"] = req.Size
	}
	if req.ResponseFormat != "" {
		payload["response_format"] = req.ResponseFormat
	}

	httpReq, err := c.newJSONRequest(ctx, "/images/generations", payload)
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
		Data []struct {
			URL           string `json:"url"`
			B64JSON       string `json:"b64_json"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, errors.New("OpenAI 响应中没有图片数据")
	}

	result := &provider.Result{}
	for idx, item := range decoded.Data {
		file := provider.File{
			Name:     fmt.Sprintf("image-%d.png", idx+1),
			MIMEType: "image/png",
			URL:      item.URL,
			Data:     item.B64JSON,
		}
		result.Files = append(result.Files, file)
		if result.Text == "" && item.RevisedPrompt != "" {
			result.Text = item.RevisedPrompt
		}
	}
	return result, nil
}

var _ provider.ImageClient = (*Client)(nil)
