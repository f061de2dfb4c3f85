package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ChatGate/internal/provider"
)

// Client 通过调用外部命令实现对话补全，命令从标准输入读取 JSON 请求，
// 在标准输出写回 JSON 结果。
type Client struct {
	execPath   string
	args       []string
	workingDir string
}

// NewClient 创建外部命令客户端。
func NewClient(execPath string, args []string, workingDir string) (*Client, error) {
	if execPath == "" {
		return nil, fmt.Errorf("未指定命令路径")
	}
	return &Client{
		execPath:   execPath,
		args:       args,
		workingDir: workingDir,
	}, nil
}

// Complete 调用外部命令，并解析输出。
func (c *Client) Complete(ctx context.Context, req provider.ChatRequest) (*provider.Result, error) {
	payload := map[string]any{
		"messages":  req.Messages,
		"model":     req.Model,
		"timestamp": time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.execPath, c.args...)
	if c.workingDir != "" {
		cmd.Dir = c.workingDir
	}
	cmd.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("执行命令失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Text string `json:"text"`
		HTML string `json:"html"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析命令输出失败: %w", err)
	}

	return &provider.Result{
		Text: resp.Text,
		HTML: resp.HTML,
	}, nil
}

// Stream 外部命令不支持增量输出，退化为一次性回调完整文本。
func (c *Client) Stream(ctx context.Context, req provider.ChatRequest, handler provider.StreamHandler) (*provider.Result, error) {
	result, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if handler != nil && result.Text != "" {
		if err := handler(result.Text); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ResolveExecPath 根据工作目录推导命令绝对路径。
func ResolveExecPath(baseDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	if baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

var _ provider.ChatClient = (*Client)(nil)
