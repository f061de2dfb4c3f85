package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义提示词预设检索的通用接口。
type Provider interface {
	Match(message, providerName string) []Preset
}

// Preset 描述一段可注入到对话前的系统提示词。
type Preset struct {
	Title    string   `json:"title"`
	Prompt   string   `json:"prompt"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态提示词检索能力。
type StaticProvider struct {
	items      []Preset
	maxResults int
}

// NewStaticProvider 创建静态提示词库实例。
func NewStaticProvider(items []Preset, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载提示词条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("提示词文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析提示词路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取提示词文件失败: %w", err)
	}
	defer file.Close()

	var entries []Preset
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析提示词文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Match 根据用户消息与目标服务进行简单匹配。
func (p *StaticProvider) Match(message, providerName string) []Preset {
	if p == nil {
		return nil
	}

	message = strings.ToLower(strings.TrimSpace(message))
	providerName = strings.ToLower(strings.TrimSpace(providerName))

	results := make([]Preset, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, message, providerName) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(preset Preset, message, providerName string) bool {
	if len(preset.Keywords) == 0 {
		return true
	}
	for _, keyword := range preset.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(message, normalized) || strings.Contains(providerName, normalized) {
			return true
		}
	}
	if len(preset.Tags) == 0 {
		return false
	}
	for _, tag := range preset.Tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if strings.Contains(message, normalized) || strings.Contains(providerName, normalized) {
			return true
		}
	}
	return false
}

// Ensure StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
