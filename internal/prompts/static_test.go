package prompts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMatchKeywords(t *testing.T) {
	provider := NewStaticProvider([]Preset{
		{Title: "翻译助手", Prompt: "你是一名专业译者。", Keywords: []string{"translate", "翻译"}},
		{Title: "代码助手", Prompt: "You are a coding assistant.", Keywords: []string{"code"}, Tags: []string{"openai"}},
		{Title: "通用", Prompt: "Be helpful."},
	}, 2)

	results := provider.Match("请帮我翻译这段话", "openai")
	if len(results) == 0 || results[0].Title != "翻译助手" {
		t.Fatalf("unexpected results: %+v", results)
	}

	results = provider.Match("hello", "openai")
	// 代码助手通过 provider 标签命中，通用条目无关键词兜底命中。
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestMatchRespectsMaxResults(t *testing.T) {
	provider := NewStaticProvider([]Preset{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	}, 2)
	if got := len(provider.Match("anything", "")); got != 2 {
		t.Fatalf("expected 2 results, got %d", got)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.json")
	content := `[{"title":"摘要","prompt":"请用三句话总结。","keywords":["summary"]}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	provider, err := LoadStaticProvider(path, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := provider.Match("give me a summary", "")
	if len(results) != 1 || results[0].Title != "摘要" {
		t.Fatalf("unexpected results: %+v", results)
	}

	if _, err := LoadStaticProvider("", 3); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
