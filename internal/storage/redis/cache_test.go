package redis

import (
	"strings"
	"testing"

	"ChatGate/internal/provider"
)

func TestCacheKeyStable(t *testing.T) {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: "be brief"},
		{Role: provider.RoleUser, Content: "你好"},
	}

	first := CacheKey("openai", "gpt-4o-mini", messages)
	second := CacheKey("openai", "gpt-4o-mini", messages)
	if first != second {
		t.Fatalf("same input should produce same key: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "chatgate:cache:") {
		t.Fatalf("unexpected key prefix: %s", first)
	}
}

func TestCacheKeyDistinguishesInput(t *testing.T) {
	base := []provider.Message{{Role: provider.RoleUser, Content: "hello"}}

	key := CacheKey("openai", "gpt-4o-mini", base)
	if key == CacheKey("command", "gpt-4o-mini", base) {
		t.Fatalf("provider name should affect the key")
	}
	if key == CacheKey("openai", "gpt-4o", base) {
		t.Fatalf("model should affect the key")
	}
	if key == CacheKey("openai", "gpt-4o-mini", []provider.Message{{Role: provider.RoleUser, Content: "hello!"}}) {
		t.Fatalf("content should affect the key")
	}
}

func TestNewResponseCacheValidation(t *testing.T) {
	if _, err := NewResponseCache(CacheConfig{}); err == nil {
		t.Fatalf("expected error for missing address")
	}
}
