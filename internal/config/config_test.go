package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatgate.json")
	content := `{
  "providers": {
    "openai": {"api_key": "sk-test"}
  },
  "prompts": {"source": "configs/prompts.json"}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Providers.Default != "openai" {
		t.Errorf("unexpected default provider: %s", cfg.Providers.Default)
	}
	if cfg.JobQueue.Driver != "memory" || cfg.JobQueue.Worker != 2 {
		t.Errorf("unexpected queue defaults: %+v", cfg.JobQueue)
	}
	if cfg.JobQueue.Redis.Queue != "chatgate:jobs" {
		t.Errorf("unexpected redis queue: %s", cfg.JobQueue.Redis.Queue)
	}
	if cfg.Chat.MemoryDepth != 8 {
		t.Errorf("unexpected memory depth: %d", cfg.Chat.MemoryDepth)
	}
	if !filepath.IsAbs(cfg.Prompts.Source) {
		t.Errorf("prompts source should be absolute: %s", cfg.Prompts.Source)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Errorf("unexpected auth mode: %s", cfg.Auth.Mode)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Errorf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load("/no/such/config.json"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestResolveKeysPreferInline(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(".")

	t.Setenv("OPENAI_API_KEY", "sk-env")
	if got := cfg.ResolveOpenAIKey(); got != "sk-env" {
		t.Fatalf("unexpected key: %s", got)
	}

	cfg.Providers.OpenAI.APIKey = "sk-inline"
	if got := cfg.ResolveOpenAIKey(); got != "sk-inline" {
		t.Fatalf("inline key should win: %s", got)
	}
}
