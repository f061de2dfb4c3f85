package registry

import (
	"testing"

	"ChatGate/internal/config"
)

func TestNewRegistryRequiresCredentials(t *testing.T) {
	cfg := &config.Config{}
	if _, err := NewRegistry(cfg); err == nil {
		t.Fatalf("expected error when no provider is configured")
	}
}

func TestNewRegistryWiresOpenAI(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.Default = "openai"
	cfg.Providers.OpenAI.APIKey = "sk-test"

	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := reg.DefaultChat(); err != nil {
		t.Errorf("expected default chat client: %v", err)
	}
	if _, err := reg.Images(); err != nil {
		t.Errorf("expected image client: %v", err)
	}
	if _, err := reg.Assistants(); err != nil {
		t.Errorf("expected assistant client: %v", err)
	}
	if _, err := reg.Translations(); err == nil {
		t.Errorf("translation client should be absent without azure config")
	}

	names := reg.ChatProviders()
	if len(names) != 1 || names[0] != "openai" {
		t.Errorf("unexpected providers: %v", names)
	}
}

func TestNewRegistryFallsBackToFirstChat(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.Default = "missing"
	cfg.Providers.OpenAI.APIKey = "sk-test"

	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client, ok := reg.Chat("")
	if !ok || client == nil {
		t.Fatalf("expected fallback chat client")
	}
	if name := reg.ResolveProvider(""); name != "openai" {
		t.Fatalf("empty name should resolve to the effective default, got %q", name)
	}
	if name := reg.ResolveProvider("azure"); name != "azure" {
		t.Fatalf("explicit names pass through unchanged, got %q", name)
	}
}

func TestNewRegistryAzureOnly(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.Azure.Translator.APIKey = "key"

	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Translations(); err != nil {
		t.Errorf("expected translation client: %v", err)
	}
	if _, err := reg.DefaultChat(); err == nil {
		t.Errorf("chat client should be absent")
	}
}
