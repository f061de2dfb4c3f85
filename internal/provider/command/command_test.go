package command

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"ChatGate/internal/provider"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", nil, ""); err == nil {
		t.Fatalf("expected error when exec path is missing")
	}
}

func TestResolveExecPath(t *testing.T) {
	if got := ResolveExecPath("/opt/gate", "bin/chat"); got != filepath.Join("/opt/gate", "bin/chat") {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := ResolveExecPath("/opt/gate", "/usr/bin/chat"); got != "/usr/bin/chat" {
		t.Fatalf("absolute path should pass through, got %s", got)
	}
	if got := ResolveExecPath("", "bin/chat"); got != "bin/chat" {
		t.Fatalf("unexpected path: %s", got)
	}
}

func TestCompleteRunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	client, err := NewClient("/bin/sh", []string{"-c", `cat >/dev/null; echo '{"text":"你好"}'`}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := client.Complete(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "你好" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
}

func TestCompleteCommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	client, err := NewClient("/bin/sh", []string{"-c", `echo boom >&2; exit 1`}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.Complete(context.Background(), provider.ChatRequest{}); err == nil {
		t.Fatalf("expected error from failing command")
	}
}
