package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ChatGate/internal/provider"
)

func TestRunAssistantPollsUntilCompleted(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/threads/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OpenAI-Beta") != "assistants=v2" {
			t.Errorf("beta header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "run-1",
			"thread_id": "thread-1",
			"status":    "queued",
		})
	})
	mux.HandleFunc("/threads/thread-1/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		status := "in_progress"
		if polls.Add(1) >= 2 {
			status = "completed"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "run-1",
			"thread_id": "thread-1",
			"status":    status,
		})
	})
	mux.HandleFunc("/threads/thread-1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"role": "assistant",
					"content": []map[string]any{
						{"type": "text", "text": map[string]any{"value": "done by assistant"}},
					},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(Config{
		APIKey:       "test",
		BaseURL:      srv.URL,
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := client.RunAssistant(context.Background(), provider.AssistantRequest{
		AssistantID: "asst-1",
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: "帮我总结"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "done by assistant" {
		t.Fatalf("unexpected result: %q", result.Text)
	}
	if polls.Load() < 2 {
		t.Fatalf("expected at least two polls, got %d", polls.Load())
	}
}

func TestRunAssistantFailedRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/threads/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "run-1",
			"thread_id": "thread-1",
			"status":    "failed",
			"last_error": map[string]any{
				"code":    "server_error",
				"message": "run exploded",
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.RunAssistant(context.Background(), provider.AssistantRequest{
		AssistantID: "asst-1",
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "run exploded") {
		t.Fatalf("expected terminal run error, got %v", err)
	}
}

func TestRunAssistantHonoursContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/threads/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "run-1",
			"thread_id": "thread-1",
			"status":    "queued",
		})
	})
	mux.HandleFunc("/threads/thread-1/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "run-1",
			"thread_id": "thread-1",
			"status":    "in_progress",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err = client.RunAssistant(ctx, provider.AssistantRequest{
		AssistantID: "asst-1",
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}
