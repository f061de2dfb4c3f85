package chatgate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAuthenticateStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("decode credentials: %v", err)
		}
		if creds.Username != "alice" {
			t.Fatalf("unexpected username: %s", creds.Username)
		}
		_ = json.NewEncoder(w).Encode(Token{AccessToken: "abc123", TokenType: "Bearer", ExpiresIn: 60})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	token, err := client.Authenticate(context.Background(), Credentials{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token.AccessToken != "abc123" || client.AccessToken() != "abc123" {
		t.Fatalf("token not stored: %+v", token)
	}
}

func TestChatSendsTokenAndDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		_ = json.NewEncoder(w).Encode(Envelope{Text: "你好!", Provider: "openai"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetAccessToken("tok")
	envelope, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "你好"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if envelope.Text != "你好!" || envelope.Provider != "openai" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestChatSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(Envelope{Error: "消息列表不能为空"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Chat(context.Background(), ChatRequest{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "消息列表不能为空" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestWaitForJobPollsUntilTerminal(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/jobs":
			_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Kind: "summarize", Status: "pending"})
		case "/api/v1/jobs/job-1":
			status := "running"
			var result *JobResult
			if polls.Add(1) >= 3 {
				status = "succeeded"
				result = &JobResult{Text: "摘要内容"}
			}
			_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Kind: "summarize", Status: status, Result: result})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	submitted, err := client.SubmitJob(context.Background(), JobSubmission{
		Kind:    "summarize",
		Summary: map[string]any{"text": "很长的文本"},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	finished, err := client.WaitForJob(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForJob: %v", err)
	}
	if finished.Status != "succeeded" || finished.Result == nil || finished.Result.Text != "摘要内容" {
		t.Fatalf("unexpected finished job: %+v", finished)
	}
}
