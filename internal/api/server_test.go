package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ChatGate/internal/chat"
	"ChatGate/internal/job"
	"ChatGate/internal/provider"
)

type stubChatClient struct{}

func (stubChatClient) Complete(_ context.Context, req provider.ChatRequest) (*provider.Result, error) {
	return &provider.Result{Text: "回答: " + req.LatestUserText()}, nil
}

func (stubChatClient) Stream(ctx context.Context, req provider.ChatRequest, handler provider.StreamHandler) (*provider.Result, error) {
	for _, chunk := range []string{"回答: ", req.LatestUserText()} {
		if err := handler(chunk); err != nil {
			return nil, err
		}
	}
	return &provider.Result{Text: "回答: " + req.LatestUserText()}, nil
}

type stubSelector struct{}

func (stubSelector) Chat(name string) (provider.ChatClient, bool) {
	if name != "" && name != "openai" {
		return nil, false
	}
	return stubChatClient{}, true
}

func (stubSelector) ResolveProvider(name string) string {
	if name == "" {
		return "openai"
	}
	return name
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := job.NewMemoryStore()
	queue := job.NewMemoryQueue(8)
	t.Cleanup(func() { _ = queue.Close() })
	return NewServer(Config{
		Address: ":0",
		Chat:    chat.New(stubSelector{}, nil),
		Jobs:    job.NewService(store, queue, 3),
	})
}

func TestHandleChatComplete(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	body := `{"messages":[{"role":"user","content":"你好"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var envelope resultEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Text != "回答: 你好" || envelope.Error != "" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestHandleChatStream(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	body := `{"stream":true,"messages":[{"role":"user","content":"讲个笑话"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
	payload := rec.Body.String()
	if !strings.Contains(payload, `"delta"`) {
		t.Fatalf("expected delta events, got: %s", payload)
	}
	if !strings.Contains(payload, "event: done") {
		t.Fatalf("expected done event, got: %s", payload)
	}
}

func TestHandleChatValidation(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty messages", `{"messages":[]}`, http.StatusBadRequest},
		{"malformed json", `{`, http.StatusBadRequest},
		{"unknown provider", `{"provider":"nope","messages":[{"role":"user","content":"hi"}]}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var envelope resultEnvelope
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if envelope.Error == "" {
				t.Fatal("expected error message in envelope")
			}
		})
	}
}

func TestJobEndpoints(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	body := `{"kind":"summarize","summary":{"text":"长城是中国古代的军事防御工程。","sentence_count":2}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var submitted job.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if submitted.ID == "" || submitted.Status != job.StatusPending {
		t.Fatalf("unexpected job: %+v", submitted)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+submitted.ID, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=pending&kind=summarize", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Jobs []*job.Job `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(listed.Jobs))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/stats", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats job.JobStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// 非法的状态过滤参数。
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=bogus", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid filter status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}
}

func TestMediaEndpointsUnconfigured(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	for _, path := range []string{"/api/v1/images", "/api/v1/speech", "/api/v1/translations"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s status = %d, want %d", path, rec.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
