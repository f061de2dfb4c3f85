package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ChatGate/sdk/go/chatgate"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatgate.Token{AccessToken: "demo-token", ExpiresIn: 3600, TokenType: "Bearer"})
	})
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatgate.Envelope{
			Text:     "你好,我是演示回复。",
			Provider: "openai",
		})
	})
	mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(chatgate.Job{ID: "job-demo", Kind: "summarize", Status: "pending"})
	})
	mux.HandleFunc("/api/v1/jobs/job-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatgate.Job{
			ID:     "job-demo",
			Kind:   "summarize",
			Status: "succeeded",
			Result: &chatgate.JobResult{Text: "这是一段演示摘要。"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := chatgate.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := client.Authenticate(ctx, chatgate.Credentials{Username: "demo", Password: "secret"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated with token %s\n", token.AccessToken)

	envelope, err := client.Chat(ctx, chatgate.ChatRequest{
		Messages: []chatgate.Message{{Role: "user", Content: "你好"}},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("chat reply from %s: %s\n", envelope.Provider, envelope.Text)

	job, err := client.SubmitJob(ctx, chatgate.JobSubmission{
		Kind:    "summarize",
		Summary: map[string]any{"text": "一段很长的文档内容……"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted job %s (status=%s)\n", job.ID, job.Status)

	finished, err := client.WaitForJob(ctx, job.ID, 200*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("job %s finished: %s\n", finished.ID, finished.Result.Text)
}
