package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ChatGate/internal/provider"
)

func TestTranslateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("to"); got != "fr" {
			t.Errorf("unexpected target language: %s", got)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "key" {
			t.Errorf("subscription key header missing")
		}
		if r.Header.Get("Ocp-Apim-Subscription-Region") != "westeurope" {
			t.Errorf("region header missing")
		}

		var body []map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body) != 1 || body[0]["Text"] != "hello" {
			t.Errorf("unexpected request body: %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"translations": []map[string]any{
					{"text": "bonjour", "to": "fr"},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewTranslatorClient(TranslatorConfig{
		Endpoint: srv.URL,
		APIKey:   "key",
		Region:   "westeurope",
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := client.Translate(context.Background(), provider.TranslationRequest{Text: "hello", To: "fr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "bonjour" {
		t.Fatalf("unexpected translation: %q", result.Text)
	}
}

func TestTranslateProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401000,"message":"The request is not authorized"}}`))
	}))
	defer srv.Close()

	client, err := NewTranslatorClient(TranslatorConfig{Endpoint: srv.URL, APIKey: "bad"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.Translate(context.Background(), provider.TranslationRequest{Text: "hello", To: "fr"})
	if err == nil || !strings.Contains(err.Error(), "not authorized") {
		t.Fatalf("expected provider error message, got %v", err)
	}
}

func TestTranslateValidation(t *testing.T) {
	if _, err := NewTranslatorClient(TranslatorConfig{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}

	client, err := NewTranslatorClient(TranslatorConfig{APIKey: "key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Translate(context.Background(), provider.TranslationRequest{To: "fr"}); err == nil {
		t.Fatalf("expected error for empty text")
	}
	if _, err := client.Translate(context.Background(), provider.TranslationRequest{Text: "hi"}); err == nil {
		t.Fatalf("expected error for missing target language")
	}
}
