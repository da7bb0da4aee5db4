package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scanpipe/internal/services"
)

func completionServer(t *testing.T, handler func(calls int, w http.ResponseWriter, r *http.Request)) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		handler(calls, w, r)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func writeChoice(w http.ResponseWriter, choice map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{choice}})
}

func TestClientHealthCheck(t *testing.T) {
	server, _ := completionServer(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		var body chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ResponseFormat["type"] != jsonResponseType {
			t.Errorf("expected json response format, got %v", body.ResponseFormat)
		}
		writeChoice(w, map[string]any{"message": map[string]any{"content": "```json\n{\"ok\":true}\n```"}})
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestCompleteReturnsText(t *testing.T) {
	server, _ := completionServer(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ResponseFormat != nil {
			t.Errorf("plain completion must not request json, got %v", body.ResponseFormat)
		}
		if body.Temperature != 0.4 {
			t.Errorf("expected temperature 0.4, got %v", body.Temperature)
		}
		writeChoice(w, map[string]any{"message": map[string]any{"content": "  First scan logged.  "}})
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo", Temperature: 0.4})
	text, err := client.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if text != "First scan logged." {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestCompleteAcceptsDeltaAndLegacyText(t *testing.T) {
	for name, choice := range map[string]map[string]any{
		"delta":  {"delta": map[string]any{"content": "from delta"}},
		"legacy": {"text": "from text"},
	} {
		t.Run(name, func(t *testing.T) {
			server, _ := completionServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
				writeChoice(w, choice)
			})
			client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
			text, err := client.Complete(context.Background(), "s", "u")
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if !strings.HasPrefix(text, "from ") {
				t.Fatalf("unexpected text %q", text)
			}
		})
	}
}

func TestServerErrorsAreTransientWithRetryAfter(t *testing.T) {
	server, calls := completionServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), "s", "u")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := services.Details(err).RetryAfter; got != 3*time.Second {
		t.Fatalf("expected Retry-After 3s, got %v", got)
	}
	if *calls != 1 {
		t.Fatalf("default client must not retry, got %d calls", *calls)
	}
}

func TestAuthFailuresAreNotRetryable(t *testing.T) {
	server, calls := completionServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), "s", "u")
	if services.IsRetryable(err) {
		t.Fatalf("401 must not be retryable: %v", err)
	}
	if services.KindOf(err) != services.KindConfiguration {
		t.Fatalf("expected configuration kind, got %s", services.KindOf(err))
	}
	if *calls != 1 {
		t.Fatalf("expected a single call, got %d", *calls)
	}
}

func TestTransientFailureIsASingleAttempt(t *testing.T) {
	server, calls := completionServer(t, func(n int, w http.ResponseWriter, _ *http.Request) {
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeChoice(w, map[string]any{"message": map[string]any{"content": "ok"}})
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), "s", "u")
	if !services.IsRetryable(err) {
		t.Fatalf("expected a retryable error for the stage policy, got %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected one call, got %d", *calls)
	}
	if _, err := client.Complete(context.Background(), "s", "u"); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
}

func TestEmptyContentIsTransientWithSnippet(t *testing.T) {
	server, _ := completionServer(t, func(_ int, w http.ResponseWriter, _ *http.Request) {
		writeChoice(w, map[string]any{"finish_reason": "stop", "message": map[string]any{"content": ""}})
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), "s", "u")
	if !services.IsRetryable(err) {
		t.Fatalf("empty content should be retryable, got %v", err)
	}
	if !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected snippet in error, got %v", err)
	}
}

func TestMissingAPIKeyIsConfigurationError(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	_, err := client.Complete(context.Background(), "s", "u")
	if services.KindOf(err) != services.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDecodeJSONAndCleanText(t *testing.T) {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := DecodeJSON("Sure! {\"text\":\"hi\"} hope that helps", &parsed); err != nil || parsed.Text != "hi" {
		t.Fatalf("DecodeJSON = %+v, %v", parsed, err)
	}
	if got := CleanText("```text\n\"Nice   work\n today.\"\n```"); got != "Nice work today." {
		t.Fatalf("CleanText = %q", got)
	}
}
