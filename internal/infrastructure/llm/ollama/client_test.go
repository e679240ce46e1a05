package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/notegen/internal/core/domain"
	"github.com/kirillkom/notegen/internal/core/ports"
	"github.com/kirillkom/notegen/internal/infrastructure/resilience"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"qwen","message":{"role":"assistant","content":" {\"subject\":\"math\"} "},"done":true,"done_reason":"stop"}`))
	}))
	defer server.Close()

	client := New(server.URL, "default-model")
	got, err := client.Complete(context.Background(), ports.CompletionRequest{
		System:    "classify",
		Prompt:    "text",
		MaxTokens: 256,
		JSON:      true,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Text != `{"subject":"math"}` || got.FinishReason != ports.FinishStop {
		t.Fatalf("unexpected completion: %+v", got)
	}
	if captured.Model != "default-model" || captured.Format != "json" || captured.Stream {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if captured.Options.NumPredict != 256 {
		t.Fatalf("expected num_predict 256, got %d", captured.Options.NumPredict)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" || captured.Messages[1].Content != "text" {
		t.Fatalf("unexpected messages: %+v", captured.Messages)
	}
}

func TestCompleteMapsFinishReasons(t *testing.T) {
	cases := map[string]struct {
		body string
		want ports.FinishReason
	}{
		"length": {body: `{"message":{"content":"partial"},"done_reason":"length"}`, want: ports.FinishTruncated},
		"empty":  {body: `{"message":{"content":"  "},"done_reason":"stop"}`, want: ports.FinishEmpty},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			got, err := New(server.URL, "m").Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
			if err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
			if got.FinishReason != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.FinishReason)
			}
		})
	}
}

func TestCompleteIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New(server.URL, "m").Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("404 must not be temporary: %v", err)
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":{"content":"done"},"done_reason":"stop"}`))
	}))
	defer server.Close()

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	})
	client := NewWithOptions(server.URL, "m", Options{ResilienceExecutor: exec})

	got, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Text != "done" || calls.Load() != 2 {
		t.Fatalf("expected retry then success, got %+v after %d calls", got, calls.Load())
	}
}

func TestCompleteWrapsTemporaryFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "m").Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestCompleteReadsJSONErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"model 'qwen' not found, try pulling it first"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "qwen").Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if statusErr.Message != "model 'qwen' not found, try pulling it first" {
		t.Fatalf("unexpected message: %q", statusErr.Message)
	}
}
