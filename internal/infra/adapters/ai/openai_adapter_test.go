package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sms-agent/internal/domain"
	"sms-agent/internal/domain/ports/adapter"
	ai "sms-agent/internal/infra/adapters/ai"
)

const responsesBody = `{
  "id": "resp_1",
  "object": "response",
  "created_at": 1735689600,
  "status": "completed",
  "model": "gpt-5-2025-08-07",
  "output": [{
    "type": "message",
    "id": "msg_1",
    "role": "assistant",
    "status": "completed",
    "content": [{"type": "output_text", "text": "hey\nwho is this?", "annotations": []}]
  }],
  "usage": {
    "input_tokens": 42,
    "input_tokens_details": {"cached_tokens": 0},
    "output_tokens": 5,
    "output_tokens_details": {"reasoning_tokens": 0},
    "total_tokens": 47
  }
}`

func TestOpenAIAdapter_Respond(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer key")
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, responsesBody)
	}))
	defer srv.Close()

	a, err := ai.NewOpenAIAdapter("sk-test", srv.URL+"/v1/", "gpt-5")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	resp, err := a.Respond(context.Background(), adapter.ModelRequest{Instructions: "be brief", Input: "USER: hi"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Output != "hey\nwho is this?" {
		t.Fatalf("output = %q", resp.Output)
	}
	if resp.Model != "gpt-5-2025-08-07" {
		t.Fatalf("model = %q", resp.Model)
	}
	if resp.Usage.PromptTokens != 42 || resp.Usage.CompletionTokens != 5 || resp.Usage.TotalTokens != 47 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if got["model"] != "gpt-5" || got["instructions"] != "be brief" || got["input"] != "USER: hi" {
		t.Fatalf("request body = %v", got)
	}
}

func TestOpenAIAdapter_ClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	a, _ := ai.NewOpenAIAdapter("sk-test", srv.URL+"/v1/", "gpt-5")
	_, err := a.Respond(context.Background(), adapter.ModelRequest{Input: "hi"})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestOpenAIAdapter_ServerErrorStaysRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a, _ := ai.NewOpenAIAdapter("sk-test", srv.URL+"/v1/", "gpt-5")
	_, err := a.Respond(context.Background(), adapter.ModelRequest{Input: "hi"})
	if err == nil || errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected a plain upstream error, got %v", err)
	}
}

func TestOpenAIAdapter_EmptyKey(t *testing.T) {
	if _, err := ai.NewOpenAIAdapter("", "", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
