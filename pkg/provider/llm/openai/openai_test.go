package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    string
		wantErr bool
	}{
		{role: llm.RoleSystem},
		{role: llm.RoleUser},
		{role: llm.RoleAssistant},
		{role: "tool", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			t.Parallel()
			p, err := convertMessage(llm.Message{Role: tc.role, Content: "x"})
			if (err != nil) != tc.wantErr {
				t.Fatalf("convertMessage(%q) error = %v; wantErr %v", tc.role, err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			set := map[string]bool{
				llm.RoleSystem:    p.OfSystem != nil,
				llm.RoleUser:      p.OfUser != nil,
				llm.RoleAssistant: p.OfAssistant != nil,
			}
			if !set[tc.role] {
				t.Errorf("convertMessage(%q) did not set the matching variant", tc.role)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("New with empty key: error = nil; want error")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("New with empty model: error = nil; want error")
	}
}

func TestBuildParams_NoMessages(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("Complete without messages: error = nil; want error")
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float64 `json:"temperature"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Hello"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13}
		}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Translate to English.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hallo"}},
		Temperature:  0.3,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello" {
		t.Errorf("Content = %q; want Hello", resp.Content)
	}
	if resp.Usage.TotalTokens != 13 || resp.Usage.PromptTokens != 12 {
		t.Errorf("Usage = %+v; want prompt 12 total 13", resp.Usage)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("request model = %q; want gpt-4o-mini", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Hallo" {
		t.Errorf("request messages = %+v; want system + user", got.Messages)
	}
	if got.Temperature != 0.3 {
		t.Errorf("request temperature = %v; want 0.3", got.Temperature)
	}
}

func TestComplete_ServerErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error": {"message": "boom", "type": "server_error"}}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if err == nil {
		t.Fatal("Complete error = nil; want error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server calls = %d; want 1", n)
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Name(); got != "openai/gpt-4o-mini" {
		t.Errorf("Name() = %q; want openai/gpt-4o-mini", got)
	}
}
