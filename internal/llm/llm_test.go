package llm

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

	"github.com/mohammad-safakhou/deepresearch/config"
)

func openaiConfig(baseURL string, retries int, timeout time.Duration) config.LLMConfig {
	return config.LLMConfig{
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Timeout:    timeout,
		MaxTokens:  350,
		MaxRetries: retries,
	}
}

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
	return string(b)
}

func TestNewProviderVariants(t *testing.T) {
	cases := []struct {
		provider string
		wantName string
	}{
		{"openai", "openai"},
		{"anthropic", "anthropic"},
		{"ollama", "ollama"},
	}
	for _, c := range cases {
		p, err := NewProvider(config.LLMConfig{Provider: c.provider, Model: "m", APIKey: "k"})
		if err != nil {
			t.Fatalf("NewProvider(%s): %v", c.provider, err)
		}
		if p.Name() != c.wantName {
			t.Fatalf("Name() = %q, want %q", p.Name(), c.wantName)
		}
	}

	if _, err := NewProvider(config.LLMConfig{Provider: "mystery"}); err == nil {
		t.Fatalf("expected error for unsupported provider type")
	}
}

func TestGenerateSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(chatResponse("hello world")))
	}))
	defer ts.Close()

	p, err := NewProvider(openaiConfig(ts.URL, 0, 5*time.Second))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	out, err := p.Generate(context.Background(), "say hello", 100)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("Generate = %q", out)
	}
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(chatResponse("second try")))
	}))
	defer ts.Close()

	p, err := NewProvider(openaiConfig(ts.URL, 1, 5*time.Second))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	out, err := p.Generate(context.Background(), "q", 100)
	if err != nil {
		t.Fatalf("Generate after retry: %v", err)
	}
	if out != "second try" {
		t.Fatalf("Generate = %q", out)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestGenerateExhaustedRetriesSurfacesUnavailable(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer ts.Close()

	p, err := NewProvider(openaiConfig(ts.URL, 1, 5*time.Second))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	_, err = p.Generate(context.Background(), "q", 100)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestGenerateTimeoutIsRetriedThenReported(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(chatResponse("too late")))
	}))
	defer ts.Close()

	p, err := NewProvider(openaiConfig(ts.URL, 0, 50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	_, err = p.Generate(context.Background(), "q", 100)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if !errors.Is(err, ErrModelTimeout) {
		t.Fatalf("expected timeout cause preserved, got %v", err)
	}
}

func TestGenerateRejectsOversizedPrompt(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	p, err := NewProvider(openaiConfig(ts.URL, 2, 5*time.Second))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	_, err = p.Generate(context.Background(), strings.Repeat("x", openaiMaxPromptChars+1), 100)
	if !errors.Is(err, ErrPromptTooLarge) {
		t.Fatalf("expected ErrPromptTooLarge, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("oversized prompt should not reach the API, got %d calls", calls.Load())
	}
}

func TestOllamaGenerate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model   string         `json:"model"`
			Stream  bool           `json:"stream"`
			Options map[string]int `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Errorf("expected stream=false")
		}
		if req.Options["num_predict"] == 0 {
			t.Errorf("expected bounded num_predict")
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "local answer"})
	}))
	defer ts.Close()

	p, err := NewProvider(config.LLMConfig{
		Provider: "ollama",
		Model:    "llama3.1",
		BaseURL:  ts.URL,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	out, err := p.Generate(context.Background(), "q", 100)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "local answer" {
		t.Fatalf("Generate = %q", out)
	}
}
