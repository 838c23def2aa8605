package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/deepresearch/config"
)

// Local models carry smaller context windows than the hosted ones.
const ollamaMaxPromptChars = 24000

// OllamaProvider generates text through a local Ollama daemon. It is the
// zero-cost variant; no API key is required.
type OllamaProvider struct {
	cfg    config.LLMConfig
	client *http.Client
}

func newOllamaProvider(cfg config.LLMConfig) *OllamaProvider {
	return &OllamaProvider{cfg: cfg, client: &http.Client{}}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if len(prompt) > ollamaMaxPromptChars {
		return "", fmt.Errorf("%w: %d chars (limit %d)", ErrPromptTooLarge, len(prompt), ollamaMaxPromptChars)
	}
	if maxTokens <= 0 || maxTokens > p.cfg.MaxTokens {
		maxTokens = p.cfg.MaxTokens
	}

	return generateWithRetries(ctx, p.cfg.MaxRetries, p.cfg.Timeout, func(ctx context.Context) (string, error) {
		return p.generateOnce(ctx, prompt, maxTokens)
	})
}

func (p *OllamaProvider) generateOnce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	type genReq struct {
		Model   string         `json:"model"`
		Prompt  string         `json:"prompt"`
		Stream  bool           `json:"stream"`
		Options map[string]int `json:"options,omitempty"`
	}

	body, err := json.Marshal(genReq{
		Model:   p.cfg.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]int{"num_predict": maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Ollama status %d", resp.StatusCode)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return out.Response, nil
}
