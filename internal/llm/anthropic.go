package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/deepresearch/config"
)

const anthropicMaxPromptChars = 48000

// AnthropicProvider generates text through the Anthropic messages API.
type AnthropicProvider struct {
	cfg    config.LLMConfig
	client *http.Client
}

func newAnthropicProvider(cfg config.LLMConfig) *AnthropicProvider {
	return &AnthropicProvider{cfg: cfg, client: &http.Client{}}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if len(prompt) > anthropicMaxPromptChars {
		return "", fmt.Errorf("%w: %d chars (limit %d)", ErrPromptTooLarge, len(prompt), anthropicMaxPromptChars)
	}
	if maxTokens <= 0 || maxTokens > p.cfg.MaxTokens {
		maxTokens = p.cfg.MaxTokens
	}

	return generateWithRetries(ctx, p.cfg.MaxRetries, p.cfg.Timeout, func(ctx context.Context) (string, error) {
		return p.generateOnce(ctx, prompt, maxTokens)
	})
}

func (p *AnthropicProvider) generateOnce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type msgReq struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []msg  `json:"messages"`
	}

	body, err := json.Marshal(msgReq{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []msg{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Anthropic status %d", resp.StatusCode)
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	for _, c := range out.Content {
		if c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", fmt.Errorf("no text content")
}
