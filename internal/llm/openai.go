package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mohammad-safakhou/deepresearch/config"
)

// openaiMaxPromptChars is a conservative character bound well inside the
// context window of the smallest supported chat model.
const openaiMaxPromptChars = 48000

// OpenAIProvider generates text through the OpenAI chat completions API.
type OpenAIProvider struct {
	cfg    config.LLMConfig
	client *http.Client
}

func newOpenAIProvider(cfg config.LLMConfig) *OpenAIProvider {
	// No timeout on the http.Client itself; each attempt carries a
	// context deadline so retries get a fresh budget.
	return &OpenAIProvider{cfg: cfg, client: &http.Client{}}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Generate sends one user message and returns the first choice's content.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if len(prompt) > openaiMaxPromptChars {
		return "", fmt.Errorf("%w: %d chars (limit %d)", ErrPromptTooLarge, len(prompt), openaiMaxPromptChars)
	}
	if maxTokens <= 0 || maxTokens > p.cfg.MaxTokens {
		maxTokens = p.cfg.MaxTokens
	}

	return generateWithRetries(ctx, p.cfg.MaxRetries, p.cfg.Timeout, func(ctx context.Context) (string, error) {
		return p.generateOnce(ctx, prompt, maxTokens)
	})
}

func (p *OpenAIProvider) generateOnce(ctx context.Context, prompt string, maxTokens int) (string, error) {
	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model     string    `json:"model"`
		Messages  []chatMsg `json:"messages"`
		MaxTokens int       `json:"max_tokens,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:     p.cfg.Model,
		Messages:  []chatMsg{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenAI status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	return out.Choices[0].Message.Content, nil
}
