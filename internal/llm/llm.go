// Package llm abstracts text generation over a closed set of provider
// variants. Swapping providers must not change caller behaviour: every
// variant enforces the same timeout, retry and prompt-size semantics.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
)

var (
	// ErrPromptTooLarge is returned instead of silently truncating a prompt
	// that exceeds the provider's size limit.
	ErrPromptTooLarge = errors.New("llm: prompt too large")

	// ErrModelTimeout is returned when a single generation attempt exceeds
	// the configured call timeout.
	ErrModelTimeout = errors.New("llm: model call timed out")

	// ErrModelUnavailable is returned once all retry attempts are exhausted.
	ErrModelUnavailable = errors.New("llm: model unavailable")
)

// Provider generates text from a prompt. Output length is bounded by
// maxTokens; implementations never request unbounded generations.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// NewProvider creates a provider from configuration. The variant set is
// closed: adding a provider means adding a case here, not patching callers.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	cfg.MaxTokens = guardrail.ClampModelTokens(cfg.MaxTokens)
	cfg.MaxRetries = guardrail.ClampModelRetries(cfg.MaxRetries)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "openai":
		return newOpenAIProvider(cfg), nil
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	case "ollama":
		return newOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %s", cfg.Provider)
	}
}

// generateWithRetries drives one provider attempt function through the
// clamped retry budget. Attempts are idempotent: prompts are stateless per
// call, so a retry after a timeout or transport error has no side effects.
func generateWithRetries(ctx context.Context, retries int, timeout time.Duration, attempt func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	tries := retries + 1
	for i := 0; i < tries; i++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := attempt(callCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrPromptTooLarge) {
			return "", err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrModelTimeout, err)
		}
		lastErr = err

		if i < tries-1 {
			select {
			case <-time.After(300 * time.Millisecond * time.Duration(1<<i)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("%w: %w", ErrModelUnavailable, lastErr)
}
