package ai

import (
	"context"
	"fmt"

	"chatmind/internal/config"
)

// Provider generates reply text from a prompt. Failures are non-fatal for
// callers: the worker degrades to a fallback reply.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// FallbackReply is sent when generation fails.
const FallbackReply = "Извини, не могу ответить сейчас."

func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.AIProvider {
	case "openai", "":
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "pollinations":
		return NewPollinationsProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER: %s", cfg.AIProvider)
	}
}
