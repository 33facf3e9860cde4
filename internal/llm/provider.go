package llm

import (
	"context"
	"fmt"
	"iter"
)

// Provider sends conversations to a language model.
type Provider interface {
	// Chat returns the complete answer. Failures are *ProviderError.
	Chat(ctx context.Context, messages []Message) (*Answer, error)

	// ChatStream yields text fragments in generation order. An error is
	// yielded at most once and ends the sequence; fragments already yielded
	// stay valid. Stopping the iteration early releases the underlying
	// connection.
	ChatStream(ctx context.Context, messages []Message) iter.Seq2[string, error]
}

// NewProvider builds the backend selected by cfg.Provider.
func NewProvider(cfg *Config) (Provider, error) {
	switch cfg.providerName() {
	case ProviderOpenRouter:
		return NewClient(cfg)
	case ProviderOllama:
		return NewOllamaClient(cfg)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
