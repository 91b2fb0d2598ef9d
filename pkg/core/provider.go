package core

import (
	"context"
	"strings"

	"github.com/parley-ai/parley/pkg/core/chat"
)

// TokenStream is a lazy, finite, non-restartable sequence of text deltas
// decoded from a completion provider's wire stream. Next returns io.EOF on
// normal end of stream.
type TokenStream interface {
	Next() (string, error)
	Close() error
}

// CompletionProvider opens a token stream for an ordered message history.
type CompletionProvider interface {
	Name() string
	Stream(ctx context.Context, model string, prompt []chat.PromptMessage) (TokenStream, error)
}

// Registry routes model identifiers to completion providers.
type Registry struct {
	providers map[string]CompletionProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]CompletionProvider)}
}

// Register adds a provider under its name.
func (r *Registry) Register(p CompletionProvider) {
	r.providers[p.Name()] = p
}

// For resolves the provider responsible for a model identifier.
// Gemini models route to the gemini provider; everything else is OpenAI-shaped.
func (r *Registry) For(model string) (CompletionProvider, bool) {
	name := "openai"
	if strings.HasPrefix(model, "gemini") {
		name = "gemini"
	}
	p, ok := r.providers[name]
	return p, ok
}
