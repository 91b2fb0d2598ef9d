// Package gemini adapts the Google GenAI SDK to the completion provider
// interface.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
)

// Provider streams completions from the Gemini API.
type Provider struct {
	client *genai.Client
}

// New creates a provider backed by the Gemini API.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Stream opens a streaming generate-content request for the given prompt.
func (p *Provider) Stream(ctx context.Context, model string, prompt []chat.PromptMessage) (core.TokenStream, error) {
	contents := make([]*genai.Content, 0, len(prompt))
	for _, msg := range prompt {
		role := genai.Role(genai.RoleUser)
		if msg.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		parts := []*genai.Part{genai.NewPartFromText(msg.Text)}
		for _, img := range msg.Images {
			parts = append(parts, genai.NewPartFromBytes(img.JPEG, "image/jpeg"))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	return newTokenStream(p.client.Models.GenerateContentStream(ctx, model, contents, nil)), nil
}
