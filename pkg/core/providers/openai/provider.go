// Package openai opens streaming chat-completion requests and decodes the SSE
// wire format into text deltas.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider is an OpenAI-compatible completion provider.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a provider with the default endpoint.
func New(apiKey string) *Provider {
	return NewWithClient(apiKey, nil)
}

// NewWithClient creates a provider with a custom HTTP client.
func NewWithClient(apiKey string, client *http.Client) *Provider {
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: client,
	}
}

// WithBaseURL overrides the API base URL.
func (p *Provider) WithBaseURL(base string) *Provider {
	base = strings.TrimSpace(base)
	if base != "" {
		p.baseURL = strings.TrimRight(base, "/")
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Stream opens a streaming completion request for the given prompt.
func (p *Provider) Stream(ctx context.Context, model string, prompt []chat.PromptMessage) (core.TokenStream, error) {
	body, err := json.Marshal(buildChatRequest(model, prompt))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai error %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	return newTokenStream(resp.Body), nil
}
