// Package speech is a client for a Deepgram-style text-to-speech API, with
// one-shot HTTP synthesis and a websocket streaming context.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultBaseURL   = "https://api.deepgram.com"
	defaultWSBaseURL = "wss://api.deepgram.com"
)

// Options control the synthesis request.
type Options struct {
	// Model is the voice model identifier, e.g. "aura-asteria-en".
	Model string
	// Encoding is the audio encoding, e.g. "linear16".
	Encoding string
	// SampleRate in Hz.
	SampleRate int
	// Container wraps the encoded audio. "wav" produces a RIFF header,
	// "none" produces bare samples. Empty means the API default.
	Container string
}

func (o Options) query() url.Values {
	q := url.Values{}
	if o.Model != "" {
		q.Set("model", o.Model)
	}
	if o.Encoding != "" {
		q.Set("encoding", o.Encoding)
	}
	if o.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(o.SampleRate))
	}
	if o.Container != "" {
		q.Set("container", o.Container)
	}
	return q
}

// Client talks to the speech API.
type Client struct {
	apiKey     string
	baseURL    string
	wsBaseURL  string
	httpClient *http.Client
}

// New creates a client with the default endpoints.
func New(apiKey string) *Client {
	return NewWithClient(apiKey, nil)
}

// NewWithClient creates a client with a custom HTTP client.
func NewWithClient(apiKey string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultBaseURL,
		wsBaseURL:  defaultWSBaseURL,
		httpClient: client,
	}
}

// WithBaseURL overrides the HTTP endpoint.
func (c *Client) WithBaseURL(base string) *Client {
	base = strings.TrimSpace(base)
	if base != "" {
		c.baseURL = strings.TrimRight(base, "/")
	}
	return c
}

// WithWSBaseURL overrides the websocket endpoint.
func (c *Client) WithWSBaseURL(base string) *Client {
	base = strings.TrimSpace(base)
	if base != "" {
		c.wsBaseURL = strings.TrimRight(base, "/")
	}
	return c
}

// Synthesize converts text to audio in one request and returns the raw
// audio bytes.
func (c *Client) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("speech api key is required")
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqURL := c.baseURL + "/v1/speak?" + opts.query().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("speech error %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}
