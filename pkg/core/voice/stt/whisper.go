// Package stt transcribes recorded audio.
package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"
)

// TranscribeOptions control a transcription request.
type TranscribeOptions struct {
	// Filename hints the audio container to the API via its extension.
	// Empty defaults to "audio.webm".
	Filename string
	// Model overrides the default whisper model.
	Model string
	// Language is an optional ISO-639-1 hint.
	Language string
}

// WhisperClient transcribes audio through the Whisper API.
type WhisperClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewWhisper creates a client with the default endpoint.
func NewWhisper(apiKey string) *WhisperClient {
	return NewWhisperWithClient(apiKey, nil)
}

// NewWhisperWithClient creates a client with a custom HTTP client.
func NewWhisperWithClient(apiKey string, client *http.Client) *WhisperClient {
	if client == nil {
		client = &http.Client{}
	}
	return &WhisperClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    defaultBaseURL,
		httpClient: client,
	}
}

// WithBaseURL overrides the API base URL.
func (c *WhisperClient) WithBaseURL(base string) *WhisperClient {
	base = strings.TrimSpace(base)
	if base != "" {
		c.baseURL = strings.TrimRight(base, "/")
	}
	return c
}

// Transcribe converts audio to text. The response is the bare transcript.
func (c *WhisperClient) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("transcription api key is required")
	}

	filename := opts.Filename
	if filename == "" {
		filename = "audio.webm"
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "text"); err != nil {
		return "", fmt.Errorf("write response_format field: %w", err)
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return strings.TrimSpace(string(body)), nil
}
