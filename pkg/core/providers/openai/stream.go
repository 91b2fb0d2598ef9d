package openai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// chatChunk is the decoded payload of one streamed SSE frame.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// tokenStream decodes data frames from a streaming chat-completions response.
//
// Frame payloads can be split across reads, so a payload that fails to parse
// is held and prepended to the next one before parsing again. A well-formed
// stream ends with the [DONE] sentinel.
type tokenStream struct {
	reader   *bufio.Reader
	body     io.Closer
	pending  string
	produced bool
	done     bool
	err      error
}

func newTokenStream(body io.ReadCloser) *tokenStream {
	return &tokenStream{
		reader: bufio.NewReader(body),
		body:   body,
	}
}

// Next returns the next non-empty text delta, io.EOF at end of stream, or a
// fatal transport/decode error.
func (s *tokenStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.done {
		return "", io.EOF
	}
	for {
		line, readErr := s.reader.ReadString('\n')
		if payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data:"); ok {
			payload = strings.TrimSpace(payload)
			if payload == "[DONE]" {
				s.done = true
				return "", io.EOF
			}
			if delta, ok := s.decode(payload); ok {
				s.produced = true
				return delta, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				s.done = true
				if !s.produced {
					s.err = fmt.Errorf("stream closed before any content was produced")
					return "", s.err
				}
				return "", io.EOF
			}
			s.err = fmt.Errorf("read stream: %w", readErr)
			return "", s.err
		}
	}
}

// decode parses one frame payload, reassembling with any held fragment, and
// returns a non-empty delta if the frame carried one.
func (s *tokenStream) decode(payload string) (string, bool) {
	var chunk chatChunk
	combined := s.pending + payload
	if err := json.Unmarshal([]byte(combined), &chunk); err == nil {
		s.pending = ""
		return delta(chunk)
	}
	// The combined text does not parse. If the payload stands on its own, the
	// held fragment was garbage rather than a prefix; drop it so one bad frame
	// cannot poison the rest of the stream.
	if s.pending != "" {
		if err := json.Unmarshal([]byte(payload), &chunk); err == nil {
			s.pending = ""
			return delta(chunk)
		}
	}
	s.pending = combined
	return "", false
}

func delta(chunk chatChunk) (string, bool) {
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}

// Close releases the underlying response body.
func (s *tokenStream) Close() error {
	return s.body.Close()
}
