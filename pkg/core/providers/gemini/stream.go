package gemini

import (
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"
)

// tokenStream pulls text deltas from the SDK's response iterator.
type tokenStream struct {
	next     func() (*genai.GenerateContentResponse, error, bool)
	stop     func()
	produced bool
	done     bool
	err      error
}

func newTokenStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *tokenStream {
	next, stop := iter.Pull2(seq)
	return &tokenStream{next: next, stop: stop}
}

// Next returns the next non-empty text delta or io.EOF at end of stream.
func (s *tokenStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.done {
		return "", io.EOF
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			if !s.produced {
				s.err = fmt.Errorf("stream closed before any content was produced")
				return "", s.err
			}
			return "", io.EOF
		}
		if err != nil {
			s.err = fmt.Errorf("generate content: %w", err)
			return "", s.err
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		s.produced = true
		return text, nil
	}
}

// Close stops the underlying iterator.
func (s *tokenStream) Close() error {
	s.stop()
	return nil
}
