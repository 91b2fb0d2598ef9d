// Package voice turns streamed text into per-sentence audio.
package voice

import (
	"strings"
)

// Segmenter accumulates streamed text and extracts complete sentences so
// synthesis can start before the stream finishes.
//
// A sentence ends at '.', '!' or '?' followed by whitespace, with the whole
// whitespace run consumed into the sentence, or at a bare newline. Emitted
// sentences keep their boundary characters, so concatenating them restores
// the input exactly. Text after the last boundary stays pending; the segmenter
// never flushes an unterminated tail.
type Segmenter struct {
	buf strings.Builder
}

// NewSegmenter creates an empty segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Add appends streamed text and returns any newly completed sentences.
func (s *Segmenter) Add(text string) []string {
	s.buf.WriteString(text)

	content := s.buf.String()
	var sentences []string

	start := 0
	for i := 0; i < len(content); {
		c := content[i]
		if (c == '.' || c == '!' || c == '?') && i+1 < len(content) && isSpaceByte(content[i+1]) {
			end := i + 1
			for end < len(content) && isSpaceByte(content[end]) {
				end++
			}
			sentences = append(sentences, content[start:end])
			start = end
			i = end
			continue
		}
		if c == '\n' {
			sentences = append(sentences, content[start:i+1])
			start = i + 1
		}
		i++
	}

	if start > 0 {
		s.buf.Reset()
		s.buf.WriteString(content[start:])
	}

	return sentences
}

// Pending returns the text held back waiting for a boundary.
func (s *Segmenter) Pending() string {
	return s.buf.String()
}

func isSpaceByte(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
