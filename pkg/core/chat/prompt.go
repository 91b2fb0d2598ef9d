package chat

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	_ "image/gif"
	_ "image/png"
)

// ImageAttachment is an inline image ready for provider embedding.
// Images are always re-encoded to JPEG so the outgoing context carries a
// single format regardless of what the user uploaded.
type ImageAttachment struct {
	JPEG []byte
}

// PromptMessage is one message in the ordered provider context.
type PromptMessage struct {
	Role   Role
	Text   string
	Images []ImageAttachment
}

// ContextBuilder assembles the ordered provider context from stored entries
// and the new user content.
type ContextBuilder struct {
	// MediaRoot is the directory stored image paths are resolved against.
	MediaRoot string
}

// Build returns the message list to hand to the provider, with the new user
// turn appended last. Images that fail to open, decode, or re-encode are
// skipped rather than failing the turn.
func (b *ContextBuilder) Build(entries []Entry, userText string, userImages []string) []PromptMessage {
	prompt := make([]PromptMessage, 0, len(entries)+1)
	for _, entry := range entries {
		prompt = append(prompt, PromptMessage{
			Role:   entry.Role,
			Text:   entry.PromptText(),
			Images: b.loadImages(entry.Images),
		})
	}
	prompt = append(prompt, PromptMessage{
		Role:   RoleUser,
		Text:   userText,
		Images: b.loadImages(userImages),
	})
	return prompt
}

func (b *ContextBuilder) loadImages(paths []string) []ImageAttachment {
	var out []ImageAttachment
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Join(b.MediaRoot, p))
		if err != nil {
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			continue
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			continue
		}
		out = append(out, ImageAttachment{JPEG: buf.Bytes()})
	}
	return out
}
