package openai

import (
	"encoding/base64"

	"github.com/parley-ai/parley/pkg/core/chat"
)

// chatRequest is the chat-completions request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatMessage carries content as a part list so text and images can mix.
type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func buildChatRequest(model string, prompt []chat.PromptMessage) chatRequest {
	messages := make([]chatMessage, 0, len(prompt))
	for _, msg := range prompt {
		parts := []contentPart{{Type: "text", Text: msg.Text}}
		for _, img := range msg.Images {
			parts = append(parts, contentPart{
				Type: "image_url",
				ImageURL: &imageURL{
					URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img.JPEG),
				},
			})
		}
		messages = append(messages, chatMessage{
			Role:    string(msg.Role),
			Content: parts,
		})
	}
	return chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
}
