package store

import (
	"strings"
)

// DeriveTitle picks a conversation title from the first user message. The
// title is the message's first three words; when that is longer than 30
// characters the existing title is kept, clipped to 30 characters.
func DeriveTitle(existing, firstUserText string) string {
	words := strings.Fields(firstUserText)
	if len(words) > 3 {
		words = words[:3]
	}
	title := strings.Join(words, " ")
	if len([]rune(title)) <= 30 {
		return title
	}
	r := []rune(existing)
	if len(r) > 30 {
		r = r[:30]
	}
	return string(r)
}
