// Package chat defines stored turn entries and the provider-facing prompt shape.
package chat

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// EntryKind tags the stored variant of a turn entry.
type EntryKind string

const (
	KindText  EntryKind = "text"
	KindVoice EntryKind = "voice"
)

// ParseEntryKind validates a caller-supplied message type.
func ParseEntryKind(s string) (EntryKind, error) {
	switch EntryKind(s) {
	case KindText:
		return KindText, nil
	case KindVoice:
		return KindVoice, nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// Entry is one stored conversation entry. Entries alternate user/assistant;
// index 2k is a user turn and 2k+1 its paired assistant turn.
//
// Text entries carry the literal message in Content. Voice entries carry the
// stored audio path in Content and the transcript in Transcription.
type Entry struct {
	Kind          EntryKind
	Role          Role
	Index         int
	Content       string
	Transcription string
	Images        []string
}

// PromptText returns the text this entry contributes to the provider context.
// Voice entries contribute their transcription, never the raw audio reference.
func (e Entry) PromptText() string {
	switch e.Kind {
	case KindVoice:
		return e.Transcription
	default:
		return e.Content
	}
}

// entryJSON is the persisted wire shape of an entry.
type entryJSON struct {
	Type          EntryKind `json:"type"`
	ID            int       `json:"id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Transcription *string   `json:"transcription"`
	Images        []string  `json:"images"`
}

// MarshalJSON encodes the entry in the persisted shape.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		Type:    e.Kind,
		ID:      e.Index,
		Role:    e.Role,
		Content: e.Content,
		Images:  e.Images,
	}
	if out.Images == nil {
		out.Images = []string{}
	}
	if e.Kind == KindVoice {
		t := e.Transcription
		out.Transcription = &t
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a persisted entry, rejecting unknown variants.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case KindText, KindVoice:
	default:
		return fmt.Errorf("unknown entry type %q", raw.Type)
	}
	e.Kind = raw.Type
	e.Index = raw.ID
	e.Role = raw.Role
	e.Content = raw.Content
	e.Images = raw.Images
	if raw.Transcription != nil {
		e.Transcription = *raw.Transcription
	} else {
		e.Transcription = ""
	}
	return nil
}

// DecodeEntries decodes a persisted JSON array of entries.
func DecodeEntries(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return entries, nil
}

// EncodeEntries encodes entries for persistence.
func EncodeEntries(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	return data, nil
}
