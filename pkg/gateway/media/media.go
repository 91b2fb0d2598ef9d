// Package media stores uploaded images and voice clips on disk.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/pkg/core"
)

// Library is a directory of conversation media. Stored entry paths are
// relative to Root.
type Library struct {
	Root string
}

// New creates the library directory if needed.
func New(root string) (*Library, error) {
	for _, dir := range []string{root, filepath.Join(root, "images"), filepath.Join(root, "voice")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create media dir: %w", err)
		}
	}
	return &Library{Root: root}, nil
}

// Resolve validates a stored entry path and returns its location on disk.
// Paths escaping the root are rejected.
func (l *Library) Resolve(relPath string) (string, error) {
	clean := filepath.Clean(relPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", core.NewValidationError("invalid media path")
	}
	return filepath.Join(l.Root, clean), nil
}

// Save writes data at the given path under the library root.
func (l *Library) Save(relPath string, data []byte) error {
	full, err := l.Resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return core.NewPersistenceError("create media dir", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return core.NewPersistenceError("write media file", err)
	}
	return nil
}

// ImageName builds the stored path for the idx-th image attached to the user
// entry at the given position. The original filename only contributes its
// extension; a missing extension is simply omitted.
func ImageName(conversation uuid.UUID, position, idx int, original string) string {
	return fmt.Sprintf("images/%s-%d-%d%s", conversation, position, idx, ext(original))
}

// VoiceName builds the stored path for the voice clip of the user entry at
// the given position.
func VoiceName(conversation uuid.UUID, position int, original string) string {
	return fmt.Sprintf("voice/%s-%d%s", conversation, position, ext(original))
}

func ext(original string) string {
	e := filepath.Ext(original)
	if e == "." {
		return ""
	}
	return e
}
