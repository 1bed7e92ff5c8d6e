package imagefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ettle/strcase"
	"github.com/google/uuid"
)

// MaxNameLength is the maximum byte length of a generated storage name.
const MaxNameLength = 255

// ErrNameTooLong is returned when a generated storage name exceeds MaxNameLength.
var ErrNameTooLong = errors.New("generated filename exceeds maximum length")

// ValidExtensions are the recognized image file extensions
var ValidExtensions = []string{
	".jpg",
	".jpeg",
	".png",
	".webp",
}

// IsImageFile returns true if the file has a valid image extension.
// The comparison is case-insensitive; a name with no extension is rejected.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, valid := range ValidExtensions {
		if ext == valid {
			return true
		}
	}
	return false
}

// Sanitize converts a filename stem to lower snake case and strips any
// non-ASCII runes left over after conversion.
func Sanitize(stem string) string {
	snake := strcase.ToSnake(stem)
	var b strings.Builder
	b.Grow(len(snake))
	for _, r := range snake {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewStorageName derives the on-disk name for an uploaded file: the sanitized
// stem of the declared name plus a random UUID suffix, keeping the (lowercased)
// extension. The suffix makes collisions with existing files practically
// impossible. Returns ErrNameTooLong if the result exceeds MaxNameLength.
func NewStorageName(declared string) (string, error) {
	base := filepath.Base(declared)
	ext := strings.ToLower(filepath.Ext(base))
	stem := Sanitize(strings.TrimSuffix(base, filepath.Ext(base)))

	name := fmt.Sprintf("%s-%s%s", stem, uuid.NewString(), ext)
	if len(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// ListDir returns the names of all regular, non-hidden files in dir, sorted.
// Subdirectories are not descended into; dotfiles (e.g. in-flight temp files)
// are skipped.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
