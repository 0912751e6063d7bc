package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultExtensions is the allow-list used when scanning a directory.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif"}

// MaxQueryLength bounds query text in runes.
const MaxQueryLength = 1000

// ImageID derives a record identity from a file path: the base name without
// its extension.
func ImageID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsImageFile reports whether path has one of the allowed extensions.
// Matching is case-insensitive. A nil allow-list means DefaultExtensions.
func IsImageFile(path string, allowed []string) bool {
	if allowed == nil {
		allowed = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

// ValidateQuery checks free-form query text and returns it trimmed.
func ValidateQuery(text string) (string, error) {
	q := strings.TrimSpace(text)
	if q == "" {
		return "", NewValidationError("query", text, ErrInvalidQuery)
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return "", NewValidationError("query", string([]rune(q)[:32])+"...", ErrInvalidQuery)
	}
	return q, nil
}

// ResolveImagePath confines a requested image path to root. Relative paths
// are taken from root; absolute ones must already lie inside it. The result
// is absolute and cleaned. The check is lexical, so symlinks inside root are
// followed.
func ResolveImagePath(root, path string, allowed []string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", NewValidationError("path", path, ErrInvalidPath)
	}
	if !IsImageFile(p, allowed) {
		return "", NewValidationError("path", path, fmt.Errorf("%w: unsupported extension", ErrInvalidPath))
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("domain: image root %s: %w", root, err)
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", NewValidationError("path", path, fmt.Errorf("%w: outside %s", ErrInvalidPath, base))
	}
	return full, nil
}
