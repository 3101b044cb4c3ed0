package content

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
)

const defaultMIME = "application/octet-stream"

var (
	policy        = bluemonday.UGCPolicy()
	namePolicy    = bluemonday.StrictPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize removes unsafe HTML from message text.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// SanitizeName strips all markup from display names, room names and typing entries.
func SanitizeName(input string) string {
	return strings.TrimSpace(namePolicy.Sanitize(input))
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// DetectMIME guesses a MIME type from the file's leading bytes, falling back to the
// file name extension.
func DetectMIME(name string, head []byte) string {
	if len(head) > 0 {
		if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
			return kind.MIME.Value
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return defaultMIME
	}
	if kind := filetype.GetType(ext); kind != filetype.Unknown {
		return kind.MIME.Value
	}
	return defaultMIME
}
