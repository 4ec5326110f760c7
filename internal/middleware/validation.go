package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxContentBytes = 100000
	maxIDLength     = 128
	maxTitleLength  = 256
)

// ValidateMessageContent validates outgoing message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateID validates an opaque server-assigned id. Ids are not assumed
// to follow any format beyond being short printable tokens.
func ValidateID(kind, id string) error {
	if id == "" {
		return errors.New(kind + " ID cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New(kind + " ID exceeds maximum length")
	}
	if strings.ContainsAny(id, " /\t\r\n") {
		return errors.New("invalid " + kind + " ID format")
	}
	return nil
}

// ValidateTitle validates a conversation or story title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title cannot be empty")
	}
	if len(title) > maxTitleLength {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
