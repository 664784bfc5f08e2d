// Package validate enforces message-length and content-safety constraints
// before a message is accepted into a conversation. Every function is a
// pure function of its input and behaves identically on retries.
package validate

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLen caps a single message's text, in characters.
const MaxMessageLen = 4000

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	ErrUnsafeContent  = errors.New("message contains unsafe content")
)

// unsafePatterns is a fixed denylist: an opening script tag, a javascript:
// URI scheme, and inline event-handler attributes. Matching is
// case-insensitive and unanchored.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
}

// Check applies the rejection rules in order, first failure wins.
func Check(text string) error {
	if len(text) < 1 {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return ErrMessageTooLong
	}
	for _, p := range unsafePatterns {
		if p.MatchString(text) {
			return ErrUnsafeContent
		}
	}
	return nil
}

// Sanitize strips ASCII control characters except tab and newline, then
// trims leading and trailing whitespace. Idempotent.
func Sanitize(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(cleaned)
}

// Input validates raw user text and returns the sanitized string, or the
// rejection reason. Text that sanitizes down to nothing is rejected as
// empty.
func Input(text string) (string, error) {
	if err := Check(text); err != nil {
		return "", err
	}
	cleaned := Sanitize(text)
	if cleaned == "" {
		return "", ErrEmptyMessage
	}
	return cleaned, nil
}
