// Package chat holds the controllers that orchestrate the two message
// surfaces: persistence through the message store, author enrichment
// through the profile directory, real-time fan-out through the gateway,
// and event publication to NATS. Persistence and delivery stay in
// separate layers so each is testable on its own.
package chat

import (
	"fmt"
	"unicode/utf8"

	"github.com/quizdash/chat-service/internal/message"
)

const (
	// MaxBodyBytes caps the encoded size of a message body.
	MaxBodyBytes = 4096
	// MaxBodyChars caps the character count of a message body.
	MaxBodyChars = 2000
)

// ValidateBody checks message content limits before anything is
// persisted. Failures wrap message.ErrValidation.
func ValidateBody(body string) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", message.ErrValidation)
	}
	if len(body) > MaxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d byte limit", message.ErrValidation, MaxBodyBytes)
	}
	if utf8.RuneCountInString(body) > MaxBodyChars {
		return fmt.Errorf("%w: body exceeds %d character limit", message.ErrValidation, MaxBodyChars)
	}
	if !utf8.ValidString(body) {
		return fmt.Errorf("%w: body is not valid UTF-8", message.ErrValidation)
	}
	return nil
}
