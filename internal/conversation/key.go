// Package conversation derives the stable identifier for a private
// two-party conversation. The key is symmetric: Key(a, b) and Key(b, a)
// always produce the same value, so lookups never depend on which
// participant opened the conversation.
package conversation

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the two participant IDs inside a conversation key.
// It is rejected inside user identifiers so keys are unambiguous.
const Separator = ":"

// ErrInvalidIdentifier is returned when a participant identifier is
// empty or contains the key separator.
var ErrInvalidIdentifier = errors.New("conversation: invalid identifier")

// Key returns the conversation key for the two participants. The lower
// identifier (lexicographic) always comes first, so the result is
// independent of argument order.
func Key(userA, userB string) (string, error) {
	if err := validate(userA); err != nil {
		return "", err
	}
	if err := validate(userB); err != nil {
		return "", err
	}
	if userA == userB {
		return "", fmt.Errorf("%w: participants must differ (%q)", ErrInvalidIdentifier, userA)
	}

	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + Separator + userB, nil
}

// Participants splits a conversation key back into its two participant
// identifiers. It is the inverse of Key for any key Key produced.
func Participants(key string) (string, string, error) {
	a, b, ok := strings.Cut(key, Separator)
	if !ok || a == "" || b == "" {
		return "", "", fmt.Errorf("%w: malformed key %q", ErrInvalidIdentifier, key)
	}
	return a, b, nil
}

// Member reports whether userID is one of the key's two participants.
func Member(key, userID string) bool {
	a, b, err := Participants(key)
	if err != nil {
		return false
	}
	return userID == a || userID == b
}

func validate(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidIdentifier, id, Separator)
	}
	return nil
}
