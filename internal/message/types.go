// Package message provides PostgreSQL-backed storage for the two
// message surfaces: durable private one-to-one messages and
// per-contest group chat messages. The store owns persistence and
// cursor pagination only; author enrichment and real-time fan-out are
// the controllers' concern so each stays testable on its own.
package message

import (
	"errors"
	"time"
)

// ErrValidation wraps all synchronous rejections (empty body, malformed
// identifiers, kind/sender mismatch). Nothing is persisted when an
// operation fails with it.
var ErrValidation = errors.New("message: validation failed")

// Kind discriminates contest message variants. The set is closed; the
// store rejects unknown kinds the same way the contest_messages CHECK
// constraint would.
type Kind string

const (
	// KindText is a user-authored contest message.
	KindText Kind = "text"
	// KindSystem is a contest lifecycle announcement with no author.
	KindSystem Kind = "system"
)

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindSystem:
		return true
	}
	return false
}

// Phase is the contest segment a message belongs to.
type Phase string

const (
	PhaseLobby Phase = "lobby"
	PhaseLive  Phase = "live"
)

// Valid reports whether p is a known contest phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseLobby, PhaseLive:
		return true
	}
	return false
}

// PrivateMessage is one message in a two-party conversation. ID is a
// BIGSERIAL, strictly increasing within the store, and doubles as the
// pagination cursor. DeletedFor holds the participants that have
// cleared the conversation; when both appear the row is purge-eligible.
type PrivateMessage struct {
	ID              int64     `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	SenderID        string    `json:"sender_id"`
	ReceiverID      string    `json:"receiver_id"`
	Body            string    `json:"body"`
	DeletedFor      []string  `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// DeletedBy reports whether userID has soft-deleted this message.
func (m *PrivateMessage) DeletedBy(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// ContestMessage is one message in a contest room. SenderID is nil
// exactly when Kind is KindSystem; the store enforces the invariant on
// insert. Contest messages are never individually deleted — their
// lifetime is the contest's.
type ContestMessage struct {
	ID        int64     `json:"id"`
	ContestID string    `json:"contest_id"`
	SenderID  *string   `json:"sender_id"`
	Body      string    `json:"body"`
	Kind      Kind      `json:"kind"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
}
