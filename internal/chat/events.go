package chat

import (
	"errors"
	"time"

	"github.com/quizdash/chat-service/internal/message"
	"github.com/quizdash/chat-service/internal/profile"
)

// ErrNotMember is returned when a user requests history or clearing on
// a conversation they are not a participant of.
var ErrNotMember = errors.New("chat: not a conversation participant")

// PrivateEvent is the enriched payload fanned out to a conversation
// room and published to NATS when a private message is stored.
type PrivateEvent struct {
	ID         int64            `json:"id"`
	Surface    string           `json:"surface"`
	Room       string           `json:"room"`
	SenderID   string           `json:"sender_id"`
	ReceiverID string           `json:"receiver_id"`
	Body       string           `json:"body"`
	Sender     *profile.Profile `json:"sender,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ContestEvent is the enriched payload for a contest message. Sender is
// omitted for system messages, which have no author.
type ContestEvent struct {
	ID        int64            `json:"id"`
	Surface   string           `json:"surface"`
	ContestID string           `json:"contest_id"`
	SenderID  *string          `json:"sender_id"`
	Body      string           `json:"body"`
	Kind      message.Kind     `json:"kind"`
	Phase     message.Phase    `json:"phase"`
	Sender    *profile.Profile `json:"sender,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Surface labels for events and metrics.
const (
	SurfacePrivate = "private"
	SurfaceContest = "contest"
)

// PrivateHistoryPage is one page of private conversation history,
// newest first. NextCursor is nil when history is exhausted.
type PrivateHistoryPage struct {
	Room       string                   `json:"room"`
	Messages   []message.PrivateMessage `json:"messages"`
	NextCursor *int64                   `json:"next_cursor"`
}

// ContestHistoryPage is one page of contest chat history in
// chronological order, author-enriched. NextCursor is nil when history
// is exhausted.
type ContestHistoryPage struct {
	ContestID  string         `json:"contest_id"`
	Messages   []ContestEvent `json:"messages"`
	NextCursor *int64         `json:"next_cursor"`
}

// nextCursor converts the store's zero-means-done cursor into the
// nullable wire form.
func nextCursor(cursor int64) *int64 {
	if cursor == 0 {
		return nil
	}
	return &cursor
}
