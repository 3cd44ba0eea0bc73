// Package protocol defines the WebSocket message types exchanged
// between clients and the chat gateway. Every message is a JSON object
// carrying a "type" discriminator; payload decoding is deferred until
// the type is known.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeOpenConversation  = "open_conversation"
	TypeCloseConversation = "close_conversation"
	TypePrivateSend       = "private_send"
	TypePrivateHistory    = "private_history"
	TypePrivateClear      = "private_clear"
	TypeJoinContest       = "join_contest"
	TypeLeaveContest      = "leave_contest"
	TypeContestSend       = "contest_send"
	TypeContestHistory    = "contest_history"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeReady               = "ready"
	TypeConversationOpened  = "conversation_opened"
	TypeMessage             = "message"
	TypePrivateHistoryPage  = "private_history_page"
	TypeContestHistoryPage  = "contest_history_page"
	TypeConversationCleared = "conversation_cleared"
	TypeRateLimited         = "rate_limited"
	TypeError               = "error"
	TypePong                = "pong"
)

// Envelope holds the message type and the raw JSON for deferred
// decoding into the concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the
// "type" field so the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// OpenConversationMsg asks the gateway to bind this connection to the
// private conversation room shared with peer_id.
type OpenConversationMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// CloseConversationMsg unbinds the connection from a conversation room.
type CloseConversationMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// PrivateSendMsg sends a private message to another user.
type PrivateSendMsg struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
}

// PrivateHistoryMsg requests one page of a conversation's history.
// Cursor 0 (or absent) requests the newest page.
type PrivateHistoryMsg struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Limit  int    `json:"limit"`
	Cursor int64  `json:"cursor"`
}

// PrivateClearMsg clears the conversation for the requesting user.
type PrivateClearMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// JoinContestMsg binds the connection to a contest room.
type JoinContestMsg struct {
	Type      string `json:"type"`
	ContestID string `json:"contest_id"`
}

// LeaveContestMsg unbinds the connection from a contest room.
type LeaveContestMsg struct {
	Type      string `json:"type"`
	ContestID string `json:"contest_id"`
}

// ContestSendMsg sends a contest chat message scoped to a phase.
type ContestSendMsg struct {
	Type      string `json:"type"`
	ContestID string `json:"contest_id"`
	Body      string `json:"body"`
	Phase     string `json:"phase"`
}

// ContestHistoryMsg requests one page of a contest's chat history.
type ContestHistoryMsg struct {
	Type      string `json:"type"`
	ContestID string `json:"contest_id"`
	Limit     int    `json:"limit"`
	Cursor    int64  `json:"cursor"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ReadyMsg confirms the connection is authenticated and usable.
type ReadyMsg struct {
	Type         string `json:"type"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// ConversationOpenedMsg reports the room the connection was bound to
// after an open_conversation request.
type ConversationOpenedMsg struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	PeerID string `json:"peer_id"`
}

// ConversationClearedMsg confirms a private_clear completed.
type ConversationClearedMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// RateLimitedMsg tells the client a send was throttled.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates an error condition to one connection.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client
// message. It returns the message type, the decoded struct, and any
// parse error. Server-only and unknown types are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeOpenConversation:
		var m OpenConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCloseConversation:
		var m CloseConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePrivateSend:
		var m PrivateSendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePrivateHistory:
		var m PrivateHistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePrivateClear:
		var m PrivateClearMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinContest:
		var m JoinContestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveContest:
		var m LeaveContestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeContestSend:
		var m ContestSendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeContestHistory:
		var m ContestHistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates the JSON bytes for a server message. The
// payload is marshalled and the "type" key injected, so payload structs
// never need to set their own Type field.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
