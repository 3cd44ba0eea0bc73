package chat

import (
	"context"
	"log"
	"time"

	"github.com/quizdash/chat-service/internal/conversation"
	"github.com/quizdash/chat-service/internal/events"
	"github.com/quizdash/chat-service/internal/message"
	"github.com/quizdash/chat-service/internal/metrics"
	"github.com/quizdash/chat-service/internal/profile"
	"github.com/quizdash/chat-service/internal/protocol"
)

// privateStore is the slice of the message store the private controller
// uses.
type privateStore interface {
	InsertPrivate(ctx context.Context, conversationKey, senderID, receiverID, body string) (*message.PrivateMessage, error)
	PrivatePage(ctx context.Context, conversationKey, viewerID string, limit int, cursor int64) ([]message.PrivateMessage, int64, error)
	SoftDeleteAll(ctx context.Context, conversationKey, userID string) (int64, error)
	PurgeFullyDeleted(ctx context.Context, conversationKey string) (int64, error)
}

// Emitter fans events out to every connection bound to a room.
// Satisfied by the gateway server; delivery is best-effort.
type Emitter interface {
	EmitToRoom(roomID, event string, payload interface{})
}

// PrivateController orchestrates private one-to-one messaging: resolve
// the conversation key, persist, enrich, fan out, publish.
type PrivateController struct {
	store     privateStore
	directory profile.Directory
	emitter   Emitter
	publisher events.Publisher
}

// NewPrivateController wires a private chat controller.
func NewPrivateController(store privateStore, directory profile.Directory, emitter Emitter, publisher events.Publisher) *PrivateController {
	return &PrivateController{
		store:     store,
		directory: directory,
		emitter:   emitter,
		publisher: publisher,
	}
}

// Send persists a private message and delivers it to the conversation
// room. Identifier and body validation happen before the write; a
// failed enrichment or fan-out never fails the send, because the store
// is the durable record.
func (c *PrivateController) Send(ctx context.Context, senderID, receiverID, body string) (*PrivateEvent, error) {
	key, err := conversation.Key(senderID, receiverID)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}
	if err := ValidateBody(body); err != nil {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	m, err := c.store.InsertPrivate(ctx, key, senderID, receiverID, body)
	if err != nil {
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues(SurfacePrivate).Inc()

	event := &PrivateEvent{
		ID:         m.ID,
		Surface:    SurfacePrivate,
		Room:       key,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Body,
		Sender:     c.lookup(ctx, senderID),
		CreatedAt:  m.CreatedAt,
	}

	c.emitter.EmitToRoom(key, protocol.TypeMessage, event)
	c.publisher.PublishPrivate(key, event)
	return event, nil
}

// FetchPage returns one page of conversation history for the viewer,
// newest first, hiding everything the viewer has cleared. Fails with
// ErrNotMember when the viewer is not a participant of the room.
func (c *PrivateController) FetchPage(ctx context.Context, room, viewerID string, limit int, cursor int64) (*PrivateHistoryPage, error) {
	if !conversation.Member(room, viewerID) {
		metrics.MessagesRejected.WithLabelValues("not_member").Inc()
		return nil, ErrNotMember
	}

	start := time.Now()
	messages, next, err := c.store.PrivatePage(ctx, room, viewerID, limit, cursor)
	if err != nil {
		return nil, err
	}
	metrics.HistoryLatency.WithLabelValues(SurfacePrivate).Observe(time.Since(start).Seconds())

	return &PrivateHistoryPage{
		Room:       room,
		Messages:   messages,
		NextCursor: nextCursor(next),
	}, nil
}

// Clear hides the conversation for userID, then purges every message
// both participants have now cleared. Clearing is a private act: no
// event reaches the other participant. Idempotent end to end.
func (c *PrivateController) Clear(ctx context.Context, room, userID string) error {
	if !conversation.Member(room, userID) {
		metrics.MessagesRejected.WithLabelValues("not_member").Inc()
		return ErrNotMember
	}

	marked, err := c.store.SoftDeleteAll(ctx, room, userID)
	if err != nil {
		return err
	}
	purged, err := c.store.PurgeFullyDeleted(ctx, room)
	if err != nil {
		return err
	}
	log.Printf("chat: conversation %s cleared by %s (marked=%d purged=%d)", room, userID, marked, purged)
	return nil
}

// lookup enriches a sender, degrading to an unenriched event on
// directory failure.
func (c *PrivateController) lookup(ctx context.Context, userID string) *profile.Profile {
	p, err := c.directory.Lookup(ctx, userID)
	if err != nil {
		log.Printf("chat: profile lookup %s: %v (sending unenriched)", userID, err)
		return nil
	}
	return p
}
