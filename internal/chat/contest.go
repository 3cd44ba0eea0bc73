package chat

import (
	"context"
	"log"
	"time"

	"github.com/quizdash/chat-service/internal/events"
	"github.com/quizdash/chat-service/internal/message"
	"github.com/quizdash/chat-service/internal/metrics"
	"github.com/quizdash/chat-service/internal/profile"
	"github.com/quizdash/chat-service/internal/protocol"
)

// contestStore is the slice of the message store the contest controller
// uses.
type contestStore interface {
	InsertContest(ctx context.Context, contestID string, senderID *string, body string, kind message.Kind, phase message.Phase) (*message.ContestMessage, error)
	ContestPage(ctx context.Context, contestID string, limit int, cursor int64) ([]message.ContestMessage, int64, error)
}

// ContestController orchestrates per-contest group chat: user messages,
// senderless system announcements, and chronological history pages.
type ContestController struct {
	store     contestStore
	directory profile.Directory
	emitter   Emitter
	publisher events.Publisher
}

// NewContestController wires a contest chat controller.
func NewContestController(store contestStore, directory profile.Directory, emitter Emitter, publisher events.Publisher) *ContestController {
	return &ContestController{
		store:     store,
		directory: directory,
		emitter:   emitter,
		publisher: publisher,
	}
}

// SendUserMessage persists a user-authored contest message and
// broadcasts it to everyone in the contest room.
func (c *ContestController) SendUserMessage(ctx context.Context, contestID, senderID, body string, phase message.Phase) (*ContestEvent, error) {
	if err := ValidateBody(body); err != nil {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	m, err := c.store.InsertContest(ctx, contestID, &senderID, body, message.KindText, phase)
	if err != nil {
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues(SurfaceContest).Inc()

	event := c.enrich(ctx, m)
	c.emitter.EmitToRoom(contestID, protocol.TypeMessage, event)
	c.publisher.PublishContest(contestID, event)
	return event, nil
}

// SendSystemMessage persists a senderless system announcement (phase
// transitions, winner reveals) and broadcasts it. System messages skip
// body limits; they are produced by the platform, not users.
func (c *ContestController) SendSystemMessage(ctx context.Context, contestID, body string, phase message.Phase) (*ContestEvent, error) {
	m, err := c.store.InsertContest(ctx, contestID, nil, body, message.KindSystem, phase)
	if err != nil {
		return nil, err
	}
	metrics.MessagesStored.WithLabelValues(SurfaceContest).Inc()

	event := c.enrich(ctx, m)
	c.emitter.EmitToRoom(contestID, protocol.TypeMessage, event)
	c.publisher.PublishContest(contestID, event)
	return event, nil
}

// FetchPage returns one author-enriched page of contest history in
// chronological order. The store pages newest-first for cursor
// stability; the reversal here is presentation only and the cursor
// protocol is unchanged.
func (c *ContestController) FetchPage(ctx context.Context, contestID string, limit int, cursor int64) (*ContestHistoryPage, error) {
	start := time.Now()
	messages, next, err := c.store.ContestPage(ctx, contestID, limit, cursor)
	if err != nil {
		return nil, err
	}
	metrics.HistoryLatency.WithLabelValues(SurfaceContest).Observe(time.Since(start).Seconds())

	// One directory hit per distinct author per page.
	profiles := make(map[string]*profile.Profile)
	enriched := make([]ContestEvent, len(messages))
	for i, m := range messages {
		event := newContestEvent(&m)
		if m.SenderID != nil {
			p, ok := profiles[*m.SenderID]
			if !ok {
				p = c.lookup(ctx, *m.SenderID)
				profiles[*m.SenderID] = p
			}
			event.Sender = p
		}
		// Reverse into chronological order as we go.
		enriched[len(messages)-1-i] = event
	}

	return &ContestHistoryPage{
		ContestID:  contestID,
		Messages:   enriched,
		NextCursor: nextCursor(next),
	}, nil
}

func (c *ContestController) enrich(ctx context.Context, m *message.ContestMessage) *ContestEvent {
	event := newContestEvent(m)
	if m.SenderID != nil {
		event.Sender = c.lookup(ctx, *m.SenderID)
	}
	return &event
}

func (c *ContestController) lookup(ctx context.Context, userID string) *profile.Profile {
	p, err := c.directory.Lookup(ctx, userID)
	if err != nil {
		log.Printf("chat: profile lookup %s: %v (sending unenriched)", userID, err)
		return nil
	}
	return p
}

func newContestEvent(m *message.ContestMessage) ContestEvent {
	return ContestEvent{
		ID:        m.ID,
		Surface:   SurfaceContest,
		ContestID: m.ContestID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		Kind:      m.Kind,
		Phase:     m.Phase,
		CreatedAt: m.CreatedAt,
	}
}
