package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/quizdash/chat-service/internal/conversation"
	"github.com/quizdash/chat-service/internal/message"
	"github.com/quizdash/chat-service/internal/metrics"
	"github.com/quizdash/chat-service/internal/profile"
)

// fakeStore is an in-memory message store mirroring the cursor
// protocol of the real one: strictly increasing IDs, limit+1 fetch,
// descending pages.
type fakeStore struct {
	nextID  int64
	private []message.PrivateMessage
	contest []message.ContestMessage
}

func (s *fakeStore) InsertPrivate(_ context.Context, key, senderID, receiverID, body string) (*message.PrivateMessage, error) {
	s.nextID++
	m := message.PrivateMessage{
		ID:              s.nextID,
		ConversationKey: key,
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Body:            body,
		DeletedFor:      []string{},
		CreatedAt:       time.Now(),
	}
	s.private = append(s.private, m)
	return &m, nil
}

func (s *fakeStore) PrivatePage(_ context.Context, key, viewerID string, limit int, cursor int64) ([]message.PrivateMessage, int64, error) {
	if limit <= 0 {
		limit = message.DefaultPageLimit
	}
	var page []message.PrivateMessage
	for i := len(s.private) - 1; i >= 0; i-- {
		m := s.private[i]
		if m.ConversationKey != key || m.DeletedBy(viewerID) {
			continue
		}
		if cursor > 0 && m.ID >= cursor {
			continue
		}
		page = append(page, m)
		if len(page) > limit {
			break
		}
	}
	var next int64
	if len(page) > limit {
		page = page[:limit]
		next = page[limit-1].ID
	}
	return page, next, nil
}

func (s *fakeStore) SoftDeleteAll(_ context.Context, key, userID string) (int64, error) {
	var n int64
	for i := range s.private {
		m := &s.private[i]
		if m.ConversationKey == key && !m.DeletedBy(userID) {
			m.DeletedFor = append(m.DeletedFor, userID)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) PurgeFullyDeleted(_ context.Context, key string) (int64, error) {
	var kept []message.PrivateMessage
	var n int64
	for _, m := range s.private {
		if m.ConversationKey == key && len(m.DeletedFor) >= 2 {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.private = kept
	return n, nil
}

func (s *fakeStore) InsertContest(_ context.Context, contestID string, senderID *string, body string, kind message.Kind, phase message.Phase) (*message.ContestMessage, error) {
	if (senderID == nil) != (kind == message.KindSystem) {
		return nil, fmt.Errorf("%w: sender/kind mismatch", message.ErrValidation)
	}
	s.nextID++
	m := message.ContestMessage{
		ID:        s.nextID,
		ContestID: contestID,
		SenderID:  senderID,
		Body:      body,
		Kind:      kind,
		Phase:     phase,
		CreatedAt: time.Now(),
	}
	s.contest = append(s.contest, m)
	return &m, nil
}

func (s *fakeStore) ContestPage(_ context.Context, contestID string, limit int, cursor int64) ([]message.ContestMessage, int64, error) {
	if limit <= 0 {
		limit = message.DefaultPageLimit
	}
	var page []message.ContestMessage
	for i := len(s.contest) - 1; i >= 0; i-- {
		m := s.contest[i]
		if m.ContestID != contestID {
			continue
		}
		if cursor > 0 && m.ID >= cursor {
			continue
		}
		page = append(page, m)
		if len(page) > limit {
			break
		}
	}
	var next int64
	if len(page) > limit {
		page = page[:limit]
		next = page[limit-1].ID
	}
	return page, next, nil
}

type emitted struct {
	room    string
	event   string
	payload interface{}
}

type recordEmitter struct {
	emits []emitted
}

func (e *recordEmitter) EmitToRoom(roomID, event string, payload interface{}) {
	e.emits = append(e.emits, emitted{room: roomID, event: event, payload: payload})
}

type recordPublisher struct {
	privateKeys []string
	contestIDs  []string
}

func (p *recordPublisher) PublishPrivate(key string, _ interface{}) {
	p.privateKeys = append(p.privateKeys, key)
}

func (p *recordPublisher) PublishContest(contestID string, _ interface{}) {
	p.contestIDs = append(p.contestIDs, contestID)
}

// staticDirectory mirrors the production directory's behavior for
// unknown users: a bare profile, never an error.
type staticDirectory struct {
	profiles map[string]profile.Profile
}

func (d *staticDirectory) Lookup(_ context.Context, userID string) (*profile.Profile, error) {
	if p, ok := d.profiles[userID]; ok {
		return &p, nil
	}
	return &profile.Profile{UserID: userID}, nil
}

func newPrivateFixture() (*PrivateController, *fakeStore, *recordEmitter, *recordPublisher) {
	store := &fakeStore{}
	emitter := &recordEmitter{}
	publisher := &recordPublisher{}
	dir := &staticDirectory{profiles: map[string]profile.Profile{
		"alice": {UserID: "alice", DisplayName: "Alice"},
		"bob":   {UserID: "bob", DisplayName: "Bob"},
	}}
	return NewPrivateController(store, dir, emitter, publisher), store, emitter, publisher
}

func newContestFixture() (*ContestController, *fakeStore, *recordEmitter, *recordPublisher) {
	store := &fakeStore{}
	emitter := &recordEmitter{}
	publisher := &recordPublisher{}
	dir := &staticDirectory{profiles: map[string]profile.Profile{
		"alice": {UserID: "alice", DisplayName: "Alice"},
	}}
	return NewContestController(store, dir, emitter, publisher), store, emitter, publisher
}

func TestPrivateSend_StoresEnrichesAndFansOut(t *testing.T) {
	ctrl, store, emitter, publisher := newPrivateFixture()
	ctx := context.Background()

	event, err := ctrl.Send(ctx, "bob", "alice", "hey")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	wantRoom, _ := conversation.Key("alice", "bob")
	if event.Room != wantRoom {
		t.Errorf("event room = %q, want %q", event.Room, wantRoom)
	}
	if event.Sender == nil || event.Sender.DisplayName != "Bob" {
		t.Errorf("expected enriched sender Bob, got %+v", event.Sender)
	}
	if len(store.private) != 1 {
		t.Fatalf("expected 1 stored message, got %d", len(store.private))
	}
	if len(emitter.emits) != 1 || emitter.emits[0].room != wantRoom || emitter.emits[0].event != "message" {
		t.Errorf("unexpected fan-out: %+v", emitter.emits)
	}
	if len(publisher.privateKeys) != 1 || publisher.privateKeys[0] != wantRoom {
		t.Errorf("unexpected publish: %+v", publisher.privateKeys)
	}
}

func TestPrivateSend_Rejections(t *testing.T) {
	ctrl, store, emitter, _ := newPrivateFixture()
	ctx := context.Background()

	tests := []struct {
		name     string
		sender   string
		receiver string
		body     string
		wantErr  error
	}{
		{"empty body", "alice", "bob", "", message.ErrValidation},
		{"self message", "alice", "alice", "hi", conversation.ErrInvalidIdentifier},
		{"empty receiver", "alice", "", "hi", conversation.ErrInvalidIdentifier},
		{"oversized body", "alice", "bob", strings.Repeat("x", MaxBodyBytes+1), message.ErrValidation},
		{"invalid utf8", "alice", "bob", string([]byte{0xff, 0xfe}), message.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ctrl.Send(ctx, tt.sender, tt.receiver, tt.body); !errors.Is(err, tt.wantErr) {
				t.Errorf("Send() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if len(store.private) != 0 {
		t.Errorf("rejected sends must not persist, got %d rows", len(store.private))
	}
	if len(emitter.emits) != 0 {
		t.Errorf("rejected sends must not fan out, got %d emits", len(emitter.emits))
	}
}

func TestPrivateFetchPage_MembershipAndCursorWalk(t *testing.T) {
	ctrl, _, _, _ := newPrivateFixture()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if _, err := ctrl.Send(ctx, "alice", "bob", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}
	room, _ := conversation.Key("alice", "bob")

	if _, err := ctrl.FetchPage(ctx, room, "mallory", 20, 0); !errors.Is(err, ErrNotMember) {
		t.Fatalf("FetchPage(outsider) = %v, want ErrNotMember", err)
	}

	first, err := ctrl.FetchPage(ctx, room, "alice", 20, 0)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(first.Messages) != 20 {
		t.Fatalf("first page size = %d, want 20", len(first.Messages))
	}
	if first.NextCursor == nil {
		t.Fatal("first page next cursor is nil, want set")
	}
	if first.Messages[0].ID <= first.Messages[19].ID {
		t.Error("page must be newest first")
	}

	second, err := ctrl.FetchPage(ctx, room, "alice", 20, *first.NextCursor)
	if err != nil {
		t.Fatalf("FetchPage(cursor) error: %v", err)
	}
	if len(second.Messages) != 5 {
		t.Fatalf("second page size = %d, want 5", len(second.Messages))
	}
	if second.NextCursor != nil {
		t.Errorf("second page next cursor = %d, want nil", *second.NextCursor)
	}

	seen := make(map[int64]bool)
	for _, m := range append(first.Messages, second.Messages...) {
		if seen[m.ID] {
			t.Errorf("duplicate message %d across pages", m.ID)
		}
		seen[m.ID] = true
	}
	if len(seen) != 25 {
		t.Errorf("pages cover %d messages, want 25", len(seen))
	}
}

func TestPrivateClear_TwoSidedLifecycle(t *testing.T) {
	ctrl, store, _, _ := newPrivateFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ctrl.Send(ctx, "alice", "bob", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}
	room, _ := conversation.Key("alice", "bob")

	if err := ctrl.Clear(ctx, room, "mallory"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Clear(outsider) = %v, want ErrNotMember", err)
	}

	if err := ctrl.Clear(ctx, room, "alice"); err != nil {
		t.Fatalf("Clear(alice) error: %v", err)
	}

	alicePage, err := ctrl.FetchPage(ctx, room, "alice", 20, 0)
	if err != nil {
		t.Fatalf("FetchPage(alice) error: %v", err)
	}
	if len(alicePage.Messages) != 0 {
		t.Errorf("alice sees %d messages after clearing, want 0", len(alicePage.Messages))
	}

	bobPage, err := ctrl.FetchPage(ctx, room, "bob", 20, 0)
	if err != nil {
		t.Fatalf("FetchPage(bob) error: %v", err)
	}
	if len(bobPage.Messages) != 3 {
		t.Errorf("bob sees %d messages after alice clears, want 3", len(bobPage.Messages))
	}

	if err := ctrl.Clear(ctx, room, "bob"); err != nil {
		t.Fatalf("Clear(bob) error: %v", err)
	}
	if len(store.private) != 0 {
		t.Errorf("store holds %d rows after both cleared, want 0", len(store.private))
	}

	// Clearing an already-purged conversation is a no-op.
	if err := ctrl.Clear(ctx, room, "bob"); err != nil {
		t.Fatalf("repeat Clear(bob) error: %v", err)
	}
}

func TestContestSendUserMessage_Enriched(t *testing.T) {
	ctrl, _, emitter, publisher := newContestFixture()
	ctx := context.Background()

	event, err := ctrl.SendUserMessage(ctx, "contest_7", "alice", "good luck all", message.PhaseLobby)
	if err != nil {
		t.Fatalf("SendUserMessage() error: %v", err)
	}
	if event.Kind != message.KindText {
		t.Errorf("kind = %q, want text", event.Kind)
	}
	if event.SenderID == nil || *event.SenderID != "alice" {
		t.Errorf("sender id = %v, want alice", event.SenderID)
	}
	if event.Sender == nil || event.Sender.DisplayName != "Alice" {
		t.Errorf("expected enriched sender, got %+v", event.Sender)
	}
	if len(emitter.emits) != 1 || emitter.emits[0].room != "contest_7" {
		t.Errorf("unexpected fan-out: %+v", emitter.emits)
	}
	if len(publisher.contestIDs) != 1 || publisher.contestIDs[0] != "contest_7" {
		t.Errorf("unexpected publish: %+v", publisher.contestIDs)
	}
}

func TestContestSendSystemMessage_Senderless(t *testing.T) {
	ctrl, _, emitter, _ := newContestFixture()
	ctx := context.Background()

	event, err := ctrl.SendSystemMessage(ctx, "contest_7", "Contest started", message.PhaseLive)
	if err != nil {
		t.Fatalf("SendSystemMessage() error: %v", err)
	}
	if event.SenderID != nil {
		t.Errorf("system message sender id = %q, want nil", *event.SenderID)
	}
	if event.Kind != message.KindSystem {
		t.Errorf("kind = %q, want system", event.Kind)
	}
	if event.Sender != nil {
		t.Errorf("system message must carry no sender profile, got %+v", event.Sender)
	}
	if len(emitter.emits) != 1 || emitter.emits[0].room != "contest_7" || emitter.emits[0].event != "message" {
		t.Errorf("unexpected fan-out: %+v", emitter.emits)
	}
}

func TestContestFetchPage_ChronologicalAndEnriched(t *testing.T) {
	ctrl, _, _, _ := newContestFixture()
	ctx := context.Background()

	if _, err := ctrl.SendSystemMessage(ctx, "contest_7", "Lobby open", message.PhaseLobby); err != nil {
		t.Fatalf("SendSystemMessage() error: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := ctrl.SendUserMessage(ctx, "contest_7", "alice", fmt.Sprintf("msg %d", i), message.PhaseLobby); err != nil {
			t.Fatalf("SendUserMessage() error: %v", err)
		}
	}

	page, err := ctrl.FetchPage(ctx, "contest_7", 20, 0)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(page.Messages) != 5 {
		t.Fatalf("page size = %d, want 5", len(page.Messages))
	}
	if page.NextCursor != nil {
		t.Errorf("next cursor = %d, want nil", *page.NextCursor)
	}
	for i := 1; i < len(page.Messages); i++ {
		if page.Messages[i].ID <= page.Messages[i-1].ID {
			t.Fatal("page must be chronological (ascending IDs)")
		}
	}
	if page.Messages[0].Kind != message.KindSystem {
		t.Errorf("oldest message kind = %q, want system", page.Messages[0].Kind)
	}
	if page.Messages[1].Sender == nil || page.Messages[1].Sender.DisplayName != "Alice" {
		t.Errorf("expected enriched author, got %+v", page.Messages[1].Sender)
	}
}

func TestContestFetchPage_CursorWalk(t *testing.T) {
	ctrl, _, _, _ := newContestFixture()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := ctrl.SendUserMessage(ctx, "contest_9", "alice", fmt.Sprintf("msg %d", i), message.PhaseLive); err != nil {
			t.Fatalf("SendUserMessage() error: %v", err)
		}
	}

	first, err := ctrl.FetchPage(ctx, "contest_9", 5, 0)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(first.Messages) != 5 || first.NextCursor == nil {
		t.Fatalf("first page size=%d cursor=%v, want 5 and non-nil", len(first.Messages), first.NextCursor)
	}

	second, err := ctrl.FetchPage(ctx, "contest_9", 5, *first.NextCursor)
	if err != nil {
		t.Fatalf("FetchPage(cursor) error: %v", err)
	}
	if len(second.Messages) != 2 || second.NextCursor != nil {
		t.Fatalf("second page size=%d cursor=%v, want 2 and nil", len(second.Messages), second.NextCursor)
	}
	// The older page's newest entry precedes the newer page's oldest.
	if second.Messages[len(second.Messages)-1].ID >= first.Messages[0].ID {
		t.Error("pages overlap across the cursor boundary")
	}
}

func TestOutsiderRequestsAreCounted(t *testing.T) {
	ctrl, _, _, _ := newPrivateFixture()
	ctx := context.Background()

	counter := metrics.MessagesRejected.WithLabelValues("not_member")
	before := testutil.ToFloat64(counter)

	if _, err := ctrl.FetchPage(ctx, "alice:bob", "mallory", 20, 0); !errors.Is(err, ErrNotMember) {
		t.Fatalf("FetchPage(outsider) = %v, want ErrNotMember", err)
	}
	if err := ctrl.Clear(ctx, "alice:bob", "mallory"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("Clear(outsider) = %v, want ErrNotMember", err)
	}

	if got := testutil.ToFloat64(counter); got != before+2 {
		t.Errorf("not_member rejections counted %v times, want %v", got-before, 2)
	}
}
