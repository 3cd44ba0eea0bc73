package message

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Store persists private and contest messages in PostgreSQL. All
// methods are safe for concurrent use; each insert is a single atomic
// row write and the database assigns the strictly increasing IDs, so
// concurrent sends on the same conversation need no application-level
// locking.
type Store struct {
	db *sql.DB
}

// NewStore creates a message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertPrivate persists a private message with an empty deleted_for
// set and returns the stored row including its assigned ID and
// timestamp. Fails with ErrValidation if the body is empty or either
// identifier is missing; nothing is written in that case.
func (s *Store) InsertPrivate(ctx context.Context, conversationKey, senderID, receiverID, body string) (*PrivateMessage, error) {
	if body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrValidation)
	}
	if conversationKey == "" || senderID == "" || receiverID == "" {
		return nil, fmt.Errorf("%w: missing identifier", ErrValidation)
	}

	const query = `
		INSERT INTO private_messages (conversation_key, sender_id, receiver_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	m := &PrivateMessage{
		ConversationKey: conversationKey,
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Body:            body,
		DeletedFor:      []string{},
	}
	err := s.db.QueryRowContext(ctx, query, conversationKey, senderID, receiverID, body).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("message: insert private: %w", err)
	}
	return m, nil
}

// PrivatePage returns one page of a conversation's messages, newest
// first, excluding every message the viewer has soft-deleted. A zero
// cursor requests the newest page; otherwise only messages with
// id < cursor are returned. The second return value is the cursor for
// the next older page, or 0 when history is exhausted. An unknown
// conversation yields an empty page, not an error.
func (s *Store) PrivatePage(ctx context.Context, conversationKey, viewerID string, limit int, cursor int64) ([]PrivateMessage, int64, error) {
	limit = clampLimit(limit)

	query := `
		SELECT id, conversation_key, sender_id, receiver_id, body, deleted_for, created_at
		FROM private_messages
		WHERE conversation_key = $1
		  AND NOT (deleted_for @> ARRAY[$2]::text[])`
	args := []interface{}{conversationKey, viewerID}
	if cursor > 0 {
		query += ` AND id < $3`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("message: private page: %w", err)
	}
	defer rows.Close()

	messages := make([]PrivateMessage, 0, limit)
	for rows.Next() {
		var m PrivateMessage
		if err := rows.Scan(&m.ID, &m.ConversationKey, &m.SenderID, &m.ReceiverID,
			&m.Body, pq.Array(&m.DeletedFor), &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("message: private page scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("message: private page rows: %w", err)
	}

	// The extra row proves an older page exists. The cursor anchors on
	// the oldest row actually returned, so the next fetch (id < cursor)
	// resumes exactly where this page ended.
	var next int64
	if len(messages) > limit {
		messages = messages[:limit]
		next = messages[limit-1].ID
	}
	return messages, next, nil
}

// SoftDeleteAll adds userID to deleted_for on every message of the
// conversation that does not already carry it. Idempotent: the
// containment guard makes re-running (including retries after partial
// failure) a no-op for already-marked rows. Returns the number of rows
// newly marked.
func (s *Store) SoftDeleteAll(ctx context.Context, conversationKey, userID string) (int64, error) {
	const query = `
		UPDATE private_messages
		SET deleted_for = array_append(deleted_for, $2)
		WHERE conversation_key = $1
		  AND NOT (deleted_for @> ARRAY[$2]::text[])`

	res, err := s.db.ExecContext(ctx, query, conversationKey, userID)
	if err != nil {
		return 0, fmt.Errorf("message: soft delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("message: soft delete rows affected: %w", err)
	}
	return n, nil
}

// PurgeFullyDeleted permanently removes every message of the
// conversation that both participants have soft-deleted. Idempotent and
// safe to run after every soft delete. Returns the number of rows
// purged.
func (s *Store) PurgeFullyDeleted(ctx context.Context, conversationKey string) (int64, error) {
	const query = `
		DELETE FROM private_messages
		WHERE conversation_key = $1
		  AND cardinality(deleted_for) >= 2`

	res, err := s.db.ExecContext(ctx, query, conversationKey)
	if err != nil {
		return 0, fmt.Errorf("message: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("message: purge rows affected: %w", err)
	}
	return n, nil
}

// InsertContest persists a contest message. senderID must be nil
// exactly when kind is KindSystem; violations fail with ErrValidation
// before anything is written, mirroring the table's CHECK constraint.
func (s *Store) InsertContest(ctx context.Context, contestID string, senderID *string, body string, kind Kind, phase Phase) (*ContestMessage, error) {
	if body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrValidation)
	}
	if contestID == "" {
		return nil, fmt.Errorf("%w: missing contest id", ErrValidation)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	if !phase.Valid() {
		return nil, fmt.Errorf("%w: unknown phase %q", ErrValidation, phase)
	}
	if (senderID == nil) != (kind == KindSystem) {
		return nil, fmt.Errorf("%w: sender must be absent for system messages and present otherwise", ErrValidation)
	}
	if senderID != nil && *senderID == "" {
		return nil, fmt.Errorf("%w: empty sender id", ErrValidation)
	}

	const query = `
		INSERT INTO contest_messages (contest_id, sender_id, body, kind, phase)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	var sender sql.NullString
	if senderID != nil {
		sender = sql.NullString{String: *senderID, Valid: true}
	}

	m := &ContestMessage{
		ContestID: contestID,
		SenderID:  senderID,
		Body:      body,
		Kind:      kind,
		Phase:     phase,
	}
	err := s.db.QueryRowContext(ctx, query, contestID, sender, body, string(kind), string(phase)).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("message: insert contest: %w", err)
	}
	return m, nil
}

// ContestPage returns one page of a contest's messages, newest first,
// with the same cursor protocol as PrivatePage.
func (s *Store) ContestPage(ctx context.Context, contestID string, limit int, cursor int64) ([]ContestMessage, int64, error) {
	limit = clampLimit(limit)

	query := `
		SELECT id, contest_id, sender_id, body, kind, phase, created_at
		FROM contest_messages
		WHERE contest_id = $1`
	args := []interface{}{contestID}
	if cursor > 0 {
		query += ` AND id < $2`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("message: contest page: %w", err)
	}
	defer rows.Close()

	messages := make([]ContestMessage, 0, limit)
	for rows.Next() {
		var (
			m      ContestMessage
			sender sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ContestID, &sender, &m.Body, &m.Kind, &m.Phase, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("message: contest page scan: %w", err)
		}
		if sender.Valid {
			m.SenderID = &sender.String
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("message: contest page rows: %w", err)
	}

	var next int64
	if len(messages) > limit {
		messages = messages[:limit]
		next = messages[limit-1].ID
	}
	return messages, next, nil
}
