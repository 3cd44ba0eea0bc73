// Package profile looks up the display attributes attached to outgoing
// messages. The directory is an external collaborator from the
// messaging core's point of view; controllers call it synchronously
// after persistence and before fan-out.
package profile

import (
	"context"
	"database/sql"
	"fmt"
)

// Profile holds the display attributes attached to an enriched message.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Directory resolves a user identifier to display attributes.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*Profile, error)
}

// PGDirectory reads profiles from the users table.
type PGDirectory struct {
	db *sql.DB
}

// NewPGDirectory creates a directory backed by the given database.
func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

// Lookup fetches a user's display attributes. An unknown user yields a
// bare profile carrying only the ID, so message delivery never fails
// on a missing directory row.
func (d *PGDirectory) Lookup(ctx context.Context, userID string) (*Profile, error) {
	const query = `SELECT id, display_name, avatar_url FROM users WHERE id = $1`

	p := &Profile{}
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &p.DisplayName, &p.AvatarURL)
	if err == sql.ErrNoRows {
		return &Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: lookup %s: %w", userID, err)
	}
	return p, nil
}
