// Package session tracks connection presence in Redis. Each live
// gateway connection gets a hash keyed by connection ID:
//
//	Key:   presence:<connection_id>
//	Value: user_id, server, connected_at, last_active
//	TTL:   1 hour, refreshed on activity
//
// External consumers (notification dispatchers) read it to decide
// whether a user is reachable in real time. The registry of which
// rooms a connection is in stays in-process; presence only answers
// "is this user connected, and where".
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for presence hashes.
	PresencePrefix = "presence:"

	// PresenceTTL is the time-to-live for presence keys. Activity
	// refreshes it; a crashed server's entries age out on their own.
	PresenceTTL = 1 * time.Hour
)

// Presence is one connection's presence record.
type Presence struct {
	ConnectionID string `redis:"connection_id"`
	UserID       string `redis:"user_id"`
	Server       string `redis:"server"`
	ConnectedAt  int64  `redis:"connected_at"`
	LastActive   int64  `redis:"last_active"`
}

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this gateway instance
}

// NewStore creates a presence store on the given Redis client.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Track records a new connection's presence with a fresh TTL.
func (s *Store) Track(ctx context.Context, connectionID, userID string) error {
	key := PresencePrefix + connectionID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"connection_id": connectionID,
		"user_id":       userID,
		"server":        s.serverName,
		"connected_at":  now,
		"last_active":   now,
	})
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("session: track %s: %w", connectionID, err)
	}
	return nil
}

// Touch refreshes a connection's activity timestamp and TTL.
func (s *Store) Touch(ctx context.Context, connectionID string) error {
	key := PresencePrefix + connectionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a presence record. Returns nil if the connection is
// not tracked.
func (s *Store) Get(ctx context.Context, connectionID string) (*Presence, error) {
	key := PresencePrefix + connectionID
	var p Presence
	if err := s.client.HGetAll(ctx, key).Scan(&p); err != nil {
		return nil, err
	}
	if p.ConnectionID == "" {
		return nil, nil
	}
	return &p, nil
}

// Remove deletes a connection's presence record.
func (s *Store) Remove(ctx context.Context, connectionID string) error {
	return s.client.Del(ctx, PresencePrefix+connectionID).Err()
}

// Client returns the underlying Redis client for shared use.
func (s *Store) Client() *redis.Client {
	return s.client
}
