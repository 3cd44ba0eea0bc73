// Package auth verifies connection credentials. Tokens are opaque
// strings the identity service writes to Redis:
//
//	Key:   authtoken:<token>
//	Value: <user_id>
//	TTL:   owned by the identity service
//
// The gateway calls Authenticate during the HTTP upgrade; a token that
// does not resolve rejects the connection before any room binding
// exists.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TokenPrefix is the Redis key prefix for auth tokens.
const TokenPrefix = "authtoken:"

// ErrInvalidToken is returned for missing, unknown, or expired tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenStore authenticates bearer tokens against Redis.
type TokenStore struct {
	client *redis.Client
}

// NewTokenStore creates a token authenticator on the given Redis
// client.
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// Authenticate resolves a token to its user identifier. Unknown and
// empty tokens fail with ErrInvalidToken; Redis outages surface as
// distinct errors so callers can tell a rejection from an infra
// failure.
func (s *TokenStore) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	userID, err := s.client.Get(ctx, TokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("auth: token lookup: %w", err)
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Issue writes a token for a user. Used by tests and local tooling;
// production tokens are minted by the identity service.
func (s *TokenStore) Issue(ctx context.Context, token, userID string) error {
	return s.client.Set(ctx, TokenPrefix+token, userID, 0).Err()
}
