package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis instance. Tests are skipped
// when Redis is unavailable.
func newTestStore(t *testing.T) *TokenStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, TokenPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewTokenStore(client)
}

func TestAuthenticate_ValidToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Issue(ctx, "test_tok_1", "user_42"); err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	userID, err := store.Authenticate(ctx, "test_tok_1")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if userID != "user_42" {
		t.Errorf("expected user_42, got %q", userID)
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, token := range []string{"", "test_unknown"} {
		if _, err := store.Authenticate(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Authenticate(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}
