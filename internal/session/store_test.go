package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis instance. Tests are skipped
// when Redis is unavailable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, PresencePrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewStore(client, "gw-test")
}

func TestTrackAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	connID := fmt.Sprintf("test_conn_%d", time.Now().UnixNano())

	if err := store.Track(ctx, connID, "user_42"); err != nil {
		t.Fatalf("Track() error: %v", err)
	}

	p, err := store.Get(ctx, connID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p == nil {
		t.Fatal("expected a presence record")
	}
	if p.UserID != "user_42" || p.Server != "gw-test" {
		t.Errorf("unexpected record: %+v", p)
	}
	if p.ConnectedAt == 0 || p.LastActive == 0 {
		t.Errorf("timestamps not set: %+v", p)
	}

	ttl, err := store.Client().TTL(ctx, PresencePrefix+connID).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > PresenceTTL {
		t.Errorf("TTL = %s, want in (0, %s]", ttl, PresenceTTL)
	}
}

func TestTouch_RefreshesActivityAndTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	connID := fmt.Sprintf("test_conn_%d", time.Now().UnixNano())

	if err := store.Track(ctx, connID, "user_42"); err != nil {
		t.Fatalf("Track() error: %v", err)
	}
	tracked, _ := store.Get(ctx, connID)

	// Age the key so the refresh is observable.
	key := PresencePrefix + connID
	if err := store.Client().Expire(ctx, key, time.Minute).Err(); err != nil {
		t.Fatalf("expire: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)
	if err := store.Touch(ctx, connID); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}

	p, err := store.Get(ctx, connID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p.LastActive <= tracked.LastActive {
		t.Errorf("last_active not advanced: %d -> %d", tracked.LastActive, p.LastActive)
	}

	ttl, err := store.Client().TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= time.Minute {
		t.Errorf("TTL = %s after Touch, want refreshed to ~%s", ttl, PresenceTTL)
	}
}

func TestRemoveAndGetMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	connID := fmt.Sprintf("test_conn_%d", time.Now().UnixNano())

	if err := store.Track(ctx, connID, "user_42"); err != nil {
		t.Fatalf("Track() error: %v", err)
	}
	if err := store.Remove(ctx, connID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	p, err := store.Get(ctx, connID)
	if err != nil {
		t.Fatalf("Get() after remove error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for a removed connection, got %+v", p)
	}
}
