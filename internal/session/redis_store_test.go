package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupAccessSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveAccessSession(ctx, "jti-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveAccessSession failed: %v", err)
	}

	userID, err := store.LookupAccessSession(ctx, "jti-1")
	if err != nil {
		t.Fatalf("LookupAccessSession failed: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("expected user ID user-123, got %s", userID)
	}

	ttl := s.TTL("session:jti-1")
	if ttl <= 23*time.Hour || ttl > 24*time.Hour {
		t.Errorf("expected TTL close to 24h, got %v", ttl)
	}
}

func TestAccessSessionExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveAccessSession(ctx, "jti-short", "user-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveAccessSession failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := store.LookupAccessSession(ctx, "jti-short"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after expiry, got %v", err)
	}
}

func TestSaveAccessSessionRejectsPastExpiry(t *testing.T) {
	store, _ := setupTestRedis(t)

	err := store.SaveAccessSession(context.Background(), "jti-old", "user-1", time.Now().Add(-time.Second))
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestRevokeAccessSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveAccessSession(ctx, "jti-1", "user-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveAccessSession failed: %v", err)
	}
	if err := store.RevokeAccessSession(ctx, "jti-1"); err != nil {
		t.Fatalf("RevokeAccessSession failed: %v", err)
	}
	if _, err := store.LookupAccessSession(ctx, "jti-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after revoke, got %v", err)
	}
	if err := store.RevokeAccessSession(ctx, "jti-unknown"); err != nil {
		t.Fatalf("revoking unknown session should succeed, got %v", err)
	}
}

func TestLookupAccessSessionCorruptData(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	store := NewRedisStoreWithClient(client)
	t.Cleanup(func() { store.Close() })

	if err := s.Set("session:jti-bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := store.LookupAccessSession(context.Background(), "jti-bad")
	if err == nil || errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected unmarshal error, got %v", err)
	}
}
