package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayStore implements ports.WebhookReplayStore using Redis SET NX. A
// webhook delivery is identified by (provider, reference, status) so the same
// settlement notification delivered twice is absorbed without touching the
// ledger twice.
type ReplayStore struct {
	client *goredis.Client
	prefix string
}

// NewReplayStore creates a new Redis-backed webhook replay store.
func NewReplayStore(client *goredis.Client) *ReplayStore {
	return &ReplayStore{
		client: client,
		prefix: "checkout:webhook:",
	}
}

// CheckAndSet atomically checks if this delivery was already seen, marking it
// if not. Returns true for a first delivery, false for a replay.
func (s *ReplayStore) CheckAndSet(ctx context.Context, provider, reference, status string, ttl time.Duration) (bool, error) {
	key := s.prefix + provider + ":" + reference + ":" + status
	result, err := s.client.SetArgs(ctx, key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists, delivery was already processed
			return false, nil
		}
		return false, fmt.Errorf("redis webhook replay check: %w", err)
	}
	return result == "OK", nil
}
