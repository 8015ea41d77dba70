package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlacklistRepository is the shared revocation tier. Entries are keyed by token id and
// expire on their own once the token they cover could no longer verify.
type BlacklistRepository struct {
	client *redis.Client
	prefix string
}

// NewBlacklistRepository constructs a Redis backed blacklist.
func NewBlacklistRepository(client *redis.Client, prefix string) *BlacklistRepository {
	return &BlacklistRepository{client: client, prefix: prefix}
}

func (r *BlacklistRepository) key(id string) string {
	return r.prefix + id
}

// Add stores id for ttl. Non-positive ttls are ignored since the token has already expired.
func (r *BlacklistRepository) Add(ctx context.Context, id string, ttl time.Duration) error {
	if r.client == nil || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(id), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis blacklist set %s: %w", id, err)
	}
	return nil
}

// Contains reports whether id is blacklisted.
func (r *BlacklistRepository) Contains(ctx context.Context, id string) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis blacklist exists %s: %w", id, err)
	}
	return n > 0, nil
}

// Ping checks connectivity for readiness probes.
func (r *BlacklistRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection if present.
func (r *BlacklistRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
