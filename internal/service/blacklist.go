package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Blacklist tiers, used as metric labels.
const (
	TierLocal  = "local"
	TierShared = "shared"
)

// SharedBlacklist is a blacklist tier visible to every process.
type SharedBlacklist interface {
	Add(ctx context.Context, id string, ttl time.Duration) error
	Contains(ctx context.Context, id string) (bool, error)
}

// LocalBlacklist is an in-process set of token ids with per-entry expiry. It lives for the
// lifetime of the process and is never authoritative.
type LocalBlacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewLocalBlacklist constructs an empty local tier.
func NewLocalBlacklist() *LocalBlacklist {
	return &LocalBlacklist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add blacklists id until expiresAt.
func (l *LocalBlacklist) Add(id string, expiresAt time.Time) {
	if id == "" || !expiresAt.After(l.now()) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.entries[id]; ok && current.After(expiresAt) {
		return
	}
	l.entries[id] = expiresAt
}

// Contains reports whether id is blacklisted and not yet expired.
func (l *LocalBlacklist) Contains(id string) bool {
	l.mu.RLock()
	expiresAt, ok := l.entries[id]
	l.mu.RUnlock()
	return ok && expiresAt.After(l.now())
}

// Purge drops expired entries and returns how many were removed.
func (l *LocalBlacklist) Purge() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, expiresAt := range l.entries {
		if !expiresAt.After(now) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries, expired ones included.
func (l *LocalBlacklist) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Blacklist consults the local tier first and then the optional shared tier.
type Blacklist struct {
	local   *LocalBlacklist
	shared  SharedBlacklist
	metrics *MetricsService
	logger  *zap.Logger
}

// NewBlacklist combines the tiers. shared may be nil.
func NewBlacklist(local *LocalBlacklist, shared SharedBlacklist, metrics *MetricsService, logger *zap.Logger) *Blacklist {
	if local == nil {
		local = NewLocalBlacklist()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blacklist{local: local, shared: shared, metrics: metrics, logger: logger}
}

// Local exposes the in-process tier for housekeeping.
func (b *Blacklist) Local() *LocalBlacklist { return b.local }

// Add blacklists id in every tier until expiresAt. Shared tier failures are returned after
// the local tier has been updated.
func (b *Blacklist) Add(ctx context.Context, id string, expiresAt time.Time) error {
	b.local.Add(id, expiresAt)
	if b.shared == nil {
		return nil
	}
	return b.shared.Add(ctx, id, time.Until(expiresAt))
}

// Contains reports whether id is blacklisted in any tier. A shared tier error is returned
// together with false; callers decide whether to fail closed.
func (b *Blacklist) Contains(ctx context.Context, id string) (bool, error) {
	if b.local.Contains(id) {
		b.metrics.RecordBlacklistLookup(TierLocal, true)
		return true, nil
	}
	b.metrics.RecordBlacklistLookup(TierLocal, false)

	if b.shared == nil {
		return false, nil
	}
	found, err := b.shared.Contains(ctx, id)
	if err != nil {
		return false, err
	}
	b.metrics.RecordBlacklistLookup(TierShared, found)
	return found, nil
}
