package revocation

import (
	"context"
	"time"

	"github.com/MrEthical07/rentAuth/internal/shard"
)

// MemoryRegistry is a process-local Registry. Entries are striped across
// independently locked shards.
type MemoryRegistry struct {
	entries *shard.Map[Entry]
	now     func() time.Time
}

// NewMemoryRegistry returns an empty registry. A nil now uses time.Now.
func NewMemoryRegistry(now func() time.Time) *MemoryRegistry {
	if now == nil {
		now = time.Now
	}
	return &MemoryRegistry{entries: shard.New[Entry](0), now: now}
}

func (r *MemoryRegistry) Add(_ context.Context, tokenID string, reason Reason, expiresAt time.Time) error {
	if !expiresAt.After(r.now()) {
		return nil
	}
	r.entries.Update(tokenID, func(cur Entry, ok bool) (Entry, bool) {
		if ok && cur.ExpiresAt.After(expiresAt) {
			return cur, true
		}
		return Entry{TokenID: tokenID, ExpiresAt: expiresAt, Reason: reason}, true
	})
	return nil
}

func (r *MemoryRegistry) Contains(_ context.Context, tokenID string) (bool, error) {
	e, ok := r.entries.Get(tokenID)
	return ok && e.ExpiresAt.After(r.now()), nil
}

func (r *MemoryRegistry) ContainsAny(ctx context.Context, ids ...string) (bool, error) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if ok, _ := r.Contains(ctx, id); ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRegistry) SweepExpired(_ context.Context) (int, error) {
	now := r.now()
	return r.entries.DeleteFunc(func(_ string, e Entry) bool {
		return !e.ExpiresAt.After(now)
	}), nil
}

// Len returns the number of stored entries, expired or not.
func (r *MemoryRegistry) Len() int {
	return r.entries.Len()
}
