package cache

import (
	"context"
	"time"
)

// Tiered layers a process-local L1 in front of a shared L2 (typically
// Redis) for deployments running more than one autoscaler replica
// against the same fleet: a sample one replica just queried is reused by
// the others for l1TTL instead of every replica independently re-querying
// the metrics backend. Writes go through to both tiers; an L2 lookup
// failure surfaces to the caller, which treats it as a miss, so a flaky
// shared tier degrades sampling to local-only rather than blocking it.
type Tiered struct {
	l1    Cache
	l2    Cache
	l1TTL time.Duration
}

// NewTiered creates a two-tier sample cache. l1TTL (default 2s) bounds
// how long this replica reuses a sample another replica queried; the ttl
// callers pass to Store governs the shared L2 copy.
func NewTiered(l1, l2 Cache, l1TTL time.Duration) *Tiered {
	if l1TTL <= 0 {
		l1TTL = 2 * time.Second
	}
	return &Tiered{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *Tiered) Lookup(ctx context.Context, query string) (float64, bool, error) {
	if value, ok, err := t.l1.Lookup(ctx, query); err == nil && ok {
		return value, true, nil
	}

	value, ok, err := t.l2.Lookup(ctx, query)
	if err != nil || !ok {
		return 0, false, err
	}

	_ = t.l1.Store(ctx, query, value, t.l1TTL)
	return value, true, nil
}

func (t *Tiered) Store(ctx context.Context, query string, value float64, ttl time.Duration) error {
	_ = t.l1.Store(ctx, query, value, t.l1TTL)
	return t.l2.Store(ctx, query, value, ttl)
}

func (t *Tiered) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}
