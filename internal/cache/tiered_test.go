package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

// cpuQuery/memQuery mirror the PromQL strings metricsclient.Client
// actually uses as cache keys, so these tests exercise the cache the way
// the metrics client does rather than with arbitrary placeholder keys.
const (
	cpuQuery = `rate(container_cpu_usage_seconds_total{id=~"/docker/c1.*"}[30s]) * 100`
	memQuery = `(container_memory_usage_bytes{id=~"/docker/c1.*"} / container_spec_memory_limit_bytes{id=~"/docker/c1.*"}) * 100`
)

func newTestTiered() (*Tiered, *InMemory, *InMemory) {
	l1 := NewInMemory()
	l2 := NewInMemory()
	return NewTiered(l1, l2, 10*time.Second), l1, l2
}

func TestTieredStoreWritesThroughBothTiers(t *testing.T) {
	tc, l1, l2 := newTestTiered()
	defer tc.Close()
	ctx := context.Background()

	if err := tc.Store(ctx, cpuQuery, 72.5, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if value, ok, _ := l1.Lookup(ctx, cpuQuery); !ok || value != 72.5 {
		t.Fatalf("expected the sample in L1, got ok=%v value=%v", ok, value)
	}
	if value, ok, _ := l2.Lookup(ctx, cpuQuery); !ok || value != 72.5 {
		t.Fatalf("expected the sample in L2, got ok=%v value=%v", ok, value)
	}
}

func TestTieredFallsThroughToL2AndPopulatesL1(t *testing.T) {
	tc, l1, l2 := newTestTiered()
	defer tc.Close()
	ctx := context.Background()

	// Simulate a peer replica having already cached this query in the
	// shared L2; this replica's L1 is still cold.
	if err := l2.Store(ctx, memQuery, 41.0, time.Minute); err != nil {
		t.Fatalf("L2 Store failed: %v", err)
	}

	value, ok, err := tc.Lookup(ctx, memQuery)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if value != 41.0 {
		t.Fatalf("expected 41.0, got %v", value)
	}

	if value, ok, _ := l1.Lookup(ctx, memQuery); !ok || value != 41.0 {
		t.Fatalf("expected L1 populated after the L2 fallthrough, got ok=%v value=%v", ok, value)
	}
}

func TestTieredMissOnBothTiers(t *testing.T) {
	tc, _, _ := newTestTiered()
	defer tc.Close()

	if _, ok, err := tc.Lookup(context.Background(), cpuQuery); ok || err != nil {
		t.Fatalf("expected a clean miss, got ok=%v err=%v", ok, err)
	}
}

// failingCache stands in for an unreachable shared Redis tier.
type failingCache struct{ err error }

func (f *failingCache) Lookup(context.Context, string) (float64, bool, error) {
	return 0, false, f.err
}
func (f *failingCache) Store(context.Context, string, float64, time.Duration) error {
	return f.err
}
func (f *failingCache) Close() error { return nil }

func TestTieredL2FailureSurfacesAsMissWithError(t *testing.T) {
	l2err := errors.New("connection refused")
	tc := NewTiered(NewInMemory(), &failingCache{err: l2err}, 10*time.Second)
	ctx := context.Background()

	_, ok, err := tc.Lookup(ctx, cpuQuery)
	if ok {
		t.Fatal("expected no value from a failing L2")
	}
	if !errors.Is(err, l2err) {
		t.Fatalf("expected the L2 error to surface for logging, got %v", err)
	}
}

func TestTieredL1StillServesWhenL2StoreFails(t *testing.T) {
	tc := NewTiered(NewInMemory(), &failingCache{err: errors.New("down")}, 10*time.Second)
	ctx := context.Background()

	if err := tc.Store(ctx, cpuQuery, 30.0, time.Minute); err == nil {
		t.Fatal("expected the L2 store failure to surface for logging")
	}

	// The write-through to L1 happened regardless, so this replica still
	// benefits from its own sample.
	value, ok, err := tc.Lookup(ctx, cpuQuery)
	if err != nil || !ok || value != 30.0 {
		t.Fatalf("expected the local sample to survive, got ok=%v value=%v err=%v", ok, value, err)
	}
}

func TestTieredDefaultsL1TTLWhenZero(t *testing.T) {
	tc := NewTiered(NewInMemory(), NewInMemory(), 0)
	defer tc.Close()
	ctx := context.Background()

	tc.Store(ctx, cpuQuery, 30.0, time.Minute)

	value, ok, _ := tc.Lookup(ctx, cpuQuery)
	if !ok || value != 30.0 {
		t.Fatalf("expected a hit with the default L1 TTL, got ok=%v value=%v", ok, value)
	}
}
