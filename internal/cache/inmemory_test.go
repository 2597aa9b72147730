package cache

import (
	"context"
	"testing"
	"time"
)

// containerQuery is a stand-in for the PromQL cache key the metrics
// client actually builds from a container id, so these tests exercise
// the cache with realistic key shapes instead of arbitrary placeholders.
const containerQuery = `rate(container_cpu_usage_seconds_total{id=~"/docker/abc123.*"}[30s]) * 100`

func TestInMemoryStoreThenLookup(t *testing.T) {
	c := NewInMemory()
	defer c.Close()
	ctx := context.Background()

	if err := c.Store(ctx, containerQuery, 63.2, time.Minute); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	value, ok, err := c.Lookup(ctx, containerQuery)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if value != 63.2 {
		t.Fatalf("expected 63.2, got %v", value)
	}
}

func TestInMemoryLookupOnUnsampledQueryMisses(t *testing.T) {
	c := NewInMemory()
	defer c.Close()

	if _, ok, err := c.Lookup(context.Background(), containerQuery); ok || err != nil {
		t.Fatalf("expected a clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestInMemorySampleExpiresAfterTTL(t *testing.T) {
	c := NewInMemory()
	defer c.Close()
	ctx := context.Background()

	// Short TTL so the test does not sleep long.
	if err := c.Store(ctx, containerQuery, 80.0, 10*time.Millisecond); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if value, ok, _ := c.Lookup(ctx, containerQuery); !ok || value != 80.0 {
		t.Fatalf("expected a hit immediately after store, got ok=%v value=%v", ok, value)
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok, _ := c.Lookup(ctx, containerQuery); ok {
		t.Fatal("expected a miss once the sample has aged out")
	}
}

func TestInMemoryNonPositiveTTLIsNotCached(t *testing.T) {
	c := NewInMemory()
	defer c.Close()
	ctx := context.Background()

	if err := c.Store(ctx, containerQuery, 12.0, 0); err != nil {
		t.Fatalf("Store with zero TTL failed: %v", err)
	}
	if _, ok, _ := c.Lookup(ctx, containerQuery); ok {
		t.Fatal("a sample stored with a non-positive TTL must not be cached")
	}
}

func TestInMemoryStoreOverwritesPriorSample(t *testing.T) {
	c := NewInMemory()
	defer c.Close()
	ctx := context.Background()

	c.Store(ctx, containerQuery, 10.0, time.Minute)
	c.Store(ctx, containerQuery, 95.5, time.Minute)

	value, ok, _ := c.Lookup(ctx, containerQuery)
	if !ok || value != 95.5 {
		t.Fatalf("expected the newer sample, got ok=%v value=%v", ok, value)
	}
}

func TestInMemoryCloseDropsSamples(t *testing.T) {
	c := NewInMemory()
	ctx := context.Background()

	c.Store(ctx, containerQuery, 47.1, time.Minute)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok, _ := c.Lookup(ctx, containerQuery); ok {
		t.Fatal("expected samples dropped after Close")
	}
}
