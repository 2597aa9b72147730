package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Fatal("expected miss on unset key")
	}

	if err := m.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := m.Get(ctx, "k1")
	if err != nil || !ok || string(val) != "v1" {
		t.Fatalf("get: val=%q ok=%v err=%v", val, ok, err)
	}

	if err := m.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestMemoryScan(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.Set(ctx, "autoscaler:pool:f1", []byte("1"), 0)
	_ = m.Set(ctx, "autoscaler:pool:f2", []byte("2"), 0)
	_ = m.Set(ctx, "autoscaler:metadata", []byte("3"), 0)

	keys, err := m.Scan(ctx, "autoscaler:pool:")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 pool keys, got %d: %v", len(keys), keys)
	}
}
