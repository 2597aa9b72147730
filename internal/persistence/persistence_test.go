package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/domain"
	"github.com/alob-mtc/invok-autoscaler/internal/kvstore"
)

func testSnapshot() domain.PoolSnapshot {
	return domain.PoolSnapshot{
		FunctionName: "f1",
		Containers: []domain.ContainerSnapshot{
			{ID: "c1", Name: "f1-c1", ContainerPort: 8080, Status: domain.StatusHealthy, LastActiveUnix: 1000},
		},
		MinContainers: 1,
		MaxContainers: 3,
		Config: domain.MonitoringConfig{
			CPUOverloadThreshold: 80,
		},
		LastUpdated: 1700000000,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New(kvstore.NewMemory(), domain.PersistenceConfig{SnapshotTTL: time.Hour})

	snap := testSnapshot()
	store.SavePool(ctx, "f1", snap)

	got, ok, err := store.LoadPool(ctx, "f1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.FunctionName != snap.FunctionName || len(got.Containers) != 1 || got.Containers[0].ID != "c1" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestDeletePool(t *testing.T) {
	ctx := context.Background()
	store := New(kvstore.NewMemory(), domain.PersistenceConfig{})
	store.SavePool(ctx, "f1", testSnapshot())
	store.DeletePool(ctx, "f1")

	_, ok, err := store.LoadPool(ctx, "f1")
	if err != nil || ok {
		t.Fatalf("expected pool deleted: ok=%v err=%v", ok, err)
	}
}

func TestLoadAllBatched(t *testing.T) {
	ctx := context.Background()
	store := New(kvstore.NewMemory(), domain.PersistenceConfig{BatchSize: 2})

	for _, key := range []string{"f1", "f2", "f3"} {
		snap := testSnapshot()
		snap.FunctionName = key
		store.SavePool(ctx, key, snap)
	}

	all, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(all))
	}
}

func TestLoadAllSkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	store := New(kv, domain.PersistenceConfig{KeyPrefix: "autoscaler"})

	store.SavePool(ctx, "good", testSnapshot())
	_ = kv.Set(ctx, "autoscaler:pool:bad", []byte("{not json"), 0)

	all, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected the bad entry to be skipped, got %d results", len(all))
	}
}
