// Package persistence serializes ContainerPool snapshots to the state
// store, saving on every mutation (not periodically), and bulk-loads
// snapshots in parallel batches on startup recovery.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/domain"
	"github.com/alob-mtc/invok-autoscaler/internal/kvstore"
	"github.com/alob-mtc/invok-autoscaler/internal/logging"
	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 50

// Store wraps a kvstore.Store with the autoscaler's key scheme and JSON
// snapshot encoding. Persistence is best-effort: the write methods
// (SavePool, DeletePool, SaveMetadata) log errors rather than propagating
// them to pool mutations, and in-memory state stays authoritative until
// the next successful save. The read methods (LoadPool, ListPoolKeys,
// LoadAll) return their errors to the caller.
type Store struct {
	kv          kvstore.Store
	keyPrefix   string
	snapshotTTL int64 // seconds; 0 means kvstore default (no expiry override beyond Set's ttl arg)
	batchSize   int
}

// New creates a persistence Store. prefix defaults to "autoscaler" and
// batchSize to 50.
func New(kv kvstore.Store, cfg domain.PersistenceConfig) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "autoscaler"
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Store{
		kv:          kv,
		keyPrefix:   prefix,
		snapshotTTL: int64(cfg.SnapshotTTL.Seconds()),
		batchSize:   batch,
	}
}

func (s *Store) poolKey(functionKey string) string {
	return fmt.Sprintf("%s:pool:%s", s.keyPrefix, functionKey)
}

func (s *Store) poolKeyPrefix() string {
	return s.keyPrefix + ":pool:"
}

func (s *Store) metadataKey() string {
	return s.keyPrefix + ":metadata"
}

// SavePool serializes and writes a snapshot, refreshing its TTL. Errors are
// logged and swallowed: in-memory pool state remains authoritative until
// the next successful save.
func (s *Store) SavePool(ctx context.Context, functionKey string, snap domain.PoolSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		logging.Ctx(ctx).Warn("persistence: marshal snapshot failed", "function", functionKey, "error", err)
		return
	}
	ttl := time.Duration(s.snapshotTTL) * time.Second
	if err := s.kv.Set(ctx, s.poolKey(functionKey), data, ttl); err != nil {
		logging.Ctx(ctx).Warn("persistence: save pool failed", "function", functionKey, "error", err)
	}
}

// LoadPool returns the snapshot for functionKey, or ok=false if absent.
func (s *Store) LoadPool(ctx context.Context, functionKey string) (domain.PoolSnapshot, bool, error) {
	data, ok, err := s.kv.Get(ctx, s.poolKey(functionKey))
	if err != nil {
		return domain.PoolSnapshot{}, false, fmt.Errorf("persistence: load pool %s: %w", functionKey, err)
	}
	if !ok {
		return domain.PoolSnapshot{}, false, nil
	}
	var snap domain.PoolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.PoolSnapshot{}, false, fmt.Errorf("persistence: decode pool %s: %w", functionKey, err)
	}
	return snap, true, nil
}

// DeletePool removes a pool's persisted key, used when a pool empties with
// min_containers == 0 so recovery does not resurrect an empty shell.
func (s *Store) DeletePool(ctx context.Context, functionKey string) {
	if err := s.kv.Delete(ctx, s.poolKey(functionKey)); err != nil {
		logging.Ctx(ctx).Warn("persistence: delete pool failed", "function", functionKey, "error", err)
	}
}

// ListPoolKeys returns every function key with a persisted pool snapshot.
func (s *Store) ListPoolKeys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Scan(ctx, s.poolKeyPrefix())
	if err != nil {
		return nil, fmt.Errorf("persistence: list pool keys: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.poolKeyPrefix()))
	}
	return out, nil
}

// LoadAll lists every persisted pool then loads snapshots in parallel,
// bounded to batchSize concurrent kvstore round trips at a time, via
// errgroup.SetLimit, so recovery never opens unbounded connections.
func (s *Store) LoadAll(ctx context.Context) ([]domain.PoolSnapshot, error) {
	keys, err := s.ListPoolKeys(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*domain.PoolSnapshot, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchSize)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			snap, ok, err := s.LoadPool(gctx, key)
			if err != nil {
				logging.Ctx(gctx).Warn("persistence: recovery load failed, skipping", "function", key, "error", err)
				return nil // best-effort: individual load errors never abort recovery
			}
			if ok {
				results[i] = &snap
			}
			return nil
		})
	}
	_ = g.Wait() // no worker returns a non-nil error; best-effort by construction

	out := make([]domain.PoolSnapshot, 0, len(keys))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// SaveMetadata persists SystemMetadata under the metadata key.
func (s *Store) SaveMetadata(ctx context.Context, meta domain.SystemMetadata) {
	data, err := json.Marshal(meta)
	if err != nil {
		logging.Ctx(ctx).Warn("persistence: marshal metadata failed", "error", err)
		return
	}
	if err := s.kv.Set(ctx, s.metadataKey(), data, 0); err != nil {
		logging.Ctx(ctx).Warn("persistence: save metadata failed", "error", err)
	}
}
