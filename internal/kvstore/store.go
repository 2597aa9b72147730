// Package kvstore implements the State Store Adapter: Get/Set/Delete/Scan
// over string-keyed JSON blobs with TTL, backed by Redis in production.
package kvstore

import (
	"context"
	"time"
)

// Store is the narrow contract the Persistence Layer needs. It says
// nothing about pools or snapshots — that layering lives in
// internal/persistence, which is the only caller of this package.
type Store interface {
	// Get returns the raw value for key, or ok=false if it does not
	// exist or has expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key with the given TTL (SET key value EX ttl).
	// A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns every key matching the glob prefix+"*" (SCAN MATCH).
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}
