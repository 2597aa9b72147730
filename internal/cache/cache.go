// Package cache holds the metrics client's sampled-value cache: the most
// recent CPU or memory reading per PromQL query string, kept for a few
// seconds so that repeated queries for the same container within that
// window reuse one backend answer instead of each issuing their own.
//
// Values are the float64 percentages the metrics backend returns; the
// Redis tier owns their wire encoding so callers never see bytes.
package cache

import (
	"context"
	"time"
)

// Cache is the seam the metrics client stores samples behind. A miss is
// (0, false, nil); a non-nil error means the backing tier itself failed
// (e.g. an unreachable shared Redis), which callers treat as a miss and
// log rather than letting it block sampling.
type Cache interface {
	// Lookup returns the cached sample for query, if one is present and
	// has not expired.
	Lookup(ctx context.Context, query string) (value float64, ok bool, err error)

	// Store caches value under query for ttl. A non-positive ttl means
	// the sample is not worth caching and is dropped.
	Store(ctx context.Context, query string, value float64, ttl time.Duration) error

	// Close releases whatever the tier holds (a connection, a map).
	Close() error
}
