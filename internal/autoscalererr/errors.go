// Package autoscalererr defines the error taxonomy shared by the metrics
// client, runtime adapter, persistence layer, and pool: sentinel errors
// checked with errors.Is, wrapped with fmt.Errorf("...: %w", err) at each
// layer.
package autoscalererr

import "errors"

var (
	// ErrMetricsUnavailable: a metrics query exhausted all retries.
	// Callers must skip the tick for the affected container, never
	// default the sample to zero.
	ErrMetricsUnavailable = errors.New("autoscaler: metrics unavailable")

	// ErrRuntimeUnavailable: the container runtime could not be reached.
	ErrRuntimeUnavailable = errors.New("autoscaler: runtime unavailable")

	// ErrStartFailed: runtime.Start returned a non-zero status or the
	// image could not be found.
	ErrStartFailed = errors.New("autoscaler: container start failed")

	// ErrNotFound: the referenced container is gone from the runtime's
	// point of view. Not an error from Stop's caller's perspective.
	ErrNotFound = errors.New("autoscaler: not found")

	// ErrPersistence: the state store could not be reached or a snapshot
	// failed to (de)serialize. In-memory state remains authoritative.
	ErrPersistence = errors.New("autoscaler: persistence error")

	// ErrConfiguration: invalid thresholds or negative durations. Fatal
	// at startup.
	ErrConfiguration = errors.New("autoscaler: invalid configuration")

	// ErrInvariantViolation: caller bug, e.g. adding a duplicate
	// container id. The pool is left unchanged.
	ErrInvariantViolation = errors.New("autoscaler: invariant violation")
)
