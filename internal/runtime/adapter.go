// Package runtime defines the Container Runtime Adapter seam: start/
// inspect/stop a worker container by id, with no internal retry -- retry
// policy belongs to the autoscaler's periodic loop, not the adapter.
package runtime

import "context"

// ContainerSpec describes how to start a fresh worker container.
type ContainerSpec struct {
	// Image is the container image to run (the function's built image).
	Image string
	// Name is the container's human/user label, typically
	// "<function>-<uuid>".
	Name string
	// Port is the container-side port the function listens on.
	Port uint32
	// Network is the runtime network the container attaches to.
	Network string
	// Env is the set of environment variables injected into the
	// container.
	Env map[string]string
}

// State is the result of inspecting a running container.
type State struct {
	Running bool
}

// Adapter is the opaque seam over the container runtime. Implementations
// must not retry internally -- callers (the autoscaler's scale loop)
// decide when to retry.
type Adapter interface {
	// Start launches a container from spec and returns its runtime id.
	// Fails with autoscalererr.ErrRuntimeUnavailable (network) or
	// autoscalererr.ErrStartFailed (non-zero exit / image missing).
	Start(ctx context.Context, spec ContainerSpec) (id string, err error)

	// Inspect reports whether id is currently running. Fails with
	// autoscalererr.ErrNotFound or autoscalererr.ErrRuntimeUnavailable.
	Inspect(ctx context.Context, id string) (State, error)

	// Stop removes id. Idempotent: a missing container is not an error
	// from the caller's perspective.
	Stop(ctx context.Context, id string) error
}
