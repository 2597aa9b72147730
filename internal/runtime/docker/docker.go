// Package docker implements runtime.Adapter by shelling out to the docker
// CLI: os/exec invocations of "docker run"/"docker stop"/"docker rm",
// with container naming used as the routing target instead of a mapped
// port -- routing forwards plain HTTP to the container's name on the
// shared network, so no agent handshake or port-mapping bookkeeping is
// needed here.
//
// The Docker Go SDK (github.com/docker/docker) is intentionally not used
// in favor of shelling out to the docker CLI directly.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/autoscalererr"
	"github.com/alob-mtc/invok-autoscaler/internal/circuitbreaker"
	"github.com/alob-mtc/invok-autoscaler/internal/clock"
	"github.com/alob-mtc/invok-autoscaler/internal/logging"
	"github.com/alob-mtc/invok-autoscaler/internal/runtime"
)

// Five consecutive daemon-unreachable failures trip the breaker, and one
// probe is let through every 15s until the daemon answers again, so a
// down docker daemon is not hammered once per container on every scale
// tick. Application-level failures (bad image, name clash) are recorded
// as successes because the daemon did answer; see isDaemonUnreachable.
const (
	breakerFailureThreshold = 5
	breakerOpenDuration     = 15 * time.Second
)

// Adapter shells out to the docker binary. It is safe for concurrent use;
// each call spawns its own subprocess.
type Adapter struct {
	bin     string
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

// New builds an Adapter. bin defaults to "docker"; timeout bounds every
// subprocess invocation (default 10s).
func New(bin string, timeout time.Duration) *Adapter {
	if bin == "" {
		bin = "docker"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		bin:     bin,
		timeout: timeout,
		breaker: circuitbreaker.New(breakerFailureThreshold, breakerOpenDuration, clock.Real{}),
	}
}

func (a *Adapter) run(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

// Start launches a detached container on spec.Network with spec.Env
// injected, named spec.Name.
func (a *Adapter) Start(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	if !a.breaker.Allow() {
		return "", fmt.Errorf("runtime/docker: start %s: %w", spec.Name, autoscalererr.ErrRuntimeUnavailable)
	}

	args := []string{"run", "-d", "--name", spec.Name}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	for k, v := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, spec.Image)

	logging.Ctx(ctx).Debug("runtime/docker: starting container", "name", spec.Name, "image", spec.Image, "network", spec.Network)

	stdout, stderr, err := a.run(ctx, args...)
	if err != nil {
		if isDaemonUnreachable(stderr) {
			a.breaker.RecordFailure()
			return "", fmt.Errorf("runtime/docker: start %s: %w: %s", spec.Name, autoscalererr.ErrRuntimeUnavailable, stderr)
		}
		a.breaker.RecordSuccess() // daemon responded; the failure is application-level (bad image, etc.)
		return "", fmt.Errorf("runtime/docker: start %s: %w: %s", spec.Name, autoscalererr.ErrStartFailed, stderr)
	}
	a.breaker.RecordSuccess()

	id := stdout
	logging.Ctx(ctx).Info("runtime/docker: container started", "name", spec.Name, "id", id)
	return id, nil
}

// Inspect reports whether id is currently running.
func (a *Adapter) Inspect(ctx context.Context, id string) (runtime.State, error) {
	if !a.breaker.Allow() {
		return runtime.State{}, fmt.Errorf("runtime/docker: inspect %s: %w", id, autoscalererr.ErrRuntimeUnavailable)
	}

	stdout, stderr, err := a.run(ctx, "inspect", "--format", "{{.State.Running}}", id)
	if err != nil {
		if isNotFound(stderr) {
			a.breaker.RecordSuccess() // daemon responded; "gone" is a normal outcome
			return runtime.State{}, fmt.Errorf("runtime/docker: inspect %s: %w", id, autoscalererr.ErrNotFound)
		}
		a.breaker.RecordFailure()
		return runtime.State{}, fmt.Errorf("runtime/docker: inspect %s: %w: %s", id, autoscalererr.ErrRuntimeUnavailable, stderr)
	}
	a.breaker.RecordSuccess()

	return runtime.State{Running: stdout == "true"}, nil
}

// Stop removes id, best-effort. A missing container is not an error:
// removal is idempotent from the caller's perspective.
func (a *Adapter) Stop(ctx context.Context, id string) error {
	_, stderr, err := a.run(ctx, "stop", "-t", "2", id)
	if err != nil && !isNotFound(stderr) {
		logging.Ctx(ctx).Warn("runtime/docker: stop failed, attempting rm anyway", "id", id, "error", stderr)
	}
	if _, stderr, err := a.run(ctx, "rm", "-f", id); err != nil && !isNotFound(stderr) {
		return fmt.Errorf("runtime/docker: stop %s: %w: %s", id, autoscalererr.ErrRuntimeUnavailable, stderr)
	}
	return nil
}

func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such object") || strings.Contains(s, "no such container") || strings.Contains(s, "is not running")
}

func isDaemonUnreachable(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "cannot connect to the docker daemon") || strings.Contains(s, "connection refused")
}
