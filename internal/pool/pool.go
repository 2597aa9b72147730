// Package pool implements the Container Pool: the per-function fleet of
// worker containers, their derived health status, and the scale-up/
// scale-down decision predicates.
//
// # Design rationale
//
// A per-pool-key sync.RWMutex guards a slice of tracked instances,
// mutated in place and read back under the same lock. PickHealthiest
// selects a container to route to by filtering to non-Overloaded, sorting
// ascending by (cpu_usage, last_active), and returning the first.
//
// # Concurrency model
//
// Every exported method below is a pure in-memory, lock-held critical
// section with no I/O, so callers (the autoscaler) take the lock
// implicitly per call, never hold it across a suspension point, and
// perform I/O (runtime start/stop, persistence save) between calls.
//
// # Invariants
//
//   - A container's ID is unique within a pool; AddContainer fails with
//     ErrInvariantViolation on a duplicate.
//   - idle_since is non-nil if and only if status == Idle.
//   - The overload check in UpdateMetrics strictly precedes the idle
//     check: a container can never be simultaneously Idle and Overloaded.
package pool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/autoscalererr"
	"github.com/alob-mtc/invok-autoscaler/internal/clock"
	"github.com/alob-mtc/invok-autoscaler/internal/domain"
)

// ContainerPool holds the current fleet of worker containers for one
// function key, plus its scaling policy.
//
// # Locking discipline
//
// All fields are accessed under mu. Exported methods take the lock
// internally; there is no public Lock/Unlock, keeping the mutex private
// to the type that owns the invariant.
type ContainerPool struct {
	mu sync.RWMutex

	functionKey   string
	containers    []domain.ContainerInfo
	minContainers int
	maxContainers int
	config        domain.MonitoringConfig

	clk clock.Clock
}

// New creates an empty ContainerPool for functionKey. clk is injected so
// tests can drive idle_since/cooldown comparisons deterministically; pass
// clock.Real{} in production.
func New(functionKey string, minContainers, maxContainers int, cfg domain.MonitoringConfig, clk clock.Clock) *ContainerPool {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ContainerPool{
		functionKey:   functionKey,
		minContainers: minContainers,
		maxContainers: maxContainers,
		config:        cfg,
		clk:           clk,
	}
}

// FunctionKey returns the pool's function key.
func (p *ContainerPool) FunctionKey() string { return p.functionKey }

// MinContainers returns the pool's configured lower bound.
func (p *ContainerPool) MinContainers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minContainers
}

// MaxContainers returns the pool's configured upper bound.
func (p *ContainerPool) MaxContainers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxContainers
}

// Config returns the pool's monitoring configuration.
func (p *ContainerPool) Config() domain.MonitoringConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// Len reports the current container count.
func (p *ContainerPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.containers)
}

// Containers returns a copy of the current container list, safe for the
// caller to range over without holding the pool's lock.
func (p *ContainerPool) Containers() []domain.ContainerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.ContainerInfo, len(p.containers))
	copy(out, p.containers)
	return out
}

// AddContainer appends a new container in Healthy status. Fails with
// ErrInvariantViolation if id is already present -- a caller bug, the pool
// is left unchanged.
func (p *ContainerPool) AddContainer(c domain.ContainerInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.containers {
		if existing.ID == c.ID {
			return fmt.Errorf("pool: add container %s: %w", c.ID, autoscalererr.ErrInvariantViolation)
		}
	}

	c.Status = domain.StatusHealthy
	c.LastActive = p.clk.Now()
	c.IdleSince = nil
	p.containers = append(p.containers, c)
	return nil
}

// RemoveContainer removes id. Idempotent: removing an absent id is not an
// error.
func (p *ContainerPool) RemoveContainer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range p.containers {
		if c.ID == id {
			p.containers = append(p.containers[:i], p.containers[i+1:]...)
			return
		}
	}
}

// UpdateMetrics updates a container's last-sampled CPU/memory and runs the
// status-transition rules: overload beats idle, idle beats healthy. A miss
// on id is a no-op -- the container may have been removed between the
// metrics query and this call.
func (p *ContainerPool) UpdateMetrics(id string, cpuPct, memPct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.containers {
		if p.containers[i].ID != id {
			continue
		}
		c := &p.containers[i]
		c.CPUUsage = cpuPct
		c.MemoryUsage = memPct

		switch {
		case cpuPct > p.config.CPUOverloadThreshold || memPct > p.config.MemoryOverloadThreshold:
			c.Status = domain.StatusOverloaded
			c.IdleSince = nil
		case cpuPct <= p.config.CooldownCPUThreshold:
			if c.Status != domain.StatusIdle {
				now := p.clk.Now()
				c.IdleSince = &now
			}
			c.Status = domain.StatusIdle
		default:
			c.Status = domain.StatusHealthy
			c.IdleSince = nil
		}
		return
	}
}

// MarkActive sets last_active = now; if the container was Idle, it
// transitions back to Healthy and idle_since is cleared.
func (p *ContainerPool) MarkActive(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.containers {
		if p.containers[i].ID != id {
			continue
		}
		c := &p.containers[i]
		c.LastActive = p.clk.Now()
		if c.Status == domain.StatusIdle {
			c.Status = domain.StatusHealthy
			c.IdleSince = nil
		}
		return
	}
}

// NeedsScaleUp reports whether every container is Overloaded, the pool is
// non-empty, and there is room under MaxContainers.
func (p *ContainerPool) NeedsScaleUp() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.containers) == 0 || len(p.containers) >= p.maxContainers {
		return false
	}
	for _, c := range p.containers {
		if c.Status != domain.StatusOverloaded {
			return false
		}
	}
	return true
}

// ScaledownCandidates returns ids eligible for scale-down: Idle for at
// least CooldownDuration, capped at len(containers)-min_containers. Order
// matches the containers slice's order.
func (p *ContainerPool) ScaledownCandidates() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.containers) <= p.minContainers {
		return nil
	}
	limit := len(p.containers) - p.minContainers
	now := p.clk.Now()

	var candidates []string
	for _, c := range p.containers {
		if len(candidates) >= limit {
			break
		}
		if c.Status != domain.StatusIdle || c.IdleSince == nil {
			continue
		}
		if now.Sub(*c.IdleSince) >= p.config.CooldownDuration {
			candidates = append(candidates, c.ID)
		}
	}
	return candidates
}

// PickHealthiest filters to Healthy/Idle containers, sorts ascending by
// (cpu_usage, last_active), and returns the first. Returns ok=false if no
// such container exists -- the caller escalates to an Overloaded fallback
// or a scale-up.
func (p *ContainerPool) PickHealthiest() (domain.ContainerInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var candidates []domain.ContainerInfo
	for _, c := range p.containers {
		if c.Status == domain.StatusHealthy || c.Status == domain.StatusIdle {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return domain.ContainerInfo{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CPUUsage != candidates[j].CPUUsage {
			return candidates[i].CPUUsage < candidates[j].CPUUsage
		}
		return candidates[i].LastActive.Before(candidates[j].LastActive)
	})
	return candidates[0], true
}

// LeastLoadedOverloaded returns the Overloaded container with the lowest
// CPU usage, for the routing fallback path when every container is
// Overloaded.
func (p *ContainerPool) LeastLoadedOverloaded() (domain.ContainerInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best domain.ContainerInfo
	found := false
	for _, c := range p.containers {
		if c.Status != domain.StatusOverloaded {
			continue
		}
		if !found || c.CPUUsage < best.CPUUsage {
			best = c
			found = true
		}
	}
	return best, found
}

// Snapshot renders the pool's current state as the wire-stable
// domain.PoolSnapshot.
func (p *ContainerPool) Snapshot() domain.PoolSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := domain.PoolSnapshot{
		FunctionName:  p.functionKey,
		Containers:    make([]domain.ContainerSnapshot, len(p.containers)),
		MinContainers: p.minContainers,
		MaxContainers: p.maxContainers,
		Config:        p.config,
		LastUpdated:   p.clk.Now().Unix(),
	}
	for i, c := range p.containers {
		cs := domain.ContainerSnapshot{
			ID:             c.ID,
			Name:           c.Name,
			ContainerPort:  c.ContainerPort,
			Status:         c.Status,
			LastActiveUnix: c.LastActive.Unix(),
		}
		if c.IdleSince != nil {
			u := c.IdleSince.Unix()
			cs.IdleSinceUnix = &u
		}
		snap.Containers[i] = cs
	}
	return snap
}

// FromSnapshot reconstructs a ContainerPool from a persisted snapshot, used
// during startup recovery. Containers are restored verbatim; the caller is
// responsible for validating them against the live runtime before trusting
// the pool.
func FromSnapshot(snap domain.PoolSnapshot, clk clock.Clock) *ContainerPool {
	if clk == nil {
		clk = clock.Real{}
	}
	p := &ContainerPool{
		functionKey:   snap.FunctionName,
		minContainers: snap.MinContainers,
		maxContainers: snap.MaxContainers,
		config:        snap.Config,
		clk:           clk,
		containers:    make([]domain.ContainerInfo, 0, len(snap.Containers)),
	}
	for _, cs := range snap.Containers {
		c := domain.ContainerInfo{
			ID:            cs.ID,
			Name:          cs.Name,
			ContainerPort: cs.ContainerPort,
			Status:        cs.Status,
			LastActive:    time.Unix(cs.LastActiveUnix, 0),
		}
		if cs.IdleSinceUnix != nil {
			t := time.Unix(*cs.IdleSinceUnix, 0)
			c.IdleSince = &t
		}
		p.containers = append(p.containers, c)
	}
	return p
}
