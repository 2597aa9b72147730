// Package autoscaler implements the multi-pool orchestrator that routes
// invocations to the healthiest container, runs each pool's periodic
// scale evaluation, and recovers persisted pool state on process startup.
//
// Pool lookup uses a sync.Map keyed by function, with a per-pool mutex for
// mutation; New constructs a cancellable context, Start launches
// goroutines, Stop cancels them. Here every pool gets its own ticker-driven
// goroutine rather than one shared evaluate() pass, since each pool's
// poll_interval is independent.
package autoscaler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/autoscalererr"
	"github.com/alob-mtc/invok-autoscaler/internal/clock"
	"github.com/alob-mtc/invok-autoscaler/internal/domain"
	"github.com/alob-mtc/invok-autoscaler/internal/logging"
	"github.com/alob-mtc/invok-autoscaler/internal/metrics"
	"github.com/alob-mtc/invok-autoscaler/internal/observability"
	"github.com/alob-mtc/invok-autoscaler/internal/persistence"
	"github.com/alob-mtc/invok-autoscaler/internal/pool"
	"github.com/alob-mtc/invok-autoscaler/internal/runtime"
	"github.com/google/uuid"
)

// MetricsSource is the subset of metricsclient.Client the autoscaler
// depends on; accepting the interface rather than the concrete type keeps
// this package testable without a live HTTP backend.
type MetricsSource interface {
	CPUPercent(ctx context.Context, containerID string) (float64, error)
	MemoryPercent(ctx context.Context, containerID string) (float64, error)
}

// AuditSink records scale decisions to a durable audit trail. A nil
// AuditSink is valid: every call site below guards on it, so audit
// logging is an optional add-on, not a hard dependency.
type AuditSink interface {
	RecordScaleUp(ctx context.Context, functionKey, containerID string)
	RecordScaleDown(ctx context.Context, functionKey, containerID, reason string)
	RecordRouteFallback(ctx context.Context, functionKey, containerID string)
}

// poolEntry pairs a ContainerPool with the bookkeeping the orchestrator
// needs around it: the function spec used to start fresh containers, and
// a mutex serializing scale-up/down for this pool, distinct from the
// pool's own internal RWMutex that routing reads through, so dueling
// scale-ups serialize without blocking routing.
type poolEntry struct {
	pool *pool.ContainerPool

	specMu sync.RWMutex
	spec   domain.FunctionSpec

	scaleMu sync.Mutex
}

func (e *poolEntry) setSpec(spec domain.FunctionSpec) {
	e.specMu.Lock()
	e.spec = spec
	e.specMu.Unlock()
}

func (e *poolEntry) getSpec() domain.FunctionSpec {
	e.specMu.RLock()
	defer e.specMu.RUnlock()
	return e.spec
}

// Autoscaler orchestrates every function's ContainerPool: lookup,
// invocation routing, scale-up/down, periodic evaluation, and
// crash-recovery reconciliation.
type Autoscaler struct {
	pools sync.Map // function_key -> *poolEntry

	cfg     domain.AutoscalerConfig
	runtime runtime.Adapter
	metrics MetricsSource
	store   *persistence.Store // nil when persistence disabled
	exp     *metrics.Autoscaler
	audit   AuditSink
	clk     clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an Autoscaler. store may be nil (persistence disabled); exp
// may be nil (Prometheus exporter disabled, every recorder no-ops); audit
// may be nil (no audit trail configured).
func New(cfg domain.AutoscalerConfig, rt runtime.Adapter, ms MetricsSource, store *persistence.Store, exp *metrics.Autoscaler, audit AuditSink, clk clock.Clock) *Autoscaler {
	if clk == nil {
		clk = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Autoscaler{
		cfg:     cfg,
		runtime: rt,
		metrics: ms,
		store:   store,
		exp:     exp,
		audit:   audit,
		clk:     clk,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start runs crash recovery (if persistence is configured) and logs
// startup. Pool loops for pools created via GetOrCreatePool or recovered
// here are already running by the time Start returns.
func (a *Autoscaler) Start(ctx context.Context) error {
	if a.store != nil {
		if err := a.Recover(ctx); err != nil {
			logging.Ctx(ctx).Warn("autoscaler: recovery failed, starting with empty state", "error", err)
		}
	}
	logging.Ctx(ctx).Info("autoscaler started", "poll_interval", a.cfg.PollInterval, "scale_check_interval", a.cfg.ScaleCheckInterval)
	return nil
}

// Stop cancels every pool's background loop and returns without waiting
// for the loops to exit. A loop stops at its next wake-up; it writes no
// final snapshot on exit.
func (a *Autoscaler) Stop() {
	a.cancel()
}

// GetOrCreatePool returns the pool for spec.FunctionKey, creating it (and
// starting its periodic loop) on first registration. A second
// registration for an already-known function key refreshes the stored
// spec (e.g. a new image after a redeploy) without disturbing the pool's
// existing containers.
func (a *Autoscaler) GetOrCreatePool(spec domain.FunctionSpec) *pool.ContainerPool {
	if v, ok := a.pools.Load(spec.FunctionKey); ok {
		entry := v.(*poolEntry)
		entry.setSpec(spec)
		return entry.pool
	}

	p := pool.New(spec.FunctionKey, a.cfg.MinContainersPerFunction, a.cfg.MaxContainersPerFunction, a.cfg.MonitoringConfig, a.clk)
	entry := &poolEntry{pool: p}
	entry.setSpec(spec)

	actual, loaded := a.pools.LoadOrStore(spec.FunctionKey, entry)
	e := actual.(*poolEntry)
	if !loaded {
		go a.tickLoop(e)
	}
	return e.pool
}

// Route selects the container an invocation should be forwarded to: the
// healthiest container first, falling back to the least-loaded Overloaded
// container if every container is saturated, and synchronously scaling up
// a fresh container if the pool has none at all.
func (a *Autoscaler) Route(ctx context.Context, functionKey string) (domain.ContainerInfo, error) {
	v, ok := a.pools.Load(functionKey)
	if !ok {
		return domain.ContainerInfo{}, fmt.Errorf("autoscaler: route %s: %w", functionKey, autoscalererr.ErrNotFound)
	}
	entry := v.(*poolEntry)

	ctx, span := observability.StartSpan(ctx, "autoscaler.route", observability.AttrFunctionKey.String(functionKey))
	defer span.End()

	if c, ok := entry.pool.PickHealthiest(); ok {
		entry.pool.MarkActive(c.ID)
		a.persist(ctx, entry)
		span.SetAttributes(observability.AttrContainerID.String(c.ID), observability.AttrDecision.String("route_healthy"))
		observability.SetSpanOK(span)
		return c, nil
	}

	if c, ok := entry.pool.LeastLoadedOverloaded(); ok {
		if a.exp != nil {
			a.exp.RecordRouteFallback()
		}
		if a.audit != nil {
			a.audit.RecordRouteFallback(ctx, functionKey, c.ID)
		}
		span.SetAttributes(observability.AttrContainerID.String(c.ID), observability.AttrDecision.String("route_overloaded_fallback"))
		observability.SetSpanOK(span)
		return c, nil
	}

	c, err := a.ScaleUp(ctx, entry)
	if err != nil {
		observability.SetSpanError(span, err)
		return domain.ContainerInfo{}, err
	}
	span.SetAttributes(observability.AttrContainerID.String(c.ID), observability.AttrDecision.String("route_scale_up"))
	observability.SetSpanOK(span)
	return c, nil
}

// ScaleUp starts a fresh container from the pool's registered function
// spec, registers it Healthy, and persists the snapshot.
// A pool already at max_containers is a no-op: zero value, nil error.
func (a *Autoscaler) ScaleUp(ctx context.Context, entry *poolEntry) (domain.ContainerInfo, error) {
	entry.scaleMu.Lock()
	defer entry.scaleMu.Unlock()

	if entry.pool.Len() >= entry.pool.MaxContainers() {
		return domain.ContainerInfo{}, nil
	}

	spec := entry.getSpec()
	if spec.Image == "" {
		return domain.ContainerInfo{}, fmt.Errorf("autoscaler: scale up %s: %w: no function image registered", entry.pool.FunctionKey(), autoscalererr.ErrStartFailed)
	}

	name := fmt.Sprintf("%s-%s", entry.pool.FunctionKey(), uuid.NewString())
	cspec := runtime.ContainerSpec{
		Image:   spec.Image,
		Name:    name,
		Port:    spec.Port,
		Network: a.cfg.NetworkName,
		Env:     spec.EnvVars,
	}

	id, err := a.runtime.Start(ctx, cspec)
	if err != nil {
		return domain.ContainerInfo{}, fmt.Errorf("autoscaler: scale up %s: %w", entry.pool.FunctionKey(), err)
	}

	info := domain.ContainerInfo{ID: id, Name: name, ContainerPort: spec.Port}
	if err := entry.pool.AddContainer(info); err != nil {
		logging.Ctx(ctx).Warn("autoscaler: add container after start failed", "function", entry.pool.FunctionKey(), "container", id, "error", err)
		return domain.ContainerInfo{}, err
	}

	if a.exp != nil {
		a.exp.RecordScaleDecision(entry.pool.FunctionKey(), "up")
	}
	if a.audit != nil {
		a.audit.RecordScaleUp(ctx, entry.pool.FunctionKey(), id)
	}
	logging.Ctx(ctx).Info("autoscaler: scaled up", "function", entry.pool.FunctionKey(), "container", id)

	a.persist(ctx, entry)
	return info, nil
}

// ScaleDown best-effort stops then removes, in order, every candidate id.
// If the pool empties and min_containers is 0, its persisted key is
// deleted so recovery does not resurrect an empty shell.
func (a *Autoscaler) ScaleDown(ctx context.Context, entry *poolEntry, ids []string) {
	entry.scaleMu.Lock()
	defer entry.scaleMu.Unlock()

	for _, id := range ids {
		if err := a.runtime.Stop(ctx, id); err != nil && !errors.Is(err, autoscalererr.ErrNotFound) {
			logging.Ctx(ctx).Warn("autoscaler: stop container failed, removing from pool anyway", "function", entry.pool.FunctionKey(), "container", id, "error", err)
		}
		entry.pool.RemoveContainer(id)
		if a.exp != nil {
			a.exp.RecordScaleDecision(entry.pool.FunctionKey(), "down")
		}
		if a.audit != nil {
			a.audit.RecordScaleDown(ctx, entry.pool.FunctionKey(), id, "idle_cooldown_elapsed")
		}
		logging.Ctx(ctx).Info("autoscaler: scaled down", "function", entry.pool.FunctionKey(), "container", id)
	}

	if entry.pool.Len() == 0 && entry.pool.MinContainers() == 0 {
		if a.exp != nil {
			a.exp.ObservePoolSize(entry.pool.FunctionKey(), 0)
			a.exp.ObserveStatusMix(entry.pool.FunctionKey(), map[string]int{
				string(domain.StatusHealthy):    0,
				string(domain.StatusOverloaded): 0,
				string(domain.StatusIdle):       0,
			})
		}
		if a.store != nil {
			a.store.DeletePool(ctx, entry.pool.FunctionKey())
		}
		return
	}
	a.persist(ctx, entry)
}

// persist writes the pool's current snapshot and refreshes its exported
// gauges. A nil store (persistence disabled) makes this a metrics-only
// no-op.
func (a *Autoscaler) persist(ctx context.Context, entry *poolEntry) {
	snap := entry.pool.Snapshot()

	if a.exp != nil {
		a.exp.ObservePoolSize(entry.pool.FunctionKey(), len(snap.Containers))
		counts := map[string]int{
			string(domain.StatusHealthy):    0,
			string(domain.StatusOverloaded): 0,
			string(domain.StatusIdle):       0,
		}
		for _, c := range snap.Containers {
			counts[string(c.Status)]++
		}
		a.exp.ObserveStatusMix(entry.pool.FunctionKey(), counts)
	}

	if a.store == nil {
		return
	}
	a.store.SavePool(ctx, entry.pool.FunctionKey(), snap)
}

// tickLoop runs entry's periodic scale evaluation every poll_interval
// until the Autoscaler is stopped: one ticker-driven goroutine per
// background concern.
func (a *Autoscaler) tickLoop(entry *poolEntry) {
	interval := entry.pool.Config().PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.tick(a.ctx, entry)
		}
	}
}

// tick is the periodic loop body: sample CPU/memory for every container,
// update status, evaluate scale-up/down, persist if anything changed.
func (a *Autoscaler) tick(ctx context.Context, entry *poolEntry) {
	ctx, span := observability.StartSpan(ctx, "autoscaler.tick",
		observability.AttrFunctionKey.String(entry.pool.FunctionKey()),
		observability.AttrPoolSize.Int(entry.pool.Len()),
	)
	defer span.End()

	mutated := false
	for _, c := range entry.pool.Containers() {
		start := a.clk.Now()
		cpu, err := a.metrics.CPUPercent(ctx, c.ID)
		if a.exp != nil {
			a.exp.RecordMetricsQuery("cpu", outcomeLabel(err), a.clk.Now().Sub(start).Seconds())
		}
		if err != nil {
			logging.Ctx(ctx).Warn("autoscaler: cpu query failed, skipping container this tick", "function", entry.pool.FunctionKey(), "container", c.ID, "error", err)
			continue
		}

		start = a.clk.Now()
		mem, err := a.metrics.MemoryPercent(ctx, c.ID)
		if a.exp != nil {
			a.exp.RecordMetricsQuery("memory", outcomeLabel(err), a.clk.Now().Sub(start).Seconds())
		}
		if err != nil {
			logging.Ctx(ctx).Warn("autoscaler: memory query failed, skipping container this tick", "function", entry.pool.FunctionKey(), "container", c.ID, "error", err)
			continue
		}

		entry.pool.UpdateMetrics(c.ID, cpu, mem)
		mutated = true
	}

	// ScaleUp and ScaleDown persist internally (and scale-to-zero deletes
	// the pool's key), so only metric-only mutations need a save here:
	// re-saving after ScaleDown's delete would resurrect the empty shell.
	scaled := false
	if entry.pool.NeedsScaleUp() {
		if _, err := a.ScaleUp(ctx, entry); err != nil {
			logging.Ctx(ctx).Warn("autoscaler: periodic scale up failed", "function", entry.pool.FunctionKey(), "error", err)
		} else {
			scaled = true
		}
	}

	if ids := entry.pool.ScaledownCandidates(); len(ids) > 0 {
		a.ScaleDown(ctx, entry, ids)
		scaled = true
	}

	if mutated && !scaled {
		a.persist(ctx, entry)
	}
	observability.SetSpanOK(span)
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Recover runs startup recovery: load every persisted
// snapshot, reconstruct its pool, validate each container against the live
// runtime, drop dead containers and empty scale-to-zero pools, update
// metadata, and start each surviving pool's background loop.
//
// Recovery is best-effort: a snapshot that fails to load is logged and
// skipped, and a container whose inspect fails for any reason other than
// not-found is logged and kept; the process starts regardless.
func (a *Autoscaler) Recover(ctx context.Context) error {
	if a.store == nil {
		return nil
	}

	snaps, err := a.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("autoscaler: recover: %w", err)
	}

	survived := 0
	for _, snap := range snaps {
		p := pool.FromSnapshot(snap, a.clk)

		before := p.Len()
		for _, c := range p.Containers() {
			state, err := a.runtime.Inspect(ctx, c.ID)
			switch {
			case err != nil && errors.Is(err, autoscalererr.ErrNotFound):
				p.RemoveContainer(c.ID)
			case err != nil:
				logging.Ctx(ctx).Warn("autoscaler: recovery inspect failed, keeping container optimistically", "function", p.FunctionKey(), "container", c.ID, "error", err)
			case !state.Running:
				p.RemoveContainer(c.ID)
			}
		}
		pruned := p.Len() != before

		if p.Len() == 0 && p.MinContainers() == 0 {
			a.store.DeletePool(ctx, p.FunctionKey())
			continue
		}

		entry := &poolEntry{pool: p}
		a.pools.Store(p.FunctionKey(), entry)
		if pruned {
			a.persist(ctx, entry)
		}
		go a.tickLoop(entry)
		survived++
	}

	a.store.SaveMetadata(ctx, domain.SystemMetadata{
		Version:     "1",
		LastCleanup: a.clk.Now().Unix(),
		TotalPools:  survived,
	})
	logging.Ctx(ctx).Info("autoscaler: recovery complete", "snapshots", len(snaps), "pools_recovered", survived)
	return nil
}
