// Package circuitbreaker protects the docker daemon connection behind
// the container runtime adapter. The adapter classifies every CLI call
// before recording it here: only daemon-unreachable failures count
// against the breaker, while application-level failures (bad image, name
// clash) count as successes because the daemon did answer.
//
// A single shared daemon either answers or it does not, so the breaker
// trips on a run of consecutive connection failures rather than an error
// rate over a sliding window: there is no per-function traffic mix to
// average over, and one healthy answer is enough evidence the daemon is
// back.
//
// # State machine
//
//	Closed ──(threshold consecutive failures)──► Open
//	Open ──(openFor elapsed)──► HalfOpen, one probe allowed
//	HalfOpen ──(probe succeeds)──► Closed
//	HalfOpen ──(probe fails)──► Open
//
// A probe whose result is never recorded (the probing goroutine died
// mid-call) goes stale after another openFor and a new probe is issued,
// so the breaker cannot wedge in HalfOpen.
//
// All methods are safe for concurrent use.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/clock"
)

// State is the breaker's position in the state machine above.
type State int

const (
	StateClosed   State = iota // daemon believed healthy, calls pass
	StateOpen                  // daemon believed down, calls rejected
	StateHalfOpen              // one probe call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards one daemon connection. The zero value is not usable;
// construct with New.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	openFor   time.Duration
	clk       clock.Clock

	state       State
	consecutive int       // connection failures since the last success
	openedAt    time.Time // when the breaker last tripped
	probing     bool      // a HalfOpen probe is in flight
	probeAt     time.Time // when that probe was dispatched
}

// New creates a Breaker that trips after threshold consecutive failures
// and re-probes every openFor thereafter. clk is injected so tests can
// drive the open/probe timing deterministically; pass clock.Real{} in
// production.
func New(threshold int, openFor time.Duration, clk clock.Clock) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Breaker{threshold: threshold, openFor: openFor, clk: clk}
}

// Allow reports whether a daemon call should be attempted. In Open it
// starts allowing a single probe once openFor has elapsed; every caller
// that gets true must follow up with RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.openFor {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		b.probeAt = now
		return true
	case StateHalfOpen:
		if b.probing && now.Sub(b.probeAt) < b.openFor {
			return false
		}
		// No probe in flight, or the last one went stale unrecorded.
		b.probing = true
		b.probeAt = now
		return true
	}
	return true
}

// RecordSuccess notes the daemon answered. It resets the failure run and
// closes the breaker if the call was a HalfOpen probe.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
	}
}

// RecordFailure notes a daemon-unreachable call. A failure run of
// threshold length trips the breaker; a failed probe reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutive++
		if b.consecutive >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.clk.Now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.clk.Now()
		b.probing = false
	}
}

// State returns the breaker's current state without advancing it; the
// Open to HalfOpen transition happens in Allow, not here.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
