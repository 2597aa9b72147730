package circuitbreaker

import (
	"testing"
	"time"

	"github.com/alob-mtc/invok-autoscaler/internal/clock"
)

// The tuning mirrors internal/runtime/docker's breaker constants, so
// these tests exercise the breaker the way the runtime adapter does.
const (
	testThreshold = 5
	testOpenFor   = 15 * time.Second
)

func newTestBreaker() (*Breaker, *clock.Fake) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	return New(testThreshold, testOpenFor, clk), clk
}

func trip(b *Breaker) {
	for i := 0; i < testThreshold; i++ {
		b.RecordFailure()
	}
}

func TestClosedAllowsDaemonCalls(t *testing.T) {
	b, _ := newTestBreaker()

	if !b.Allow() {
		t.Fatal("closed breaker should allow daemon calls")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestTripsAfterConsecutiveDaemonFailures(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < testThreshold-1; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed before the threshold is reached, got %v", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after %d consecutive failures, got %v", testThreshold, b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject daemon calls")
	}
}

func TestSuccessResetsTheFailureRun(t *testing.T) {
	b, _ := newTestBreaker()

	// Intermittent failures never trip the breaker as long as the daemon
	// keeps answering in between.
	for round := 0; round < 3; round++ {
		for i := 0; i < testThreshold-1; i++ {
			b.RecordFailure()
		}
		b.RecordSuccess()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after each run was reset, got %v", b.State())
	}
}

func TestProbeAllowedAfterOpenDuration(t *testing.T) {
	b, clk := newTestBreaker()
	trip(b)

	if b.Allow() {
		t.Fatal("expected calls rejected while the breaker is freshly open")
	}

	clk.Advance(testOpenFor)
	if !b.Allow() {
		t.Fatal("expected a probe once the open duration has elapsed")
	}
	if b.Allow() {
		t.Fatal("expected only a single probe while its result is pending")
	}
}

func TestProbeSuccessCloses(t *testing.T) {
	b, clk := newTestBreaker()
	trip(b)
	clk.Advance(testOpenFor)

	b.Allow()
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Fatalf("expected closed after a successful probe, got %v", b.State())
	}
	if !b.Allow() {
		t.Fatal("expected normal traffic to resume after the probe succeeded")
	}
}

func TestProbeFailureReopens(t *testing.T) {
	b, clk := newTestBreaker()
	trip(b)
	clk.Advance(testOpenFor)

	b.Allow()
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("expected open after a failed probe, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("expected calls rejected again after the failed probe")
	}

	clk.Advance(testOpenFor)
	if !b.Allow() {
		t.Fatal("expected another probe after the next open duration")
	}
}

func TestStaleProbeIsReissued(t *testing.T) {
	b, clk := newTestBreaker()
	trip(b)
	clk.Advance(testOpenFor)

	// This probe's caller never records a result.
	if !b.Allow() {
		t.Fatal("expected the first probe through")
	}

	clk.Advance(testOpenFor)
	if !b.Allow() {
		t.Fatal("expected a fresh probe once the unrecorded one went stale")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
