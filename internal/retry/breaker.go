package retry

import (
	"sync"
	"time"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

var breakerStateChanges = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "circuit_breaker_state_changes_total",
		Help: "Circuit breaker state transitions per provider",
	},
	[]string{"provider", "to_state"},
)

type attemptRecord struct {
	at time.Time
	ok bool
}

// Breaker is a per-provider circuit breaker. State is process-local;
// each node independently protects its own outbound calls.
type Breaker struct {
	name string
	cfg  config.CircuitConfig

	mu            sync.Mutex
	state         string
	consecFails   int
	window        []attemptRecord
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
}

func NewBreaker(name string, cfg config.CircuitConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.WindowMinCalls <= 0 {
		cfg.WindowMinCalls = 10
	}
	if cfg.WindowFailRate <= 0 {
		cfg.WindowFailRate = 0.5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 300 * time.Second
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. In half_open state exactly
// one probe is allowed at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.setState(StateHalfOpen)
			b.probeInFlight = true
			return nil
		}
		return xerrors.ErrCircuitOpen
	case StateHalfOpen:
		if b.probeInFlight {
			return xerrors.ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// Record registers the outcome of a call previously admitted by Allow.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.window = append(b.window, attemptRecord{at: now, ok: success})
	b.pruneWindow(now)

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		if success {
			b.consecFails = 0
			b.window = nil
			b.setState(StateClosed)
		} else {
			b.openedAt = now
			b.setState(StateOpen)
		}
	case StateClosed:
		if success {
			b.consecFails = 0
			return
		}
		b.consecFails++
		if b.consecFails >= b.cfg.FailureThreshold || b.windowTripped() {
			b.openedAt = now
			b.setState(StateOpen)
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OpenSince returns when the breaker opened, or zero time when not open.
func (b *Breaker) OpenSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return time.Time{}
	}
	return b.openedAt
}

func (b *Breaker) setState(state string) {
	if b.state == state {
		return
	}
	b.state = state
	breakerStateChanges.WithLabelValues(b.name, state).Inc()
}

func (b *Breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	idx := 0
	for ; idx < len(b.window); idx++ {
		if b.window[idx].at.After(cutoff) {
			break
		}
	}
	b.window = b.window[idx:]
}

func (b *Breaker) windowTripped() bool {
	if len(b.window) < b.cfg.WindowMinCalls {
		return false
	}
	fails := 0
	for _, r := range b.window {
		if !r.ok {
			fails++
		}
	}
	return float64(fails)/float64(len(b.window)) >= b.cfg.WindowFailRate
}
