package cache

import (
	"sync"
	"time"
)

// Breaker states.
const (
	stateClosed = iota
	stateOpen
	stateHalfOpen
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // open -> half-open delay
	MonitoringWindow time.Duration // failure count resets outside this window
}

// DefaultBreakerConfig returns the contract defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: 60 * time.Second,
	}
}

// Breaker is a circuit breaker over the cache transport. Closed permits
// calls; open fails fast; half-open admits a single probe whose outcome
// decides the next state. Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       int
	failures    int
	windowStart time.Time
	openedAt    time.Time
	probing     bool

	now func() time.Time // test hook
}

// NewBreaker creates a breaker; zero config fields fall back to defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = def.MonitoringWindow
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. In half-open state only one
// probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = stateHalfOpen
			b.probing = true
			return true
		}
		return false
	default: // half-open
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		b.state = stateClosed
		b.failures = 0
		b.probing = false
	case stateClosed:
		// Reset the failure count once the monitoring window has passed.
		if b.now().Sub(b.windowStart) >= b.cfg.MonitoringWindow {
			b.failures = 0
		}
	}
}

// Failure records a failed call and opens the circuit at the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateHalfOpen:
		// Probe failed: back to open, restart the recovery clock.
		b.state = stateOpen
		b.openedAt = b.now()
		b.probing = false
	case stateClosed:
		if b.failures == 0 || b.now().Sub(b.windowStart) >= b.cfg.MonitoringWindow {
			b.windowStart = b.now()
			b.failures = 0
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = stateOpen
			b.openedAt = b.now()
		}
	}
}

// Open reports whether the circuit currently fails fast.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout
}

// State returns a label for status endpoints.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
