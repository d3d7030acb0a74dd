// Package breaker implements a per-target circuit breaker. One Breaker exists
// per inference target for the lifetime of the process; all of them live in a
// Registry that is constructed once and passed by reference.
package breaker

import (
	"sync"
	"time"
)

type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

type Config struct {
	// FailureThreshold is the number of consecutive failures since the last
	// success that opens the breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before a state read
	// reports half-open again.
	RecoveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	return c
}

// Breaker tracks the failure history of a single target. The open→half-open
// transition is evaluated lazily on state reads, not by a background timer.
type Breaker struct {
	mu          sync.Mutex
	cfg         Config
	now         func() time.Time
	state       State
	failures    int
	lastFailure time.Time
}

func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: Closed,
	}
}

// State returns the current state, promoting open to half-open once the
// recovery timeout has elapsed since the last failure.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
		b.state = HalfOpen
	}
	return b.state
}

// CanExecute reports whether a call to the target should be attempted.
// True in closed and half-open, false while open.
func (b *Breaker) CanExecute() bool {
	return b.State() != Open
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = Closed
}

// RecordFailure counts a failure. From half-open a single failure reopens the
// breaker and resets the recovery clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	switch b.stateLocked() {
	case HalfOpen:
		b.state = Open
		b.failures = b.cfg.FailureThreshold
	default:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
		}
	}
}

// Registry holds one Breaker per target name for the process lifetime.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	now      func() time.Time
	byTarget map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		byTarget: make(map[string]*Breaker),
	}
}

// For returns the breaker for target, creating it on first use.
func (r *Registry) For(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byTarget[target]
	if !ok {
		b = New(r.cfg)
		b.now = r.now
		r.byTarget[target] = b
	}
	return b
}
