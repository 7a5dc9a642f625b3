// Package circuit provides the breaker that bounds retry pressure after
// consecutive failures. The open-state cooldown doubles on every
// re-open and is capped, which gives the trading loop its backoff.
package circuit

import (
	"sync"
	"time"

	"autohelm/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker trips open after threshold consecutive failures. While open,
// Allow reports false until the cooldown elapses; the first call after
// that probes in half-open state. A failed probe re-opens the breaker
// with a doubled cooldown, capped at max.
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	threshold   int
	base        time.Duration
	max         time.Duration
	cooldown    time.Duration
	lastFailure time.Time

	now func() time.Time
}

func New(name string, threshold int, base, max time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		base:      base,
		max:       max,
		cooldown:  base,
		now:       time.Now,
	}
}

// Allow reports whether the caller may attempt work now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the backoff.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.cooldown = b.base
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure counts one failure, opening the breaker once the
// threshold is reached. Re-opening from half-open doubles the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.cooldown *= 2
		if b.cooldown > b.max {
			b.cooldown = b.max
		}
		b.transition(StateOpen)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Cooldown returns the wait currently imposed while open.
func (b *Breaker) Cooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		logger.Infof("breaker %s: %s -> %s", b.name, from, to)
		return
	}
	logger.Warnf("breaker %s: %s -> %s (failures=%d, cooldown=%s)",
		b.name, from, to, b.failures, b.cooldown)
}
