// Package pacing decides how long the controller loop sleeps between
// cycles. The loop stays agnostic to which policy is installed.
package pacing

import (
	"context"
	"math/rand"
	"time"

	"autohelm/internal/config"
)

// DelayPolicy yields the inter-cycle delay. now and cycle let policies
// modulate by wall clock and loop progress without owning either.
type DelayPolicy interface {
	NextDelay(now time.Time, cycle int64) time.Duration
}

// Fixed sleeps the same interval every cycle.
type Fixed struct {
	Interval time.Duration
}

func (f Fixed) NextDelay(time.Time, int64) time.Duration {
	return f.Interval
}

// Paced randomizes the delay inside [Min,Max], slows down during thin
// overnight hours, stretches periodically with the cycle count, and
// occasionally takes a much longer pause so the cadence never looks like
// a metronome to the venue.
type Paced struct {
	Min           time.Duration
	Max           time.Duration
	LongPauseOdds int // roughly one pause per N cycles; 0 disables
	LongPause     time.Duration

	rng *rand.Rand
}

// NewPaced builds the production policy from config.
func NewPaced(cfg config.PacingConfig) *Paced {
	return newPaced(cfg, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewPacedWithSource fixes the random source, for deterministic tests.
func NewPacedWithSource(cfg config.PacingConfig, src rand.Source) *Paced {
	return newPaced(cfg, rand.New(src))
}

func newPaced(cfg config.PacingConfig, rng *rand.Rand) *Paced {
	min := time.Duration(cfg.MinDelaySeconds) * time.Second
	max := time.Duration(cfg.MaxDelaySeconds) * time.Second
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	return &Paced{
		Min:           min,
		Max:           max,
		LongPauseOdds: cfg.LongPauseOdds,
		LongPause:     time.Duration(cfg.LongPauseSeconds) * time.Second,
		rng:           rng,
	}
}

func (p *Paced) NextDelay(now time.Time, cycle int64) time.Duration {
	if p.LongPauseOdds > 0 && p.LongPause > 0 && p.rng.Intn(p.LongPauseOdds) == 0 {
		// Long pauses get up to 25% jitter on top so even they vary.
		jitter := time.Duration(p.rng.Int63n(int64(p.LongPause)/4 + 1))
		return p.LongPause + jitter
	}

	span := int64(p.Max - p.Min)
	delay := p.Min
	if span > 0 {
		delay += time.Duration(p.rng.Int63n(span + 1))
	}

	// Overnight UTC the books are thin; stretch the cadence. During the
	// US/EU overlap tighten it.
	switch h := now.UTC().Hour(); {
	case h < 6:
		delay = delay * 3 / 2
	case h >= 13 && h < 21:
		delay = delay * 3 / 4
	}

	// Every 50th cycle lingers, like an operator stepping away.
	if cycle > 0 && cycle%50 == 0 {
		delay *= 2
	}

	if delay < p.Min {
		delay = p.Min
	}
	if delay > p.Max {
		delay = p.Max
	}
	return delay
}

// FromConfig picks the policy the config asks for.
func FromConfig(cfg config.PacingConfig) DelayPolicy {
	if cfg.Paced {
		return NewPaced(cfg)
	}
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return Fixed{Interval: interval}
}

// Wait blocks for d or until ctx is cancelled, whichever comes first,
// and reports whether the full delay elapsed. A stop signal is honored
// immediately, well inside the one-second bound the loop promises.
func Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
