// Package strategy turns market snapshots into scored trade
// recommendations. Scorers are pure; they never touch the venue or the
// store, so a misbehaving one can only fail its own pair.
package strategy

import (
	"context"
	"sort"
	"strings"

	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
)

// Recommendation is one scorer verdict for one symbol. Zero level
// fields mean the scorer has no opinion and the pair or risk defaults
// apply downstream.
type Recommendation struct {
	Action     core.Action `json:"action"`
	Confidence float64     `json:"confidence"`
	StopLoss   float64     `json:"stop_loss,omitempty"`
	TakeProfit float64     `json:"take_profit,omitempty"`
	Reason     string      `json:"reason"`
}

// Scorer analyzes the snapshot of one symbol for one cycle.
type Scorer interface {
	ID() string
	Analyze(ctx context.Context, snap exchange.MarketSnapshot) (Recommendation, error)
}

// Registry resolves a pair's strategy id to a scorer. Pairs that name
// no strategy, or an unknown one, get the fallback.
type Registry struct {
	fallback Scorer
	scorers  map[string]Scorer
}

func NewRegistry(fallback Scorer) *Registry {
	r := &Registry{fallback: fallback, scorers: make(map[string]Scorer)}
	r.Register(fallback)
	return r
}

func (r *Registry) Register(s Scorer) {
	if s == nil {
		return
	}
	r.scorers[normalizeID(s.ID())] = s
}

func (r *Registry) For(id string) Scorer {
	if s, ok := r.scorers[normalizeID(id)]; ok {
		return s
	}
	return r.fallback
}

// IDs lists the registered scorer ids, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.scorers))
	for id := range r.scorers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
