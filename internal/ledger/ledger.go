// Package ledger is the authoritative in-memory view of open positions,
// mirrored to the persistence store. The map is mutated only from the
// controller loop; concurrent readers get copies.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
	"autohelm/internal/gateway/notifier"
	"autohelm/internal/logger"
	"autohelm/internal/store"
)

// StatsRecorder receives realized pnl as positions close.
type StatsRecorder interface {
	RecordClose(pnl float64)
}

// ExitCheck is the typed outcome of evaluating one open position.
// Pos carries the finalized position when Closed is true.
type ExitCheck struct {
	Symbol string
	Closed bool
	Reason core.CloseReason
	Pos    *core.Position
	Err    error
}

// Ledger tracks open positions and drives their exit lifecycle.
type Ledger struct {
	mu   sync.RWMutex
	open map[string]*core.Position

	store    store.Store
	gateway  exchange.Gateway
	recorder StatsRecorder
	notify   notifier.TextNotifier

	feeRate float64
	maxHold time.Duration

	log *logger.NamedLogger

	// Now is the clock used for ages and close stamps; replaceable in tests.
	Now func() time.Time
}

func New(st store.Store, gw exchange.Gateway, recorder StatsRecorder, notify notifier.TextNotifier, feeRate float64, maxHold time.Duration) *Ledger {
	return &Ledger{
		open:     make(map[string]*core.Position),
		store:    st,
		gateway:  gw,
		recorder: recorder,
		notify:   notify,
		feeRate:  feeRate,
		maxHold:  maxHold,
		log:      logger.Named("ledger"),
		Now:      time.Now,
	}
}

// Hydrate loads every OPEN position from the store into memory and
// returns how many were restored. Called once on controller start.
func (l *Ledger) Hydrate(ctx context.Context) (int, error) {
	positions, err := l.store.Positions().ListByStatus(ctx, core.StatusOpen, 0)
	if err != nil {
		return 0, fmt.Errorf("hydrate open positions: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = make(map[string]*core.Position, len(positions))
	for i := range positions {
		pos := positions[i]
		key := normalize(pos.Symbol)
		if _, dup := l.open[key]; dup {
			// Two OPEN rows for one symbol should be impossible; keep the
			// newest and flag the rest so an operator can clean up.
			l.log.Warnf("duplicate OPEN position for %s (id=%d), ignoring", key, pos.ID)
			continue
		}
		l.open[key] = &pos
	}
	return len(l.open), nil
}

// Insert registers a freshly opened position. The symbol must not
// already hold an OPEN entry.
func (l *Ledger) Insert(pos *core.Position) error {
	if pos == nil {
		return fmt.Errorf("position cannot be nil")
	}
	key := normalize(pos.Symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.open[key]; held {
		return fmt.Errorf("position already open for %s", key)
	}
	l.open[key] = pos
	return nil
}

// Get returns the open position for a symbol, if any.
func (l *Ledger) Get(symbol string) (*core.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.open[normalize(symbol)]
	return pos, ok
}

// Count reports the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open)
}

// OpenSet returns the open map reference for gate checks. Callers on the
// controller loop may read it directly; everyone else uses Snapshot.
func (l *Ledger) OpenSet() map[string]*core.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.open
}

// Snapshot returns value copies of every open position, sorted by symbol.
func (l *Ledger) Snapshot() []core.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.Position, 0, len(l.open))
	for _, pos := range l.open {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// symbols returns the open symbols in stable order.
func (l *Ledger) symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.open))
	for sym := range l.open {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// CheckExits fetches the current price of every open position and closes
// those that breached stop-loss, reached take-profit, or exceeded the
// max-hold duration. One symbol's failure never blocks the others.
func (l *Ledger) CheckExits(ctx context.Context) []ExitCheck {
	now := l.now()
	results := make([]ExitCheck, 0, l.Count())
	for _, sym := range l.symbols() {
		pos, ok := l.Get(sym)
		if !ok {
			continue
		}
		ticker, err := l.gateway.FetchTicker(ctx, sym)
		if err != nil {
			l.log.Warnf("exit check %s: ticker failed: %v", sym, err)
			results = append(results, ExitCheck{Symbol: sym, Err: &core.ConnectivityError{Target: "ticker " + sym, Err: err}})
			continue
		}
		reason := l.exitReason(pos, ticker.Last, now)
		if reason == "" {
			results = append(results, ExitCheck{Symbol: sym})
			continue
		}
		closed, err := l.close(ctx, pos, ticker.Last, reason)
		if err != nil {
			l.log.Warnf("close %s (%s) failed, will retry next cycle: %v", sym, reason, err)
			results = append(results, ExitCheck{Symbol: sym, Reason: reason, Err: err})
			continue
		}
		results = append(results, ExitCheck{Symbol: sym, Closed: true, Reason: reason, Pos: closed})
	}
	return results
}

func (l *Ledger) exitReason(pos *core.Position, price float64, now time.Time) core.CloseReason {
	switch {
	case stopLossHit(pos.Side, price, pos.StopLoss):
		return core.ReasonStopLoss
	case takeProfitHit(pos.Side, price, pos.TakeProfit):
		return core.ReasonTakeProfit
	case l.maxHold > 0 && pos.Age(now) >= l.maxHold:
		return core.ReasonMaxHold
	}
	return ""
}

// ClosePosition closes one symbol at the current market price. Used by
// the manual close command and the shutdown sweep.
func (l *Ledger) ClosePosition(ctx context.Context, symbol string, reason core.CloseReason) (*core.Position, error) {
	pos, ok := l.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("no open position for %s", normalize(symbol))
	}
	ticker, err := l.gateway.FetchTicker(ctx, pos.Symbol)
	if err != nil {
		return nil, &core.ConnectivityError{Target: "ticker " + pos.Symbol, Err: err}
	}
	return l.close(ctx, pos, ticker.Last, reason)
}

// CloseAll sweeps every open position with the given reason, typically
// "shutdown". Failures are reported per symbol and do not stop the sweep.
func (l *Ledger) CloseAll(ctx context.Context, reason core.CloseReason) []ExitCheck {
	results := make([]ExitCheck, 0, l.Count())
	for _, sym := range l.symbols() {
		closed, err := l.ClosePosition(ctx, sym, reason)
		if err != nil {
			results = append(results, ExitCheck{Symbol: sym, Reason: reason, Err: err})
			continue
		}
		results = append(results, ExitCheck{Symbol: sym, Closed: true, Reason: reason, Pos: closed})
	}
	return results
}

// close submits the opposing market order and finalizes the position.
// An order failure leaves the position OPEN for the next cycle; once the
// venue confirms the exit the ledger entry is gone for good, even if a
// later step fails.
func (l *Ledger) close(ctx context.Context, pos *core.Position, price float64, reason core.CloseReason) (*core.Position, error) {
	order, err := l.gateway.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:   pos.Symbol,
		Side:     opposing(pos.Side),
		Amount:   pos.Quantity,
		Type:     "market",
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return nil, &core.ExecutionError{Symbol: pos.Symbol, Op: "close", Err: err}
	}
	if order == nil {
		return nil, &core.ExecutionError{Symbol: pos.Symbol, Op: "close", Err: fmt.Errorf("gateway returned no order")}
	}

	exitPrice := order.Price
	if exitPrice <= 0 {
		exitPrice = price
	}
	closeFee := order.Fee
	if closeFee == 0 && l.feeRate > 0 {
		closeFee = exitPrice * pos.Quantity * l.feeRate
	}

	now := l.now()
	pos.Fees += closeFee
	pos.ExitPrice = &exitPrice
	pos.ClosedAt = &now
	pos.Status = core.StatusClosed
	pos.CloseReason = reason
	pos.Profit, pos.ProfitPct = ProfitFor(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity, pos.Fees)

	l.mu.Lock()
	delete(l.open, normalize(pos.Symbol))
	l.mu.Unlock()

	if err := l.store.Positions().Save(ctx, pos); err != nil {
		// The venue already confirmed the exit, so the ledger entry must
		// not come back; surface the store failure loudly instead.
		l.log.Errorf("persist closed position %s: %v", pos.Symbol, err)
		notifier.Dispatch(l.notify, notifier.LoopTrouble("persist close", err))
	}
	if l.recorder != nil {
		l.recorder.RecordClose(pos.Profit)
	}
	l.log.Infof("closed %s %s @ %.6g (%s) pnl=%.2f", pos.Side, pos.Symbol, exitPrice, reason, pos.Profit)
	notifier.Dispatch(l.notify, notifier.TradeClosed(*pos))
	return pos, nil
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func opposing(side core.Side) core.Side {
	if side == core.SideBuy {
		return core.SideSell
	}
	return core.SideBuy
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
