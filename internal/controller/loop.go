package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"autohelm/internal/core"
	"autohelm/internal/gateway/exchange"
	"autohelm/internal/gateway/notifier"
	"autohelm/internal/ledger"
	"autohelm/internal/metrics"
	"autohelm/internal/risk"
	"autohelm/internal/store/eventlog"
	"autohelm/internal/strategy"
)

// runLoop is the trading loop. It owns every mutation of the gate and
// the ledger; admin commands funnel in through c.cmds and run here.
func (c *Controller) runLoop(ctx context.Context) {
	done := c.loopDone
	defer func() {
		c.log.Infof("trading loop stopped after %d cycles", c.cycles.Load())
		close(done)
	}()

	for {
		c.drainCommands(ctx)
		if c.interrupted(ctx) {
			return
		}

		if !c.breaker.Allow() {
			metrics.IncLoopBackoff()
			c.log.Warnf("cycle skipped: backoff breaker open (cooldown %s)", c.breaker.Cooldown())
			if !c.idle(ctx, c.nextDelay()) {
				return
			}
			continue
		}

		if c.gate.DailyLimitsExhausted(c.balanceValue()) {
			c.setDaily(c.gate.Stats())
			pause := c.limitPause()
			c.log.Infof("daily limits exhausted, idling for %s", pause)
			if !c.idle(ctx, pause) {
				return
			}
			continue
		}

		report, err := c.protectedCycle(ctx)
		switch {
		case err != nil && c.interrupted(ctx):
			// Wind-down ripped an in-flight call; not a loop fault.
		case err != nil:
			c.breaker.RecordFailure()
			c.log.Errorf("cycle %d failed: %v", report.Cycle, err)
			notifier.Dispatch(c.notify, notifier.LoopTrouble("cycle", err))
			c.appendEvent(eventlog.TypeError, "", map[string]any{
				"stage": "cycle",
				"error": err.Error(),
			})
		default:
			c.breaker.RecordSuccess()
			c.finishCycle(ctx, report)
		}

		if !c.idle(ctx, c.nextDelay()) {
			return
		}
	}
}

// idle sleeps for d in slices no longer than a second so stop requests
// and admin commands are honored quickly. Commands arriving mid-delay
// run immediately; the remaining delay still elapses afterwards.
// Returns false when the loop should exit.
func (c *Controller) idle(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		slice := remaining
		if slice > time.Second {
			slice = time.Second
		}
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-c.quit:
			timer.Stop()
			return false
		case cmd := <-c.cmds:
			timer.Stop()
			c.handleCommand(ctx, cmd)
		case <-timer.C:
		}
	}
}

func (c *Controller) interrupted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *Controller) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-c.cmds:
			c.handleCommand(ctx, cmd)
		default:
			return
		}
	}
}

// handleCommand applies one admin command on the loop goroutine. The
// reply channel gets exactly one result and is then closed, even when
// the handler panics.
func (c *Controller) handleCommand(ctx context.Context, cmd command) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("command panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("command panic: %v", r)
		}
		if cmd.reply != nil {
			cmd.reply <- err
			close(cmd.reply)
		}
	}()

	switch cmd.kind {
	case cmdClosePosition:
		err = c.applyClose(ctx, cmd.symbol)
	case cmdUpdatePairs:
		err = c.applyPairs(ctx, cmd.pairs)
	default:
		err = fmt.Errorf("unknown command kind %d", cmd.kind)
	}
}

func (c *Controller) applyClose(ctx context.Context, symbol string) error {
	pos, err := c.book.ClosePosition(ctx, symbol, core.ReasonManual)
	if err != nil {
		return err
	}
	c.recordExit(ledger.ExitCheck{Symbol: pos.Symbol, Closed: true, Reason: core.ReasonManual, Pos: pos})
	metrics.SetOpenPositions(c.book.Count())
	return nil
}

func (c *Controller) applyPairs(ctx context.Context, pairs []core.TradingPairConfig) error {
	for i := range pairs {
		pairs[i].Symbol = strings.ToUpper(strings.TrimSpace(pairs[i].Symbol))
	}
	if err := c.store.Pairs().ReplaceAll(ctx, pairs); err != nil {
		return fmt.Errorf("persist pairs: %w", err)
	}
	active := make([]core.TradingPairConfig, 0, len(pairs))
	for _, p := range pairs {
		if p.IsActive {
			active = append(active, p)
		}
	}
	c.mu.Lock()
	c.pairs = active
	c.mu.Unlock()
	if len(active) == 0 {
		c.log.Warnf("pair update leaves no active pairs; the loop will only manage exits")
	} else {
		c.log.Infof("pairs updated: %d active of %d", len(active), len(pairs))
	}
	c.appendEvent(eventlog.TypeLifecycle, "", map[string]any{
		"event":  "pairs_updated",
		"active": len(active),
		"total":  len(pairs),
	})
	return nil
}

// send forwards an admin command to the loop and waits for the result.
// Commands are accepted only while RUNNING and run at the next cycle
// boundary or delay tick, whichever comes first.
func (c *Controller) send(ctx context.Context, cmd command) error {
	c.mu.Lock()
	if c.state != StateRunning {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot accept commands while %s", state)
	}
	cmds, quit := c.cmds, c.quit
	c.mu.Unlock()

	cmd.reply = make(chan error, 1)
	select {
	case cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-quit:
		return fmt.Errorf("controller stopped before the command was accepted")
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-quit:
		return fmt.Errorf("controller stopped before the command ran")
	}
}

// ClosePosition closes one open position with reason "manual".
func (c *Controller) ClosePosition(ctx context.Context, symbol string) error {
	return c.send(ctx, command{
		kind:   cmdClosePosition,
		symbol: strings.ToUpper(strings.TrimSpace(symbol)),
	})
}

// UpdatePairs replaces the traded pair set. The set is persisted and
// takes effect from the next cycle; open positions on removed symbols
// keep their exit management.
func (c *Controller) UpdatePairs(ctx context.Context, pairs []core.TradingPairConfig) error {
	return c.send(ctx, command{kind: cmdUpdatePairs, pairs: pairs})
}

func (c *Controller) protectedCycle(ctx context.Context) (report *core.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("cycle panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("cycle panic: %v", r)
		}
		if report == nil {
			report = &core.CycleReport{Cycle: c.cycles.Load()}
		}
	}()
	return c.cycleOnce(ctx)
}

func (c *Controller) cycleOnce(ctx context.Context) (*core.CycleReport, error) {
	cycle := c.cycles.Add(1)
	metrics.IncCycle()
	report := &core.CycleReport{Cycle: cycle}
	start := c.now()

	balance, err := c.refreshBalance(ctx)
	if err != nil {
		return report, err
	}

	for _, pair := range c.activePairs() {
		if c.interrupted(ctx) {
			return report, nil
		}
		res := c.processPair(ctx, pair, balance)
		report.Add(res)
		switch res.Outcome {
		case core.PairFailed:
			c.log.Warnf("pair %s failed: %v", res.Symbol, res.Err)
			metrics.IncPairFailure(res.Symbol)
			notifier.Dispatch(c.notify, notifier.LoopTrouble("pair "+res.Symbol, res.Err))
		case core.PairSkipped:
			c.log.Debugf("pair %s skipped: %s", res.Symbol, res.Reason)
		}
	}

	for _, chk := range c.book.CheckExits(ctx) {
		if chk.Err != nil {
			// Already logged by the ledger; the position stays OPEN and
			// is retried next cycle.
			continue
		}
		c.recordExit(chk)
	}

	c.log.Debugf("cycle %d done in %s: %d executed, %d skipped, %d failed",
		cycle, c.now().Sub(start).Round(time.Millisecond), report.Executed, report.Skipped, report.Failed)
	return report, nil
}

func (c *Controller) refreshBalance(ctx context.Context) (float64, error) {
	balances, err := c.gateway.FetchBalance(ctx)
	if err != nil {
		return 0, &core.ConnectivityError{Target: "balance", Err: err}
	}
	bal := balances[strings.ToUpper(c.cfg.Trading.QuoteCurrency)].Free
	c.mu.Lock()
	c.balance = bal
	c.mu.Unlock()
	metrics.SetBalance(bal)
	return bal, nil
}

// processPair runs one symbol through snapshot, scoring, persistence
// and execution. Every signal is persisted, executable or not.
func (c *Controller) processPair(ctx context.Context, pair core.TradingPairConfig, balance float64) core.PairResult {
	sym := pair.Symbol
	snap, err := c.buildSnapshot(ctx, sym)
	if err != nil {
		return core.PairResult{Symbol: sym, Outcome: core.PairFailed, Err: fmt.Errorf("snapshot: %w", err)}
	}

	scorer := c.scorers.For(pair.StrategyID)
	rec, err := scorer.Analyze(ctx, snap)
	if err != nil {
		return core.PairResult{Symbol: sym, Outcome: core.PairFailed, Err: fmt.Errorf("scorer %s: %w", scorer.ID(), err)}
	}

	sig := c.signalFrom(pair, snap, scorer.ID(), rec)
	if err := c.store.Signals().Insert(ctx, sig); err != nil {
		return core.PairResult{Symbol: sym, Outcome: core.PairFailed, Err: fmt.Errorf("persist signal: %w", err)}
	}
	metrics.IncSignal(string(sig.Action))

	if _, ok := core.SideFor(sig.Action); !ok {
		reason := rec.Reason
		if reason == "" {
			reason = "wait"
		}
		return core.PairResult{Symbol: sym, Outcome: core.PairSkipped, Reason: reason}
	}
	if sig.Confidence < c.cfg.Risk.MinConfidence {
		return core.PairResult{Symbol: sym, Outcome: core.PairSkipped, Reason: risk.ReasonLowConfidence}
	}
	return c.executeSignal(ctx, sig, balance)
}

func (c *Controller) buildSnapshot(ctx context.Context, symbol string) (exchange.MarketSnapshot, error) {
	ticker, err := c.gateway.FetchTicker(ctx, symbol)
	if err != nil {
		return exchange.MarketSnapshot{}, &core.ConnectivityError{Target: "ticker " + symbol, Err: err}
	}
	c.rememberPrice(symbol, ticker.Last)
	snap := exchange.MarketSnapshot{Symbol: symbol, LastPrice: ticker.Last, FetchedAt: c.now()}
	if provider, ok := c.gateway.(exchange.CandleProvider); ok {
		candles, err := provider.FetchCandles(ctx, symbol, snapshotCandles)
		if err != nil {
			c.log.Debugf("candles unavailable for %s, scoring on ticker only: %v", symbol, err)
		} else {
			snap.Candles = candles
		}
	}
	return snap, nil
}

// signalFrom builds the persisted signal row. Levels the scorer left
// open fall back to the pair config, then the global risk defaults.
func (c *Controller) signalFrom(pair core.TradingPairConfig, snap exchange.MarketSnapshot, scorerID string, rec strategy.Recommendation) *core.TradeSignal {
	sig := &core.TradeSignal{
		Symbol:     pair.Symbol,
		Action:     rec.Action,
		Confidence: rec.Confidence,
		Price:      snap.LastPrice,
		StrategyID: scorerID,
		Reason:     rec.Reason,
		CreatedAt:  c.now(),
	}
	if raw, err := json.Marshal(rec); err == nil {
		sig.Raw = raw
	}
	if rec.StopLoss > 0 {
		v := rec.StopLoss
		sig.StopLoss = &v
	}
	if rec.TakeProfit > 0 {
		v := rec.TakeProfit
		sig.TakeProfit = &v
	}
	side, ok := core.SideFor(rec.Action)
	if !ok {
		return sig
	}
	if sig.StopLoss == nil || sig.TakeProfit == nil {
		stopPct := pair.StopLossPct
		if stopPct <= 0 {
			stopPct = c.cfg.Risk.StopLossPct
		}
		takePct := pair.TakeProfitPct
		if takePct <= 0 {
			takePct = c.cfg.Risk.TakeProfitPct
		}
		stop, take := ledger.LevelsFor(side, snap.LastPrice, stopPct, takePct)
		if sig.StopLoss == nil && stop > 0 {
			sig.StopLoss = &stop
		}
		if sig.TakeProfit == nil && take > 0 {
			sig.TakeProfit = &take
		}
	}
	return sig
}

func (c *Controller) executeSignal(ctx context.Context, sig *core.TradeSignal, balance float64) core.PairResult {
	sym := sig.Symbol
	decision := c.gate.Check(*sig, c.book.OpenSet(), balance)
	if !decision.Accepted {
		metrics.IncRejection(decision.Reason)
		c.appendEvent(eventlog.TypeRejection, sym, map[string]any{
			"reason":     decision.Reason,
			"action":     string(sig.Action),
			"confidence": sig.Confidence,
		})
		return core.PairResult{Symbol: sym, Outcome: core.PairSkipped, Reason: decision.Reason}
	}
	if sig.Price <= 0 {
		return core.PairResult{Symbol: sym, Outcome: core.PairFailed, Err: fmt.Errorf("no price on signal")}
	}
	qty := decision.Size / sig.Price
	if qty <= 0 {
		return core.PairResult{Symbol: sym, Outcome: core.PairSkipped, Reason: "stake too small"}
	}
	side, _ := core.SideFor(sig.Action)

	order, err := c.gateway.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:   sym,
		Side:     side,
		Amount:   qty,
		Type:     "market",
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return core.PairResult{Symbol: sym, Outcome: core.PairFailed,
			Err: &core.ExecutionError{Symbol: sym, Op: "open", Err: err}}
	}
	if order == nil {
		c.log.Warnf("venue returned no order for %s, signal stays unexecuted", sym)
		return core.PairResult{Symbol: sym, Outcome: core.PairSkipped, Reason: "venue returned no order"}
	}

	pos := c.positionFrom(sig, order)
	if err := c.book.Insert(pos); err != nil {
		return core.PairResult{Symbol: sym, Outcome: core.PairFailed,
			Err: &core.ExecutionError{Symbol: sym, Op: "ledger insert", Err: err}}
	}
	if err := c.persistEntry(ctx, sig, pos); err != nil {
		// The position is live on the venue and managed in memory; its
		// row catches up when the close path saves it.
		c.log.Errorf("persist entry for %s: %v", sym, err)
	}
	c.gate.RecordEntry()
	c.trades.Add(1)
	metrics.IncTradeOpened()
	notifier.Dispatch(c.notify, notifier.TradeOpened(*pos, sig.Confidence))
	c.appendEvent(eventlog.TypeTradeOpen, sym, map[string]any{
		"side":       string(pos.Side),
		"quantity":   pos.Quantity,
		"entry":      pos.EntryPrice,
		"confidence": sig.Confidence,
	})
	c.log.Infof("opened %s %s: qty %v @ %.6g (confidence %.2f)",
		pos.Side, sym, pos.Quantity, pos.EntryPrice, sig.Confidence)
	return core.PairResult{Symbol: sym, Outcome: core.PairExecuted}
}

func (c *Controller) positionFrom(sig *core.TradeSignal, order *exchange.Order) *core.Position {
	entry := order.Price
	if entry <= 0 {
		entry = sig.Price
	}
	qty := order.Amount
	fee := order.Fee
	if fee == 0 && c.cfg.Trading.FeeRate > 0 {
		fee = entry * qty * c.cfg.Trading.FeeRate
	}
	pos := &core.Position{
		Symbol:     sig.Symbol,
		Side:       order.Side,
		EntryPrice: entry,
		Quantity:   qty,
		Status:     core.StatusOpen,
		OrderID:    order.ID,
		Fees:       fee,
		OpenedAt:   c.now(),
	}
	if sig.StopLoss != nil {
		pos.StopLoss = *sig.StopLoss
	}
	if sig.TakeProfit != nil {
		pos.TakeProfit = *sig.TakeProfit
	}
	return pos
}

// persistEntry writes the position row and flips the signal to executed
// in one transaction.
func (c *Controller) persistEntry(ctx context.Context, sig *core.TradeSignal, pos *core.Position) error {
	uow, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := uow.Positions().Save(ctx, pos); err != nil {
		uow.Rollback()
		return err
	}
	if err := uow.Signals().MarkExecuted(ctx, sig.ID, pos.ID); err != nil {
		uow.Rollback()
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}
	sig.Executed = true
	sig.PositionID = &pos.ID
	return nil
}

// recordExit books controller-side accounting for a finalized close.
// The ledger already logged, notified, and updated the risk stats.
func (c *Controller) recordExit(chk ledger.ExitCheck) {
	if !chk.Closed || chk.Pos == nil {
		return
	}
	pos := chk.Pos
	c.mu.Lock()
	c.realized += pos.Profit
	c.mu.Unlock()
	metrics.IncTradeClosed(string(chk.Reason), string(pos.Side), pos.Profit)
	detail := map[string]any{
		"reason":     string(chk.Reason),
		"profit":     pos.Profit,
		"profit_pct": pos.ProfitPct,
	}
	if pos.ExitPrice != nil {
		detail["exit_price"] = *pos.ExitPrice
	}
	c.appendEvent(eventlog.TypeTradeExit, pos.Symbol, detail)
}

func (c *Controller) finishCycle(ctx context.Context, report *core.CycleReport) {
	metrics.SetOpenPositions(c.book.Count())
	c.setDaily(c.gate.Stats())
	c.persistCounters(ctx)
	if report.Failed > 0 {
		c.log.Warnf("cycle %d: %d of %d pairs failed", report.Cycle, report.Failed, len(report.Results))
	}
	// Quiet cycles stay out of the event log.
	if report.Executed+report.Failed > 0 {
		c.appendEvent(eventlog.TypeCycle, "", map[string]any{
			"cycle":    report.Cycle,
			"executed": report.Executed,
			"skipped":  report.Skipped,
			"failed":   report.Failed,
		})
	}
}

func (c *Controller) persistCounters(ctx context.Context) {
	st, err := c.store.Runtime().Get(ctx)
	if err != nil {
		c.log.Warnf("load runtime state for counter update: %v", err)
		return
	}
	st.ID = core.RuntimeStateID
	st.TotalCycles = c.cycles.Load()
	st.TotalTrades = c.trades.Load()
	st.RealizedPnL = c.realizedValue()
	st.UpdatedAt = c.now()
	if err := c.store.Runtime().Save(ctx, st); err != nil {
		c.log.Warnf("persist cycle counters: %v", err)
	}
}

func (c *Controller) nextDelay() time.Duration {
	return c.delay.NextDelay(c.now(), c.cycles.Load())
}

func (c *Controller) limitPause() time.Duration {
	if s := c.cfg.Pacing.LimitPauseSeconds; s > 0 {
		return time.Duration(s) * time.Second
	}
	return 15 * time.Minute
}
