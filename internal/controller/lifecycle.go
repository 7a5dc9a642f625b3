package controller

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"autohelm/internal/core"
	"autohelm/internal/gateway/notifier"
	"autohelm/internal/metrics"
	"autohelm/internal/store/eventlog"
	"autohelm/internal/supervisor"
)

type bootState struct {
	pairs    []core.TradingPairConfig
	restored int
	balance  float64
}

// Start runs pre-flight checks, restores state from the store, marks
// the runtime running, and launches the trading loop. Any failure
// before the loop exists leaves the runtime record stopped and the
// controller in ERROR.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped && c.state != StateError {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start while %s", state)
	}
	c.setStateLocked(StateStarting)
	c.lastErr = nil
	c.mu.Unlock()

	pairs, err := c.preflight(ctx)
	if err != nil {
		return c.failStart("preflight", err)
	}
	boot, err := c.hydrate(ctx, pairs)
	if err != nil {
		return c.failStart("hydrate", err)
	}
	st, err := c.markRunning(ctx)
	if err != nil {
		return c.failStart("mark running", err)
	}

	c.cycles.Store(st.TotalCycles)
	c.trades.Store(st.TotalTrades)
	c.setDaily(c.gate.Stats())

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.pairs = boot.pairs
	c.balance = boot.balance
	c.realized = st.RealizedPnL
	c.prices = make(map[string]float64)
	c.cmds = make(chan command, cmdBuffer)
	c.quit = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.loopStop = cancel
	c.startedAt = c.now()
	c.setStateLocked(StateRunning)
	c.mu.Unlock()

	go c.runLoop(loopCtx)

	symbols := make([]string, 0, len(boot.pairs))
	for _, p := range boot.pairs {
		symbols = append(symbols, p.Symbol)
	}
	c.log.Infof("started in %s mode: %d pairs, %d positions restored, balance %.2f %s",
		c.mode(), len(symbols), boot.restored, boot.balance, c.cfg.Trading.QuoteCurrency)
	c.appendEvent(eventlog.TypeLifecycle, "", map[string]any{
		"event":    "started",
		"mode":     c.mode(),
		"pairs":    symbols,
		"restored": boot.restored,
	})
	notifier.Dispatch(c.notify, notifier.BotStarted(c.mode(), symbols, boot.balance))
	return nil
}

// preflight verifies the gateway and store are reachable and at least
// one trading pair is active. Returns the active pairs so startup does
// not query them twice.
func (c *Controller) preflight(ctx context.Context) ([]core.TradingPairConfig, error) {
	if err := c.gateway.TestConnection(ctx); err != nil {
		return nil, &core.ConnectivityError{Target: "gateway " + c.gateway.Name(), Err: err}
	}
	if _, err := c.store.Runtime().Get(ctx); err != nil {
		return nil, &core.ConnectivityError{Target: "store", Err: err}
	}
	pairs, err := c.store.Pairs().ListActive(ctx)
	if err != nil {
		return nil, &core.ConnectivityError{Target: "store", Err: err}
	}
	if len(pairs) == 0 {
		return nil, &core.ConfigurationError{Field: "pairs", Msg: "no active trading pairs configured"}
	}
	return pairs, nil
}

func (c *Controller) hydrate(ctx context.Context, pairs []core.TradingPairConfig) (bootState, error) {
	boot := bootState{pairs: pairs}
	restored, err := c.book.Hydrate(ctx)
	if err != nil {
		return boot, fmt.Errorf("restore open positions: %w", err)
	}
	boot.restored = restored
	if err := c.seedDailyStats(ctx); err != nil {
		return boot, err
	}
	// Balance is refreshed every cycle anyway; a miss here only blunts
	// the first daily-loss check.
	balances, err := c.gateway.FetchBalance(ctx)
	if err != nil {
		c.log.Warnf("initial balance fetch failed: %v", err)
		return boot, nil
	}
	boot.balance = balances[strings.ToUpper(c.cfg.Trading.QuoteCurrency)].Free
	return boot, nil
}

// seedDailyStats rebuilds today's trade counters from the store so a
// restart cannot reset the daily limits.
func (c *Controller) seedDailyStats(ctx context.Context) error {
	dayStart := c.now().UTC().Truncate(24 * time.Hour)
	closed, err := c.store.Positions().ListClosedSince(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("load today's closed positions: %w", err)
	}
	entries := 0
	for _, pos := range closed {
		if !pos.OpenedAt.Before(dayStart) {
			entries++
		}
	}
	for _, pos := range c.book.Snapshot() {
		if !pos.OpenedAt.Before(dayStart) {
			entries++
		}
	}
	c.gate.SeedFromHistory(entries, closed)
	return nil
}

func (c *Controller) markRunning(ctx context.Context) (core.BotRuntimeState, error) {
	st, err := c.store.Runtime().Get(ctx)
	if err != nil {
		return st, &core.ConnectivityError{Target: "store", Err: err}
	}
	now := c.now()
	st.ID = core.RuntimeStateID
	st.IsRunning = true
	st.PID = os.Getpid()
	st.StartedAt = &now
	st.StoppedAt = nil
	st.LastError = ""
	st.UpdatedAt = now
	if err := c.store.Runtime().Save(ctx, st); err != nil {
		return st, &core.ConnectivityError{Target: "store", Err: err}
	}
	return st, nil
}

func (c *Controller) failStart(stage string, err error) error {
	c.log.Errorf("start aborted at %s: %v", stage, err)
	c.mu.Lock()
	c.lastErr = err
	c.setStateLocked(StateError)
	c.mu.Unlock()
	c.appendEvent(eventlog.TypeError, "", map[string]any{
		"stage": "start " + stage,
		"error": err.Error(),
	})
	return err
}

// Stop winds the loop down: signal, wait up to StopWait, then cancel
// outright. Open positions are force-closed and the final counters
// persisted regardless of how the loop ended.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStopped:
		c.mu.Unlock()
		c.log.Debugf("stop requested but controller is already stopped")
		return nil
	case StateRunning, StateError:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot stop while %s", state)
	}
	wasRunning := c.state == StateRunning
	c.setStateLocked(StateStopping)
	quit, done, cancel := c.quit, c.loopDone, c.loopStop
	c.mu.Unlock()

	if wasRunning && done != nil {
		close(quit)
		select {
		case <-done:
		case <-time.After(c.stopWait()):
			c.log.Warnf("loop did not wind down within %s, cancelling outright", c.stopWait())
			cancel()
			<-done
		case <-ctx.Done():
			cancel()
			<-done
		}
	}
	if cancel != nil {
		cancel()
	}

	// The caller's context may already be dead; the sweep and the final
	// persist get their own deadline so shutdown still completes.
	sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer sweepCancel()

	closed := 0
	for _, chk := range c.book.CloseAll(sweepCtx, core.ReasonShutdown) {
		if chk.Err != nil {
			c.log.Errorf("shutdown close %s failed, position stays OPEN: %v", chk.Symbol, chk.Err)
			continue
		}
		c.recordExit(chk)
		closed++
	}
	c.setDaily(c.gate.Stats())
	metrics.SetOpenPositions(c.book.Count())

	persistErr := c.markStopped(sweepCtx)
	if persistErr != nil {
		c.log.Errorf("persist final runtime state: %v", persistErr)
	}

	c.mu.Lock()
	c.setStateLocked(StateStopped)
	cycles := c.cycles.Load()
	c.mu.Unlock()

	c.appendEvent(eventlog.TypeLifecycle, "", map[string]any{
		"event":          "stopped",
		"cycles":         cycles,
		"closed_on_exit": closed,
	})
	notifier.Dispatch(c.notify, notifier.BotStopped(cycles, closed))
	c.log.Infof("stopped: %d positions closed on exit", closed)
	return persistErr
}

func (c *Controller) stopWait() time.Duration {
	if c.StopWait > 0 {
		return c.StopWait
	}
	return defaultStopWait
}

func (c *Controller) markStopped(ctx context.Context) error {
	st, err := c.store.Runtime().Get(ctx)
	if err != nil {
		return err
	}
	now := c.now()
	st.ID = core.RuntimeStateID
	st.IsRunning = false
	st.PID = 0
	st.StoppedAt = &now
	st.TotalCycles = c.cycles.Load()
	st.TotalTrades = c.trades.Load()
	st.RealizedPnL = c.realizedValue()
	st.UpdatedAt = now
	return c.store.Runtime().Save(ctx, st)
}

// Sync reconciles the in-memory lifecycle with the persisted runtime
// flag. In-process the loop goroutine is directly observable, so it
// stands in for the process probe. The only correction applied here is
// rewriting a stale stopped flag in the store while the loop runs; the
// opposite drift is reported and left to the supervisor CLI, which can
// tell a stale row from one owned by another process.
func (c *Controller) Sync(ctx context.Context) (supervisor.Report, error) {
	c.mu.Lock()
	memRunning := c.state == StateRunning || c.state == StateStarting || c.state == StateStopping
	startedAt := c.startedAt
	c.mu.Unlock()

	st, err := c.store.Runtime().Get(ctx)
	if err != nil {
		return supervisor.Report{}, &core.ConnectivityError{Target: "store", Err: err}
	}

	rep := supervisor.Reconcile(memRunning, memRunning, st.IsRunning)
	if !rep.Consistent {
		drift := &core.ReconciliationDrift{
			Source:      string(rep.Source),
			Corrections: rep.Strings(),
		}
		c.log.Warnf("state drift: %v", drift)
		metrics.AddReconcileCorrections(len(rep.Corrections))
	}

	if memRunning && !st.IsRunning {
		now := c.now()
		st.ID = core.RuntimeStateID
		st.IsRunning = true
		st.PID = os.Getpid()
		if st.StartedAt == nil && !startedAt.IsZero() {
			st.StartedAt = &startedAt
		}
		st.StoppedAt = nil
		st.UpdatedAt = now
		if err := c.store.Runtime().Save(ctx, st); err != nil {
			return rep, fmt.Errorf("apply reconcile correction: %w", err)
		}
		c.log.Infof("store runtime flag corrected to running")
	}

	c.mu.Lock()
	c.syncedAt = c.now()
	c.consistent = rep.Consistent
	c.mu.Unlock()

	c.appendEvent(eventlog.TypeReconcile, "", map[string]any{
		"consistent":  rep.Consistent,
		"corrections": rep.Strings(),
	})
	return rep, nil
}
