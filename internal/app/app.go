// Package app composes the runner process: configuration in, a running
// controller plus admin HTTP server out.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"autohelm/internal/config"
	"autohelm/internal/config/pairs"
	"autohelm/internal/controller"
	"autohelm/internal/gateway/exchange"
	"autohelm/internal/logger"
	"autohelm/internal/store"
	"autohelm/internal/store/eventlog"
	"autohelm/internal/supervisor"
	adminhttp "autohelm/internal/transport/http/admin"
)

// stopGrace bounds the final controller stop once the run context is
// gone; it has to outlast the loop wind-down and the shutdown sweep.
const stopGrace = 60 * time.Second

// App owns the wired components of one runner process.
type App struct {
	cfg        *config.Config
	store      store.Store
	events     *eventlog.EventStore
	gateway    exchange.Gateway
	controller *controller.Controller
	server     *adminhttp.Server
	pairs      *pairs.Loader
	supervisor *supervisor.Supervisor
}

// New builds the app from config with production defaults.
func New(cfg *config.Config) (*App, error) {
	return NewBuilder(cfg).Build(context.Background())
}

// Controller exposes the trading controller for harnesses and tests.
func (a *App) Controller() *controller.Controller {
	if a == nil {
		return nil
	}
	return a.controller
}

// Run starts trading and serves the admin API until ctx is cancelled.
// On the way out the controller gets a bounded stop so open positions
// are swept and the final counters persisted.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.controller == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	// Refuse to trade on a store another live runner still owns; a stale
	// flag left by a crash is cleared instead.
	if _, err := a.supervisor.BootReconcile(ctx, os.Getpid()); err != nil {
		return fmt.Errorf("boot reconcile: %w", err)
	}

	if err := a.controller.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}

	bootVersion := a.pairs.Snapshot().Version
	a.pairs.Subscribe(func(snap pairs.Snapshot) {
		if snap.Version <= bootVersion {
			return
		}
		a.applyPairSnapshot(snap)
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("admin http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		return a.controller.Stop(stopCtx)
	})
	return group.Wait()
}

// applyPairSnapshot pushes a reloaded pairs file into the running
// controller. While trading is stopped the command channel is down, so
// the set goes straight into the store for the next start to pick up.
func (a *App) applyPairSnapshot(snap pairs.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.controller.UpdatePairs(ctx, snap.Pairs)
	if err == nil {
		return
	}
	logger.Debugf("pairs update via controller: %v", err)
	if err := a.store.Pairs().ReplaceAll(ctx, snap.Pairs); err != nil {
		logger.Errorf("pairs file change not applied: %v", err)
		return
	}
	logger.Infof("pairs file change stored while trading idle (%d pairs)", len(snap.Pairs))
}

// Close releases the store handles. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
