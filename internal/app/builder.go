package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autohelm/internal/config"
	"autohelm/internal/config/pairs"
	"autohelm/internal/controller"
	"autohelm/internal/core"
	"autohelm/internal/gateway/binance"
	"autohelm/internal/gateway/exchange"
	"autohelm/internal/gateway/notifier"
	"autohelm/internal/gateway/paper"
	"autohelm/internal/ledger"
	"autohelm/internal/logger"
	"autohelm/internal/pacing"
	"autohelm/internal/risk"
	"autohelm/internal/store"
	"autohelm/internal/store/eventlog"
	"autohelm/internal/store/sqlite"
	"autohelm/internal/strategy"
	"autohelm/internal/supervisor"
	adminhttp "autohelm/internal/transport/http/admin"
)

// Builder assembles the runner from configuration. Each stage sits
// behind a function field so tests and harnesses can swap pieces out.
type Builder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig) (store.Store, error)
	eventsFn   func(config.StoreConfig) (*eventlog.EventStore, error)
	gatewayFn  func(*config.Config) (exchange.Gateway, error)
	notifierFn func(config.NotifyConfig) notifier.TextNotifier
	pairsFn    func(string) (*pairs.Loader, error)
	serverFn   func(config.AppConfig, *adminhttp.Router) (*adminhttp.Server, error)
}

type BuilderOption func(*Builder)

func NewBuilder(cfg *config.Config, opts ...BuilderOption) *Builder {
	b := &Builder{
		cfg:        cfg,
		storeFn:    defaultStore,
		eventsFn:   defaultEvents,
		gatewayFn:  defaultGateway,
		notifierFn: defaultNotifier,
		pairsFn:    defaultPairsLoader,
		serverFn:   defaultServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build wires the store, gateway, risk gate, ledger, scorers, controller
// and admin server together. Nothing starts running yet.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, &core.ConfigurationError{Field: "config", Msg: "required"}
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	events, err := b.eventsFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	gw, err := b.gatewayFn(cfg)
	if err != nil {
		return nil, err
	}
	mode := "live"
	if cfg.Trading.PaperMode() {
		mode = "paper"
	}
	logger.Infof("✓ %s gateway ready (%s mode)", gw.Name(), mode)

	loader, err := b.pairsFn(cfg.App.PairsPath)
	if err != nil {
		return nil, fmt.Errorf("load pairs file: %w", err)
	}
	snap := loader.Snapshot()
	if err := st.Pairs().ReplaceAll(ctx, snap.Pairs); err != nil {
		return nil, fmt.Errorf("seed pairs into store: %w", err)
	}
	logger.Infof("✓ %d pairs loaded (%d active)", len(snap.Pairs), len(pairs.ActiveSymbols(snap.Pairs)))

	notify := b.notifierFn(cfg.Notify)
	gate := risk.New(cfg.Risk)
	maxHold := time.Duration(cfg.Risk.MaxHoldHours * float64(time.Hour))
	book := ledger.New(st, gw, gate, notify, cfg.Trading.FeeRate, maxHold)
	scorers := strategy.NewRegistry(strategy.NewMomentum(cfg.Strategy))

	ctl, err := controller.New(controller.Params{
		Config:   cfg,
		Store:    st,
		Gateway:  gw,
		Gate:     gate,
		Ledger:   book,
		Scorers:  scorers,
		Delay:    pacing.FromConfig(cfg.Pacing),
		Notifier: notify,
		Events:   events,
	})
	if err != nil {
		return nil, err
	}

	router, err := adminhttp.NewRouter(adminhttp.RouterParams{
		Control: ctl,
		Store:   st,
		Events:  events,
	})
	if err != nil {
		return nil, err
	}
	srv, err := b.serverFn(cfg.App, router)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(cfg.Supervisor, st.Runtime(), supervisor.Options{})

	return &App{
		cfg:        cfg,
		store:      st,
		events:     events,
		gateway:    gw,
		controller: ctl,
		server:     srv,
		pairs:      loader,
		supervisor: sup,
	}, nil
}

func defaultStore(cfg config.StoreConfig) (store.Store, error) {
	return sqlite.NewSqliteStore(cfg.Path)
}

// defaultEvents opens the audit log, or skips it when no path is set.
func defaultEvents(cfg config.StoreConfig) (*eventlog.EventStore, error) {
	if strings.TrimSpace(cfg.EventLogPath) == "" {
		return nil, nil
	}
	return eventlog.NewEventStore(cfg.EventLogPath)
}

func defaultGateway(cfg *config.Config) (exchange.Gateway, error) {
	if cfg.Trading.PaperMode() {
		return paper.New(cfg.Trading.QuoteCurrency, cfg.Trading.InitialCapital, cfg.Trading.FeeRate), nil
	}
	if strings.TrimSpace(cfg.Exchange.APIKey) == "" || strings.TrimSpace(cfg.Exchange.APISecret) == "" {
		return nil, &core.ConfigurationError{Field: "exchange", Msg: "live mode requires api_key and api_secret"}
	}
	return binance.New(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Trading.QuoteCurrency, cfg.Exchange.Testnet), nil
}

func defaultNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled || strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return nil
	}
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

func defaultPairsLoader(path string) (*pairs.Loader, error) {
	return pairs.NewLoader(path)
}

func defaultServer(cfg config.AppConfig, router *adminhttp.Router) (*adminhttp.Server, error) {
	return adminhttp.NewServer(adminhttp.Config{Addr: cfg.HTTPAddr, Router: router})
}

func WithStore(fn func(config.StoreConfig) (store.Store, error)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithEvents(fn func(config.StoreConfig) (*eventlog.EventStore, error)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.eventsFn = fn
		}
	}
}

func WithGateway(fn func(*config.Config) (exchange.Gateway, error)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.gatewayFn = fn
		}
	}
}

func WithNotifier(fn func(config.NotifyConfig) notifier.TextNotifier) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.notifierFn = fn
		}
	}
}

func WithPairsLoader(fn func(string) (*pairs.Loader, error)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.pairsFn = fn
		}
	}
}

func WithServer(fn func(config.AppConfig, *adminhttp.Router) (*adminhttp.Server, error)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.serverFn = fn
		}
	}
}
