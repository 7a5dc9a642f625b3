package config

import (
	"os"
	"strings"
)

const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppHTTPAddr   = ":8686"
	defaultAppLogPath    = "data/logs/autohelm.log"
	defaultAppPairsPath  = "configs/pairs.yaml"
	defaultTradingMode   = "paper"
	defaultQuoteCurrency = "USDT"
	defaultInitialUSD    = 10000
	defaultFeeRate       = 0.001
	defaultMaxPositions  = 3
	defaultMaxDaily      = 10
	defaultDailyLossPct  = 0.05
	defaultMaxPosPct     = 0.2
	defaultRiskPct       = 0.02
	defaultMinRR         = 2.0
	defaultMinConfidence = 0.6
	defaultStopLossPct   = 0.02
	defaultTakeProfitPct = 0.05
	defaultStrategyID    = "momentum"
	defaultRSIPeriod     = 14
	defaultFastEMA       = 9
	defaultSlowEMA       = 21
	defaultATRPeriod     = 14
	defaultROCPeriod     = 9
	defaultOverbought    = 70.0
	defaultOversold      = 30.0
	defaultStopATR       = 1.5
	defaultTakeATR       = 3.0
	defaultInterval      = 60
	defaultMinDelay      = 45
	defaultMaxDelay      = 300
	defaultLongOdds      = 20
	defaultLongPause     = 900
	defaultLimitPause    = 300
	defaultExchangeName  = "binance"
	defaultStorePath     = "data/autohelm.db"
	defaultEventLogPath  = "data/events.db"
	defaultPIDFile       = "data/autohelm.pid"
	defaultChildLogPath  = "data/logs/runner.log"
	defaultSpawnGrace    = 3
	defaultGracefulWait  = 10
	defaultTermWait      = 10
	defaultKillWait      = 5
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Pacing.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Supervisor.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.pairs_path", &a.PairsPath, defaultAppPairsPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.mode", &t.Mode, defaultTradingMode),
		stringFieldDefault("trading.quote_currency", &t.QuoteCurrency, defaultQuoteCurrency),
		fieldDefault{
			key:   "trading.initial_capital",
			need:  func() bool { return t.InitialCapital <= 0 },
			apply: func() { t.InitialCapital = defaultInitialUSD },
		},
		fieldDefault{
			key:   "trading.fee_rate",
			need:  func() bool { return t.FeeRate <= 0 },
			apply: func() { t.FeeRate = defaultFeeRate },
		},
	)
	if t.FeeRate < 0 {
		t.FeeRate = 0
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.max_positions",
			need:  func() bool { return r.MaxPositions <= 0 },
			apply: func() { r.MaxPositions = defaultMaxPositions },
		},
		fieldDefault{
			key:   "risk.max_daily_trades",
			need:  func() bool { return r.MaxDailyTrades <= 0 },
			apply: func() { r.MaxDailyTrades = defaultMaxDaily },
		},
		fieldDefault{
			key:   "risk.max_daily_loss_pct",
			need:  func() bool { return r.MaxDailyLossPct <= 0 },
			apply: func() { r.MaxDailyLossPct = defaultDailyLossPct },
		},
		fieldDefault{
			key:   "risk.max_position_size_pct",
			need:  func() bool { return r.MaxPositionSizePct <= 0 || r.MaxPositionSizePct > 1 },
			apply: func() { r.MaxPositionSizePct = defaultMaxPosPct },
		},
		fieldDefault{
			key:   "risk.risk_per_trade_pct",
			need:  func() bool { return r.RiskPerTradePct <= 0 || r.RiskPerTradePct > 1 },
			apply: func() { r.RiskPerTradePct = defaultRiskPct },
		},
		fieldDefault{
			key:   "risk.min_risk_reward",
			need:  func() bool { return r.MinRiskReward <= 0 },
			apply: func() { r.MinRiskReward = defaultMinRR },
		},
		fieldDefault{
			key:   "risk.min_confidence",
			need:  func() bool { return r.MinConfidence <= 0 || r.MinConfidence > 1 },
			apply: func() { r.MinConfidence = defaultMinConfidence },
		},
		fieldDefault{
			key:   "risk.stop_loss_pct",
			need:  func() bool { return r.StopLossPct <= 0 },
			apply: func() { r.StopLossPct = defaultStopLossPct },
		},
		fieldDefault{
			key:   "risk.take_profit_pct",
			need:  func() bool { return r.TakeProfitPct <= 0 },
			apply: func() { r.TakeProfitPct = defaultTakeProfitPct },
		},
	)
	if r.MaxHoldHours < 0 {
		r.MaxHoldHours = 0
	}
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.default", &s.Default, defaultStrategyID),
		fieldDefault{
			key:   "strategy.rsi_period",
			need:  func() bool { return s.RSIPeriod <= 0 },
			apply: func() { s.RSIPeriod = defaultRSIPeriod },
		},
		fieldDefault{
			key:   "strategy.fast_ema",
			need:  func() bool { return s.FastEMA <= 0 },
			apply: func() { s.FastEMA = defaultFastEMA },
		},
		fieldDefault{
			key:   "strategy.slow_ema",
			need:  func() bool { return s.SlowEMA <= 0 },
			apply: func() { s.SlowEMA = defaultSlowEMA },
		},
		fieldDefault{
			key:   "strategy.atr_period",
			need:  func() bool { return s.ATRPeriod <= 0 },
			apply: func() { s.ATRPeriod = defaultATRPeriod },
		},
		fieldDefault{
			key:   "strategy.roc_period",
			need:  func() bool { return s.ROCPeriod <= 0 },
			apply: func() { s.ROCPeriod = defaultROCPeriod },
		},
		fieldDefault{
			key:   "strategy.overbought",
			need:  func() bool { return s.Overbought <= 0 || s.Overbought > 100 },
			apply: func() { s.Overbought = defaultOverbought },
		},
		fieldDefault{
			key:   "strategy.oversold",
			need:  func() bool { return s.Oversold <= 0 || s.Oversold >= 100 },
			apply: func() { s.Oversold = defaultOversold },
		},
		fieldDefault{
			key:   "strategy.stop_atr",
			need:  func() bool { return s.StopATR <= 0 },
			apply: func() { s.StopATR = defaultStopATR },
		},
		fieldDefault{
			key:   "strategy.take_atr",
			need:  func() bool { return s.TakeATR <= 0 },
			apply: func() { s.TakeATR = defaultTakeATR },
		},
	)
}

func (p *PacingConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "pacing.interval_seconds",
			need:  func() bool { return p.IntervalSeconds <= 0 },
			apply: func() { p.IntervalSeconds = defaultInterval },
		},
		fieldDefault{
			key:   "pacing.min_delay_seconds",
			need:  func() bool { return p.MinDelaySeconds <= 0 },
			apply: func() { p.MinDelaySeconds = defaultMinDelay },
		},
		fieldDefault{
			key:   "pacing.max_delay_seconds",
			need:  func() bool { return p.MaxDelaySeconds <= 0 },
			apply: func() { p.MaxDelaySeconds = defaultMaxDelay },
		},
		fieldDefault{
			key:   "pacing.long_pause_odds",
			need:  func() bool { return p.LongPauseOdds <= 0 },
			apply: func() { p.LongPauseOdds = defaultLongOdds },
		},
		fieldDefault{
			key:   "pacing.long_pause_seconds",
			need:  func() bool { return p.LongPauseSeconds <= 0 },
			apply: func() { p.LongPauseSeconds = defaultLongPause },
		},
		fieldDefault{
			key:   "pacing.limit_pause_seconds",
			need:  func() bool { return p.LimitPauseSeconds <= 0 },
			apply: func() { p.LimitPauseSeconds = defaultLimitPause },
		},
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		// Credentials fall back to the environment so they can live in
		// a .env file instead of the config tree.
		stringFieldDefault("exchange.api_key", &e.APIKey, os.Getenv("BINANCE_API_KEY")),
		stringFieldDefault("exchange.api_secret", &e.APISecret, os.Getenv("BINANCE_API_SECRET")),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.event_log_path", &s.EventLogPath, defaultEventLogPath),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.telegram.bot_token", &n.Telegram.BotToken, os.Getenv("TELEGRAM_BOT_TOKEN")),
		stringFieldDefault("notify.telegram.chat_id", &n.Telegram.ChatID, os.Getenv("TELEGRAM_CHAT_ID")),
	)
}

func (s *SupervisorConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("supervisor.pid_file", &s.PIDFile, defaultPIDFile),
		stringFieldDefault("supervisor.child_log_path", &s.ChildLogPath, defaultChildLogPath),
		fieldDefault{
			key:   "supervisor.spawn_grace_seconds",
			need:  func() bool { return s.SpawnGraceSeconds <= 0 },
			apply: func() { s.SpawnGraceSeconds = defaultSpawnGrace },
		},
		fieldDefault{
			key:   "supervisor.graceful_wait_seconds",
			need:  func() bool { return s.GracefulWaitSeconds <= 0 },
			apply: func() { s.GracefulWaitSeconds = defaultGracefulWait },
		},
		fieldDefault{
			key:   "supervisor.term_wait_seconds",
			need:  func() bool { return s.TermWaitSeconds <= 0 },
			apply: func() { s.TermWaitSeconds = defaultTermWait },
		},
		fieldDefault{
			key:   "supervisor.kill_wait_seconds",
			need:  func() bool { return s.KillWaitSeconds <= 0 },
			apply: func() { s.KillWaitSeconds = defaultKillWait },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
