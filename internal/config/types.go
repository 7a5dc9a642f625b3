package config

import "strings"

// Config is the root configuration of the agent.
type Config struct {
	App        AppConfig        `toml:"app"`
	Trading    TradingConfig    `toml:"trading"`
	Risk       RiskConfig       `toml:"risk"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Pacing     PacingConfig     `toml:"pacing"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Store      StoreConfig      `toml:"store"`
	Notify     NotifyConfig     `toml:"notify"`
	Supervisor SupervisorConfig `toml:"supervisor"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	PairsPath string `toml:"pairs_path"`
}

// TradingConfig selects the execution venue and capital base.
type TradingConfig struct {
	Mode           string  `toml:"mode"` // paper or live
	QuoteCurrency  string  `toml:"quote_currency"`
	InitialCapital float64 `toml:"initial_capital"`
	FeeRate        float64 `toml:"fee_rate"` // taker fee per side, fraction of notional
}

// RiskConfig carries the admission limits and sizing knobs.
type RiskConfig struct {
	MaxPositions       int     `toml:"max_positions"`
	MaxDailyTrades     int     `toml:"max_daily_trades"`
	MaxDailyLossPct    float64 `toml:"max_daily_loss_pct"`
	MaxPositionSizePct float64 `toml:"max_position_size_pct"`
	RiskPerTradePct    float64 `toml:"risk_per_trade_pct"`
	MinRiskReward      float64 `toml:"min_risk_reward"`
	MinConfidence      float64 `toml:"min_confidence"`
	// Fallback exit distances used when neither the pair config nor the
	// signal provides explicit levels.
	StopLossPct   float64 `toml:"stop_loss_pct"`
	TakeProfitPct float64 `toml:"take_profit_pct"`
	MaxHoldHours  float64 `toml:"max_hold_hours"` // 0 disables the max-hold exit
}

// StrategyConfig tunes the built-in momentum scorer and names the
// scorer used when a pair does not pick one.
type StrategyConfig struct {
	Default    string  `toml:"default"`
	RSIPeriod  int     `toml:"rsi_period"`
	FastEMA    int     `toml:"fast_ema"`
	SlowEMA    int     `toml:"slow_ema"`
	ATRPeriod  int     `toml:"atr_period"`
	ROCPeriod  int     `toml:"roc_period"`
	Overbought float64 `toml:"overbought"`
	Oversold   float64 `toml:"oversold"`
	// Exit distances as ATR multiples for scorer-proposed levels.
	StopATR float64 `toml:"stop_atr"`
	TakeATR float64 `toml:"take_atr"`
}

// PacingConfig controls the inter-cycle delay policy.
type PacingConfig struct {
	Paced            bool `toml:"paced"`
	IntervalSeconds  int  `toml:"interval_seconds"` // fixed delay when paced is off
	MinDelaySeconds  int  `toml:"min_delay_seconds"`
	MaxDelaySeconds  int  `toml:"max_delay_seconds"`
	LongPauseOdds    int  `toml:"long_pause_odds"` // roughly one long pause per N cycles
	LongPauseSeconds int  `toml:"long_pause_seconds"`
	// Sleep applied when daily limits are exhausted and the loop idles.
	LimitPauseSeconds int `toml:"limit_pause_seconds"`
}

type ExchangeConfig struct {
	Name      string `toml:"name"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
}

type StoreConfig struct {
	Path         string `toml:"path"`
	EventLogPath string `toml:"event_log_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// SupervisorConfig bounds process spawn and termination handling.
type SupervisorConfig struct {
	PIDFile             string `toml:"pid_file"`
	ChildLogPath        string `toml:"child_log_path"`
	SpawnGraceSeconds   int    `toml:"spawn_grace_seconds"`
	GracefulWaitSeconds int    `toml:"graceful_wait_seconds"`
	TermWaitSeconds     int    `toml:"term_wait_seconds"`
	KillWaitSeconds     int    `toml:"kill_wait_seconds"`
}

// PaperMode reports whether execution should stay in the simulated venue.
func (t *TradingConfig) PaperMode() bool {
	return strings.ToLower(strings.TrimSpace(t.Mode)) != "live"
}

// keySet tracks which field paths were explicitly present in the file,
// so defaults never clobber intentional zero values.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
