package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Pacing.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(c.Trading.PaperMode()); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Supervisor.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(t.Mode)) {
	case "paper", "live":
	default:
		return fmt.Errorf("trading.mode must be paper or live (got %q)", t.Mode)
	}
	if t.InitialCapital <= 0 {
		return fmt.Errorf("trading.initial_capital must be > 0")
	}
	if t.FeeRate < 0 || t.FeeRate >= 0.1 {
		return fmt.Errorf("trading.fee_rate must be in [0, 0.1)")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if r.MaxDailyTrades <= 0 {
		return fmt.Errorf("risk.max_daily_trades must be > 0")
	}
	if r.MaxDailyLossPct <= 0 || r.MaxDailyLossPct > 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0, 1]")
	}
	if r.MaxPositionSizePct <= 0 || r.MaxPositionSizePct > 1 {
		return fmt.Errorf("risk.max_position_size_pct must be in (0, 1]")
	}
	if r.RiskPerTradePct <= 0 || r.RiskPerTradePct > r.MaxPositionSizePct {
		return fmt.Errorf("risk.risk_per_trade_pct must be in (0, max_position_size_pct]")
	}
	if r.MinRiskReward < 1 {
		return fmt.Errorf("risk.min_risk_reward must be >= 1")
	}
	if r.MinConfidence <= 0 || r.MinConfidence > 1 {
		return fmt.Errorf("risk.min_confidence must be in (0, 1]")
	}
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0, 1)")
	}
	if r.TakeProfitPct <= 0 || r.TakeProfitPct >= 1 {
		return fmt.Errorf("risk.take_profit_pct must be in (0, 1)")
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if s.FastEMA >= s.SlowEMA {
		return fmt.Errorf("strategy.fast_ema must be < slow_ema")
	}
	if s.Oversold >= s.Overbought {
		return fmt.Errorf("strategy.oversold must be < overbought")
	}
	return nil
}

func (p *PacingConfig) validate() error {
	if p.MinDelaySeconds > p.MaxDelaySeconds {
		return fmt.Errorf("pacing.min_delay_seconds must be <= max_delay_seconds")
	}
	if p.Paced && p.MaxDelaySeconds <= 0 {
		return fmt.Errorf("pacing.max_delay_seconds must be > 0 in paced mode")
	}
	return nil
}

func (e *ExchangeConfig) validate(paper bool) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("exchange.name cannot be empty")
	}
	if paper {
		return nil
	}
	// Live mode needs credentials up front; missing keys would otherwise
	// surface as an opaque auth failure mid-loop.
	if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
		return fmt.Errorf("exchange.api_key and api_secret are required in live mode")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token required when telegram is enabled")
	}
	if strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id required when telegram is enabled")
	}
	return nil
}

func (s *SupervisorConfig) validate() error {
	if strings.TrimSpace(s.PIDFile) == "" {
		return fmt.Errorf("supervisor.pid_file cannot be empty")
	}
	return nil
}
