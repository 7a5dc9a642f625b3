package notifier

import (
	"fmt"
	"strings"
	"time"

	"autohelm/internal/core"
)

// Event builders keep every push in the same Message shape so the feed
// stays scannable on a phone.

func BotStarted(mode string, pairs []string, balance float64) Message {
	return Message{
		Icon:  "🟢",
		Title: "bot started",
		Lines: []string{
			fmt.Sprintf("mode: %s", mode),
			fmt.Sprintf("pairs: %s", strings.Join(pairs, ", ")),
			fmt.Sprintf("balance: %.2f", balance),
		},
		At: time.Now(),
	}
}

func BotStopped(cycles int64, closedOnExit int) Message {
	return Message{
		Icon:  "🔴",
		Title: "bot stopped",
		Lines: []string{
			fmt.Sprintf("cycles: %d", cycles),
			fmt.Sprintf("positions closed on exit: %d", closedOnExit),
		},
		At: time.Now(),
	}
}

func TradeOpened(pos core.Position, confidence float64) Message {
	lines := []string{
		fmt.Sprintf("%s %s", pos.Side, pos.Symbol),
		fmt.Sprintf("qty: %v @ %.6g", pos.Quantity, pos.EntryPrice),
		fmt.Sprintf("confidence: %.2f", confidence),
	}
	if pos.StopLoss > 0 {
		lines = append(lines, fmt.Sprintf("stop loss: %.6g", pos.StopLoss))
	}
	if pos.TakeProfit > 0 {
		lines = append(lines, fmt.Sprintf("take profit: %.6g", pos.TakeProfit))
	}
	return Message{Icon: "📈", Title: "position opened", Lines: lines, At: time.Now()}
}

func TradeClosed(pos core.Position) Message {
	icon := "✅"
	if pos.Profit < 0 {
		icon = "❌"
	}
	exit := 0.0
	if pos.ExitPrice != nil {
		exit = *pos.ExitPrice
	}
	return Message{
		Icon:  icon,
		Title: "position closed",
		Lines: []string{
			fmt.Sprintf("%s %s (%s)", pos.Side, pos.Symbol, pos.CloseReason),
			fmt.Sprintf("entry %.6g -> exit %.6g", pos.EntryPrice, exit),
			fmt.Sprintf("pnl: %+.2f (%+.2f%%)", pos.Profit, pos.ProfitPct*100),
		},
		At: time.Now(),
	}
}

func LoopTrouble(stage string, err error) Message {
	return Message{
		Icon:  "⚠️",
		Title: "loop error",
		Lines: []string{
			fmt.Sprintf("stage: %s", stage),
			fmt.Sprintf("error: %v", err),
		},
		At: time.Now(),
	}
}
