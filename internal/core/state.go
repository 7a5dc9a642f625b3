package core

import "time"

// RuntimeStateID is the fixed primary key of the BotRuntimeState
// singleton row.
const RuntimeStateID = 1

// BotRuntimeState is the persisted half of the three-way "is it
// running" reconciliation. It is updated on every lifecycle transition
// and read by the supervisor after restarts.
type BotRuntimeState struct {
	ID          int64
	IsRunning   bool
	PID         int // OS process id recorded by the supervisor
	StartedAt   *time.Time
	StoppedAt   *time.Time
	TotalCycles int64
	TotalTrades int64
	RealizedPnL float64
	LastError   string
	UpdatedAt   time.Time
}

// DailyRiskStats tracks day-bounded trading activity. It lives in
// memory and resets once per UTC calendar day.
type DailyRiskStats struct {
	Day         string  `json:"day"` // UTC day in 2006-01-02 form
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// DayKey formats t as the UTC calendar day used for reset detection.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ResetIfNewDay clears the stats when now falls on a later UTC day than
// the one recorded. Returns true when a reset happened.
func (s *DailyRiskStats) ResetIfNewDay(now time.Time) bool {
	day := DayKey(now)
	if s.Day == day {
		return false
	}
	*s = DailyRiskStats{Day: day}
	return true
}

// RecordEntry counts one opened trade. The count gates new entries and
// never decreases within a day.
func (s *DailyRiskStats) RecordEntry() {
	s.Trades++
}

// RecordClose books the realized pnl of one closed trade.
func (s *DailyRiskStats) RecordClose(pnl float64) {
	s.RealizedPnL += pnl
	if pnl >= 0 {
		s.Wins++
	} else {
		s.Losses++
	}
}

// WinRate returns wins/(wins+losses), or 1 when nothing closed yet so a
// fresh day is not penalized.
func (s *DailyRiskStats) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 1
	}
	return float64(s.Wins) / float64(total)
}
