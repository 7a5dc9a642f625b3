package store

import (
	"context"
	"time"

	"autohelm/internal/core"
)

// UnitOfWork defines a transaction scope. Repositories obtained from it
// share the transaction; nothing is visible to readers until Commit.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Signals returns the signal repository within this transaction.
	Signals() SignalRepository
	// Positions returns the position repository within this transaction.
	Positions() PositionRepository
	// Pairs returns the pair-config repository within this transaction.
	Pairs() PairRepository
	// Runtime returns the runtime-state repository within this transaction.
	Runtime() RuntimeRepository
}

// Store is the entry point for database access. The direct repository
// accessors auto-commit each call; Begin scopes several writes to one
// transaction.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)

	Signals() SignalRepository
	Positions() PositionRepository
	Pairs() PairRepository
	Runtime() RuntimeRepository

	// Close closes the store connection.
	Close() error
}

// SignalRepository handles trade signal persistence. Signals are
// append-mostly; only the execution link mutates after insert.
type SignalRepository interface {
	Insert(ctx context.Context, sig *core.TradeSignal) error
	MarkExecuted(ctx context.Context, signalID, positionID int64) error
	ListRecent(ctx context.Context, limit int) ([]core.TradeSignal, error)
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]core.TradeSignal, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// PositionRepository handles position persistence.
type PositionRepository interface {
	// Save inserts when ID is zero, updates otherwise, and writes the
	// generated ID back onto the position.
	Save(ctx context.Context, pos *core.Position) error
	FindByID(ctx context.Context, id int64) (*core.Position, error)
	FindOpenBySymbol(ctx context.Context, symbol string) (*core.Position, error)
	ListByStatus(ctx context.Context, status core.PositionStatus, limit int) ([]core.Position, error)
	ListClosedSince(ctx context.Context, since time.Time) ([]core.Position, error)
}

// PairRepository persists the operator-managed trading pair set.
type PairRepository interface {
	ReplaceAll(ctx context.Context, pairs []core.TradingPairConfig) error
	Upsert(ctx context.Context, pair core.TradingPairConfig) error
	List(ctx context.Context) ([]core.TradingPairConfig, error)
	ListActive(ctx context.Context) ([]core.TradingPairConfig, error)
}

// RuntimeRepository persists the single bot runtime state row.
type RuntimeRepository interface {
	// Get returns the singleton row, or a zero-value state when none
	// has been written yet.
	Get(ctx context.Context) (core.BotRuntimeState, error)
	Save(ctx context.Context, st core.BotRuntimeState) error
}
