package core

import (
	"fmt"
	"time"
)

// ConfigurationError reports missing or invalid startup configuration.
// Fatal: the process refuses to start.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Msg)
}

// ConnectivityError reports an unreachable collaborator. Fatal during
// pre-flight; recoverable mid-loop where the cycle logs and continues.
type ConnectivityError struct {
	Target string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s unreachable: %v", e.Target, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ExecutionError reports an order that was rejected or failed. The
// triggering signal stays unexecuted and positions are untouched.
type ExecutionError struct {
	Symbol string
	Op     string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ReconciliationDrift reports that the three running indicators
// disagreed, with the corrections applied toward the driving source.
type ReconciliationDrift struct {
	Source      string
	Corrections []string
}

func (e *ReconciliationDrift) Error() string {
	return fmt.Sprintf("reconciliation drift: corrected %v from %s", e.Corrections, e.Source)
}

// ShutdownTimeout reports a graceful stop that exceeded its bound at
// the named stage and had to escalate.
type ShutdownTimeout struct {
	Stage   string
	Elapsed time.Duration
}

func (e *ShutdownTimeout) Error() string {
	return fmt.Sprintf("shutdown timeout at %s after %s", e.Stage, e.Elapsed)
}
