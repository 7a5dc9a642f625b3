// Package supervisor starts, stops, and reconciles the OS process that
// hosts the trading controller. It runs on the CLI side of the process
// boundary; the controller itself never imports it.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"autohelm/internal/config"
	"autohelm/internal/core"
	"autohelm/internal/logger"
	"autohelm/internal/pacing"
	"autohelm/internal/store"
)

// Stage of a termination sequence, in escalation order.
type Stage string

const (
	StageRequested     Stage = "REQUESTED"
	StageTermSent      Stage = "TERM_SENT"
	StageKillSent      Stage = "KILL_SENT"
	StageConfirmedDead Stage = "CONFIRMED_DEAD"
)

// Supervisor owns the runner process from outside: spawn with a grace
// check, staged termination, and the three-way running reconciliation.
type Supervisor struct {
	cfg       config.SupervisorConfig
	runtime   store.RuntimeRepository
	spawn     Spawner
	handleFor func(pid int) ProcessHandle
	graceful  func(ctx context.Context) error
	poll      time.Duration
	log       *logger.NamedLogger
	Now       func() time.Time
}

// Options inject the process-facing collaborators. Zero values get
// production defaults; tests swap in fakes.
type Options struct {
	Spawn     Spawner
	HandleFor func(pid int) ProcessHandle
	// Graceful asks the live controller to stop itself, typically via
	// the admin stop endpoint. Nil escalates straight to signals.
	Graceful func(ctx context.Context) error
}

func New(cfg config.SupervisorConfig, runtime store.RuntimeRepository, opts Options) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		runtime:   runtime,
		spawn:     opts.Spawn,
		handleFor: opts.HandleFor,
		graceful:  opts.Graceful,
		poll:      150 * time.Millisecond,
		log:       logger.Named("supervisor"),
		Now:       time.Now,
	}
	if s.handleFor == nil {
		s.handleFor = HandleForPID
	}
	return s
}

// StartResult reports what Start found or did.
type StartResult struct {
	AlreadyRunning bool
	PID            int
}

// Start spawns the runner unless one is already alive. A second call is
// a no-op that reports the existing pid; counters and persisted state
// are untouched in that case.
func (s *Supervisor) Start(ctx context.Context) (StartResult, error) {
	if pid := s.recordedPID(ctx); pid > 0 && s.handleFor(pid).Alive() {
		s.log.Infof("runner already active, pid %d", pid)
		return StartResult{AlreadyRunning: true, PID: pid}, nil
	}
	if s.spawn == nil {
		return StartResult{}, &core.ConfigurationError{Field: "supervisor", Msg: "no spawner configured"}
	}

	h, err := s.spawn(ctx)
	if err != nil {
		return StartResult{}, err
	}
	pid := h.PID()
	if err := s.awaitSurvival(ctx, h); err != nil {
		return StartResult{}, err
	}
	if err := s.writePIDFile(pid); err != nil {
		s.log.Warnf("pid file write failed: %v", err)
	}
	if err := s.persistRunning(ctx, pid); err != nil {
		s.log.Warnf("persisting runtime state failed: %v", err)
	}
	s.log.Infof("runner started, pid %d", pid)
	return StartResult{PID: pid}, nil
}

// awaitSurvival watches the child through the spawn grace window and
// fails with its captured output when it exits immediately.
func (s *Supervisor) awaitSurvival(ctx context.Context, h ProcessHandle) error {
	deadline := time.Now().Add(time.Duration(s.cfg.SpawnGraceSeconds) * time.Second)
	for {
		if !h.Alive() {
			out := tailOf(s.cfg.ChildLogPath, 2048)
			if out == "" {
				out = "no output captured"
			}
			return fmt.Errorf("runner pid %d exited during startup: %s", h.PID(), out)
		}
		if time.Now().After(deadline) {
			return nil
		}
		if !pacing.Wait(ctx, s.poll) {
			return ctx.Err()
		}
	}
}

// StopResult reports how far the termination sequence had to go.
type StopResult struct {
	NotRunning bool
	PID        int
	Stage      Stage
	Graceful   bool // the runner stopped without signals
}

// Stop walks the escalation ladder: graceful request, SIGTERM, SIGKILL,
// each with its own bounded wait. The persisted flag flips to stopped
// only once the process is confirmed gone; an exhausted escalation
// returns ShutdownTimeout and leaves the records claiming running.
func (s *Supervisor) Stop(ctx context.Context) (StopResult, error) {
	pid := s.recordedPID(ctx)
	if pid <= 0 || !s.handleFor(pid).Alive() {
		s.finalizeStop(ctx)
		return StopResult{NotRunning: true, Stage: StageConfirmedDead}, nil
	}
	h := s.handleFor(pid)
	started := s.Now()
	s.log.Infof("stop %s, pid %d", StageRequested, pid)

	if s.graceful != nil {
		bound := time.Duration(s.cfg.GracefulWaitSeconds) * time.Second
		gctx, cancel := context.WithTimeout(ctx, bound)
		err := s.graceful(gctx)
		cancel()
		if err != nil {
			s.log.Warnf("graceful stop request failed: %v", err)
		} else if s.waitGone(ctx, h, bound) {
			s.finalizeStop(ctx)
			s.log.Infof("stop %s, pid %d stopped gracefully", StageConfirmedDead, pid)
			return StopResult{PID: pid, Stage: StageConfirmedDead, Graceful: true}, nil
		}
	}

	s.log.Infof("stop %s, pid %d", StageTermSent, pid)
	if err := h.Terminate(); err != nil {
		s.log.Warnf("terminate signal failed: %v", err)
	}
	if s.waitGone(ctx, h, time.Duration(s.cfg.TermWaitSeconds)*time.Second) {
		s.finalizeStop(ctx)
		return StopResult{PID: pid, Stage: StageConfirmedDead}, nil
	}

	s.log.Infof("stop %s, pid %d", StageKillSent, pid)
	if err := h.Kill(); err != nil {
		s.log.Warnf("kill signal failed: %v", err)
	}
	if s.waitGone(ctx, h, time.Duration(s.cfg.KillWaitSeconds)*time.Second) {
		s.finalizeStop(ctx)
		return StopResult{PID: pid, Stage: StageConfirmedDead}, nil
	}

	return StopResult{PID: pid, Stage: StageKillSent},
		&core.ShutdownTimeout{Stage: string(StageKillSent), Elapsed: s.Now().Sub(started)}
}

func (s *Supervisor) waitGone(ctx context.Context, h ProcessHandle, bound time.Duration) bool {
	deadline := time.Now().Add(bound)
	for {
		if !h.Alive() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if !pacing.Wait(ctx, s.poll) {
			return !h.Alive()
		}
	}
}

func (s *Supervisor) finalizeStop(ctx context.Context) {
	s.clearPIDFile()
	if err := s.persistStopped(ctx); err != nil {
		s.log.Warnf("persisting stopped state failed: %v", err)
	}
}

// Status is the supervisor's external view of the runner.
type Status struct {
	Alive            bool
	PID              int
	PersistedRunning bool
	PersistedPID     int
}

func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	st, err := s.runtime.Get(ctx)
	if err != nil {
		return Status{}, err
	}
	pid := s.readPIDFile()
	if pid <= 0 {
		pid = st.PID
	}
	alive := pid > 0 && s.handleFor(pid).Alive()
	return Status{Alive: alive, PID: pid, PersistedRunning: st.IsRunning, PersistedPID: st.PID}, nil
}

// Sync runs the three-way reconciliation against the live records.
// memRunning is the controller flag as observed by the caller (false
// when no process answers). Store corrections are applied here;
// memory-side ones are returned for the caller to apply.
func (s *Supervisor) Sync(ctx context.Context, memRunning bool) (Report, error) {
	st, err := s.runtime.Get(ctx)
	if err != nil {
		return Report{}, err
	}
	pid := s.recordedPID(ctx)
	alive := pid > 0 && s.handleFor(pid).Alive()

	rep := Reconcile(alive, memRunning, st.IsRunning)
	if !rep.Consistent {
		drift := &core.ReconciliationDrift{Source: string(rep.Source), Corrections: rep.Strings()}
		s.log.Warnf("%v", drift)
	}
	if err := s.applyStoreCorrections(ctx, st, rep, pid); err != nil {
		return rep, err
	}
	if !alive && pid > 0 {
		// pid record with no process behind it
		s.clearPIDFile()
	}
	return rep, nil
}

// BootReconcile self-heals the persisted state after an unclean
// shutdown. When another live runner already owns the record the caller
// must not proceed.
func (s *Supervisor) BootReconcile(ctx context.Context, selfPID int) (Report, error) {
	st, err := s.runtime.Get(ctx)
	if err != nil {
		return Report{}, err
	}
	pid := st.PID
	if pid <= 0 {
		pid = s.readPIDFile()
	}
	if pid > 0 && pid != selfPID && s.handleFor(pid).Alive() {
		return Report{Running: true, Source: SourceOSProcess, Consistent: true},
			fmt.Errorf("another runner is active with pid %d", pid)
	}

	// No other process exists and this one has not started trading yet.
	rep := Reconcile(false, false, st.IsRunning)
	if !rep.Consistent {
		s.log.Warnf("boot: clearing stale running flag left by pid %d", st.PID)
	}
	if err := s.applyStoreCorrections(ctx, st, rep, 0); err != nil {
		return rep, err
	}
	return rep, nil
}

func (s *Supervisor) applyStoreCorrections(ctx context.Context, st core.BotRuntimeState, rep Report, pid int) error {
	for _, c := range rep.Corrections {
		if c.Target != TargetStore {
			continue
		}
		now := s.Now()
		st.IsRunning = c.Running
		st.UpdatedAt = now
		if c.Running {
			st.PID = pid
		} else {
			st.PID = 0
			st.StoppedAt = &now
		}
		if err := s.runtime.Save(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) persistRunning(ctx context.Context, pid int) error {
	st, err := s.runtime.Get(ctx)
	if err != nil {
		return err
	}
	now := s.Now()
	st.IsRunning = true
	st.PID = pid
	st.StartedAt = &now
	st.UpdatedAt = now
	return s.runtime.Save(ctx, st)
}

func (s *Supervisor) persistStopped(ctx context.Context) error {
	st, err := s.runtime.Get(ctx)
	if err != nil {
		return err
	}
	if !st.IsRunning && st.PID == 0 {
		return nil
	}
	now := s.Now()
	st.IsRunning = false
	st.PID = 0
	st.StoppedAt = &now
	st.UpdatedAt = now
	return s.runtime.Save(ctx, st)
}

func (s *Supervisor) recordedPID(ctx context.Context) int {
	if pid := s.readPIDFile(); pid > 0 {
		return pid
	}
	st, err := s.runtime.Get(ctx)
	if err != nil || st.PID <= 0 {
		return 0
	}
	return st.PID
}

func (s *Supervisor) readPIDFile() int {
	data, err := os.ReadFile(s.cfg.PIDFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func (s *Supervisor) writePIDFile(pid int) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.PIDFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.cfg.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func (s *Supervisor) clearPIDFile() {
	if err := os.Remove(s.cfg.PIDFile); err != nil && !os.IsNotExist(err) {
		s.log.Warnf("removing pid file failed: %v", err)
	}
}
