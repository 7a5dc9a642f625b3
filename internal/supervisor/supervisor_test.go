package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autohelm/internal/config"
	"autohelm/internal/core"
)

type fakeHandle struct {
	mu        sync.Mutex
	pid       int
	alive     bool
	termed    int
	killed    int
	dieOnTerm bool
	dieOnKill bool
}

func (f *fakeHandle) PID() int { return f.pid }

func (f *fakeHandle) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeHandle) setAlive(v bool) {
	f.mu.Lock()
	f.alive = v
	f.mu.Unlock()
}

func (f *fakeHandle) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.termed++
	if f.dieOnTerm {
		f.alive = false
	}
	return nil
}

func (f *fakeHandle) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed++
	if f.dieOnKill {
		f.alive = false
	}
	return nil
}

type memRuntime struct {
	mu    sync.Mutex
	state core.BotRuntimeState
	saves int
}

func (m *memRuntime) Get(context.Context) (core.BotRuntimeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *memRuntime) Save(_ context.Context, st core.BotRuntimeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.saves++
	return nil
}

func testConfig(t *testing.T) config.SupervisorConfig {
	t.Helper()
	dir := t.TempDir()
	return config.SupervisorConfig{
		PIDFile:      filepath.Join(dir, "runner.pid"),
		ChildLogPath: filepath.Join(dir, "runner.log"),
	}
}

func newTestSupervisor(cfg config.SupervisorConfig, rt *memRuntime, opts Options) *Supervisor {
	s := New(cfg, rt, opts)
	s.poll = time.Millisecond
	return s
}

func writePID(t *testing.T, path string, pid string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(pid+"\n"), 0o644))
}

func TestStartSpawnsRunner(t *testing.T) {
	cfg := testConfig(t)
	rt := &memRuntime{}
	h := &fakeHandle{pid: 4242, alive: true}
	s := newTestSupervisor(cfg, rt, Options{
		Spawn:     func(context.Context) (ProcessHandle, error) { return h, nil },
		HandleFor: func(int) ProcessHandle { return h },
	})

	res, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, res.AlreadyRunning)
	assert.Equal(t, 4242, res.PID)

	data, err := os.ReadFile(cfg.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, "4242", strings.TrimSpace(string(data)))

	assert.True(t, rt.state.IsRunning)
	assert.Equal(t, 4242, rt.state.PID)
	require.NotNil(t, rt.state.StartedAt)
}

func TestStartIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	writePID(t, cfg.PIDFile, "4242")
	rt := &memRuntime{}
	h := &fakeHandle{pid: 4242, alive: true}
	spawns := 0
	s := newTestSupervisor(cfg, rt, Options{
		Spawn: func(context.Context) (ProcessHandle, error) {
			spawns++
			return h, nil
		},
		HandleFor: func(int) ProcessHandle { return h },
	})

	res, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Equal(t, 4242, res.PID)
	assert.Zero(t, spawns, "a second runner must not be spawned")
	assert.Zero(t, rt.saves, "existing state must not be rewritten")
}

func TestStartSurfacesEarlyExit(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.ChildLogPath, []byte("panic: config missing\n"), 0o644))
	rt := &memRuntime{}
	dead := &fakeHandle{pid: 99, alive: false}
	s := newTestSupervisor(cfg, rt, Options{
		Spawn:     func(context.Context) (ProcessHandle, error) { return dead, nil },
		HandleFor: func(int) ProcessHandle { return dead },
	})

	_, err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited during startup")
	assert.Contains(t, err.Error(), "panic: config missing")
	assert.False(t, rt.state.IsRunning)
}

func TestStopGraceful(t *testing.T) {
	cfg := testConfig(t)
	cfg.GracefulWaitSeconds = 1
	writePID(t, cfg.PIDFile, "500")
	rt := &memRuntime{state: core.BotRuntimeState{IsRunning: true, PID: 500}}
	h := &fakeHandle{pid: 500, alive: true}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return h },
		Graceful: func(context.Context) error {
			h.setAlive(false)
			return nil
		},
	})

	res, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageConfirmedDead, res.Stage)
	assert.True(t, res.Graceful)
	assert.Zero(t, h.termed)
	assert.Zero(t, h.killed)
	assert.False(t, rt.state.IsRunning)
	_, statErr := os.Stat(cfg.PIDFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStopEscalatesToTerm(t *testing.T) {
	cfg := testConfig(t)
	cfg.TermWaitSeconds = 1
	writePID(t, cfg.PIDFile, "501")
	rt := &memRuntime{state: core.BotRuntimeState{IsRunning: true, PID: 501}}
	h := &fakeHandle{pid: 501, alive: true, dieOnTerm: true}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return h },
	})

	res, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageConfirmedDead, res.Stage)
	assert.False(t, res.Graceful)
	assert.Equal(t, 1, h.termed)
	assert.Zero(t, h.killed)
	assert.False(t, rt.state.IsRunning)
}

func TestStopEscalatesToKill(t *testing.T) {
	cfg := testConfig(t)
	writePID(t, cfg.PIDFile, "502")
	rt := &memRuntime{state: core.BotRuntimeState{IsRunning: true, PID: 502}}
	// Ignores SIGTERM, dies on SIGKILL.
	h := &fakeHandle{pid: 502, alive: true, dieOnKill: true}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return h },
	})

	res, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageConfirmedDead, res.Stage)
	assert.Equal(t, 1, h.termed)
	assert.Equal(t, 1, h.killed)
	assert.False(t, rt.state.IsRunning)
}

func TestStopReportsExhaustedEscalation(t *testing.T) {
	cfg := testConfig(t)
	writePID(t, cfg.PIDFile, "503")
	rt := &memRuntime{state: core.BotRuntimeState{IsRunning: true, PID: 503}}
	immortal := &fakeHandle{pid: 503, alive: true}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return immortal },
	})

	res, err := s.Stop(context.Background())
	require.Error(t, err)
	var timeout *core.ShutdownTimeout
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, string(StageKillSent), timeout.Stage)
	assert.Equal(t, StageKillSent, res.Stage)
	// The process is still there, so the records keep saying running.
	assert.True(t, rt.state.IsRunning)
	_, statErr := os.Stat(cfg.PIDFile)
	assert.NoError(t, statErr)
}

func TestStopWhenNothingRuns(t *testing.T) {
	cfg := testConfig(t)
	rt := &memRuntime{}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return &fakeHandle{} },
	})

	res, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NotRunning)
	assert.Zero(t, rt.saves)
}

func TestSyncClearsStaleRunningFlag(t *testing.T) {
	cfg := testConfig(t)
	writePID(t, cfg.PIDFile, "600")
	rt := &memRuntime{state: core.BotRuntimeState{IsRunning: true, PID: 600}}
	gone := &fakeHandle{pid: 600, alive: false}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return gone },
	})

	rep, err := s.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, rep.Running)
	require.Len(t, rep.Corrections, 2)

	assert.False(t, rt.state.IsRunning)
	assert.Zero(t, rt.state.PID)
	_, statErr := os.Stat(cfg.PIDFile)
	assert.True(t, os.IsNotExist(statErr), "stale pid file should be removed")
}

func TestSyncAdoptsLiveProcess(t *testing.T) {
	cfg := testConfig(t)
	writePID(t, cfg.PIDFile, "601")
	rt := &memRuntime{}
	h := &fakeHandle{pid: 601, alive: true}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return h },
	})

	rep, err := s.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, rep.Running)
	require.Len(t, rep.Corrections, 2)
	assert.True(t, rt.state.IsRunning)
	assert.Equal(t, 601, rt.state.PID)
}

func TestSyncConsistentNoWrites(t *testing.T) {
	cfg := testConfig(t)
	rt := &memRuntime{}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return &fakeHandle{} },
	})

	rep, err := s.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, rep.Consistent)
	assert.Zero(t, rt.saves)
}

func TestBootReconcileHealsUncleanShutdown(t *testing.T) {
	cfg := testConfig(t)
	rt := &memRuntime{state: core.BotRuntimeState{IsRunning: true, PID: 999}}
	gone := &fakeHandle{pid: 999, alive: false}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return gone },
	})

	rep, err := s.BootReconcile(context.Background(), 111)
	require.NoError(t, err)
	assert.False(t, rep.Consistent)
	assert.False(t, rt.state.IsRunning)
	require.NotNil(t, rt.state.StoppedAt)
}

func TestBootReconcileRefusesSecondRunner(t *testing.T) {
	cfg := testConfig(t)
	rt := &memRuntime{state: core.BotRuntimeState{IsRunning: true, PID: 999}}
	alive := &fakeHandle{pid: 999, alive: true}
	s := newTestSupervisor(cfg, rt, Options{
		HandleFor: func(int) ProcessHandle { return alive },
	})

	_, err := s.BootReconcile(context.Background(), 111)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pid 999")
	// The live runner's record stays untouched.
	assert.True(t, rt.state.IsRunning)
}
