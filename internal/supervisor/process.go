package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// ProcessHandle is the narrow OS-process surface the supervisor needs.
// Tests inject fakes; production wraps a pid.
type ProcessHandle interface {
	PID() int
	Alive() bool
	Terminate() error // polite stop request
	Kill() error      // forced stop
}

// Spawner launches the detached runner process.
type Spawner func(ctx context.Context) (ProcessHandle, error)

type osHandle struct {
	pid int
}

// HandleForPID wraps a pid in the production handle.
func HandleForPID(pid int) ProcessHandle {
	return &osHandle{pid: pid}
}

func (h *osHandle) PID() int { return h.pid }

// Alive probes with signal 0. EPERM means the pid exists but belongs to
// another user, which still counts as alive.
func (h *osHandle) Alive() bool {
	if h.pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(h.pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.EPERM {
		return true
	}
	return false
}

func (h *osHandle) Terminate() error { return h.signal(syscall.SIGTERM) }

func (h *osHandle) Kill() error { return h.signal(syscall.SIGKILL) }

func (h *osHandle) signal(sig syscall.Signal) error {
	proc, err := os.FindProcess(h.pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// DetachedSpawner re-executes the current binary with args in a new
// session, with stdout/stderr appended to logPath so early crashes
// leave evidence behind.
func DetachedSpawner(args []string, logPath string) Spawner {
	return func(ctx context.Context) (ProcessHandle, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving executable failed: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating log dir failed: %w", err)
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening runner log failed: %w", err)
		}
		defer logFile.Close()

		cmd := exec.Command(exe, args...)
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		cmd.Stdin = nil
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("spawning runner failed: %w", err)
		}
		// Reap the child if it dies while this process is still around;
		// once this process exits the child reparents to init.
		go func() { _ = cmd.Wait() }()
		return &osHandle{pid: cmd.Process.Pid}, nil
	}
}

// tailOf returns the last max bytes of the file, for surfacing the
// output of a runner that died during startup.
func tailOf(path string, max int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	size := info.Size()
	if size > max {
		if _, err := f.Seek(size-max, 0); err != nil {
			return ""
		}
	}
	buf := make([]byte, max)
	n, _ := f.Read(buf)
	return strings.TrimSpace(string(buf[:n]))
}
