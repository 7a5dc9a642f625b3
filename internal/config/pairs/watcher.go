package pairs

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"autohelm/internal/core"
	"autohelm/internal/logger"
)

// Snapshot is a read-only view of the pair set at one load.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Pairs    []core.TradingPairConfig
}

// ChangeListener receives a snapshot after each successful reload.
type ChangeListener func(Snapshot)

// Loader reads the pairs file and re-reads it on filesystem events.
// A reload that fails to parse keeps the previous snapshot.
type Loader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewLoader loads the file once and starts watching it.
func NewLoader(path string) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("pairs loader requires a path")
	}
	l := &Loader{path: path, v: viper.New()}
	l.v.SetConfigFile(path)
	if err := l.reload(); err != nil {
		return nil, err
	}
	l.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("pairs reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	l.v.WatchConfig()
	return l, nil
}

// Snapshot returns a copy of the current pair set.
func (l *Loader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener and immediately delivers the current
// snapshot to it.
func (l *Loader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer recoverListener()
		fn(snap)
	}()
}

func (l *Loader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer recoverListener()
			cb(snap)
		}(fn)
	}
}

func (l *Loader) reload() error {
	cfgs, err := ReadFile(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Pairs:    cfgs,
	}
	l.mu.Unlock()
	logger.Infof("pairs loader: %d pairs (%d active) from %s",
		len(cfgs), len(ActiveSymbols(cfgs)), filepath.Base(l.path))
	return nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{Version: src.Version, LoadedAt: src.LoadedAt}
	dst.Pairs = append([]core.TradingPairConfig(nil), src.Pairs...)
	return dst
}

func recoverListener() {
	if r := recover(); r != nil {
		logger.Errorf("pairs listener panic: %v", r)
	}
}
