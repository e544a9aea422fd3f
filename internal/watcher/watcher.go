// Package watcher reloads the marker registry when its file changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// Reloader rebuilds the registry from its file.
type Reloader interface {
	Reload() (*registry.LoadStats, error)
}

type Stats struct {
	Events    int       `json:"events"`
	Reloads   int       `json:"reloads"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastLoad  time.Time `json:"last_load"`
}

// RegistryWatcher watches the directory of the registry file, since editors
// usually replace files by rename, and reloads once writes have settled.
type RegistryWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	target   Reloader
	path     string
	dir      string
	debounce time.Duration
	pending  time.Time // zero when no change is waiting
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	stats    Stats
	logger   *zap.Logger

	// OnReload, when set, is called after every reload attempt.
	OnReload func(*registry.LoadStats, error)
}

func New(path string, target Reloader, debounce time.Duration, logger *zap.Logger) (*RegistryWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve registry path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &RegistryWatcher{
		watcher:  w,
		target:   target,
		path:     abs,
		dir:      filepath.Dir(abs),
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start begins watching. It does not block.
func (rw *RegistryWatcher) Start(ctx context.Context) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.running {
		return nil
	}
	if err := rw.watcher.Add(rw.dir); err != nil {
		return fmt.Errorf("watch %s: %w", rw.dir, err)
	}
	rw.running = true
	go rw.run(ctx)

	rw.logger.Info("watching marker registry", zap.String("path", rw.path))
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (rw *RegistryWatcher) Stop() {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		_ = rw.watcher.Close()
		return
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.stopCh)
	<-rw.doneCh

	if err := rw.watcher.Close(); err != nil {
		rw.logger.Error("close registry watcher", zap.Error(err))
	}
}

func (rw *RegistryWatcher) Stats() Stats {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.stats
}

func (rw *RegistryWatcher) run(ctx context.Context) {
	defer close(rw.doneCh)

	tick := time.NewTicker(rw.debounce / 5)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rw.stopCh:
			return
		case ev, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			rw.handleEvent(ev)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Warn("registry watcher error", zap.Error(err))
		case <-tick.C:
			rw.reloadIfSettled()
		}
	}
}

func (rw *RegistryWatcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != rw.path {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	rw.mu.Lock()
	rw.stats.Events++
	rw.pending = time.Now()
	rw.mu.Unlock()
}

func (rw *RegistryWatcher) reloadIfSettled() {
	rw.mu.Lock()
	if rw.pending.IsZero() || time.Since(rw.pending) < rw.debounce {
		rw.mu.Unlock()
		return
	}
	rw.pending = time.Time{}
	rw.mu.Unlock()

	stats, err := rw.target.Reload()

	rw.mu.Lock()
	rw.stats.LastLoad = time.Now()
	if err != nil {
		rw.stats.Failures++
		rw.stats.LastError = err.Error()
	} else {
		rw.stats.Reloads++
		rw.stats.LastError = ""
	}
	rw.mu.Unlock()

	if err != nil {
		rw.logger.Error("registry reload failed, keeping previous snapshot",
			zap.String("path", rw.path), zap.Error(err))
	} else {
		rw.logger.Info("registry reloaded",
			zap.String("path", rw.path),
			zap.Int("markers", stats.Markers),
			zap.Int("patterns_failed", stats.PatternsFailed))
	}
	if rw.OnReload != nil {
		rw.OnReload(stats, err)
	}
}
