package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	domainconfig "graphsync/domain/config"
	"graphsync/pkg/idle"
)

// reloadDebounce coalesces bursts of file events into one reload
const reloadDebounce = 250 * time.Millisecond

// limitsFile is the on-disk shape of the synthesis limits
type limitsFile struct {
	DebounceIntervalMs    int `json:"debounceIntervalMs"`
	MaxEntitiesPerNote    int `json:"maxEntitiesPerNote"`
	MaxConnectionsPerPass int `json:"maxConnectionsPerPass"`
}

// LimitsWatcher serves the current synthesis limits and reloads them when
// the limits file changes. Without a file it serves the defaults.
type LimitsWatcher struct {
	mu      sync.RWMutex
	current domainconfig.SynthesisLimits

	path    string
	watcher *fsnotify.Watcher
	reload  *idle.Scheduler
	logger  *zap.Logger
	done    chan struct{}
}

// NewLimitsWatcher loads the limits file (when given) and starts watching
// its directory for changes
func NewLimitsWatcher(path string, logger *zap.Logger) (*LimitsWatcher, error) {
	w := &LimitsWatcher{
		current: domainconfig.DefaultSynthesisLimits(),
		path:    path,
		logger:  logger,
		done:    make(chan struct{}),
	}
	w.reload = idle.NewScheduler(reloadDebounce, w.reloadFile)

	if path == "" {
		return w, nil
	}

	w.reloadFile()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files, which drops a watch on the
	// file itself
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	w.watcher = watcher
	go w.watch()

	return w, nil
}

// Limits returns the current synthesis limits. Usable as a
// domainconfig.LimitsProvider.
func (w *LimitsWatcher) Limits() domainconfig.SynthesisLimits {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching
func (w *LimitsWatcher) Close() error {
	w.reload.Cancel()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *LimitsWatcher) watch() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload.Touch()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("limits watcher error", zap.Error(err))
		}
	}
}

// reloadFile re-reads the limits file. A missing or malformed file keeps the
// previous limits.
func (w *LimitsWatcher) reloadFile() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("limits file unreadable, keeping current limits",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	var file limitsFile
	if err := json.Unmarshal(data, &file); err != nil {
		w.logger.Warn("limits file malformed, keeping current limits",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	limits := domainconfig.SynthesisLimits{
		DebounceInterval:      time.Duration(file.DebounceIntervalMs) * time.Millisecond,
		MaxEntitiesPerNote:    file.MaxEntitiesPerNote,
		MaxConnectionsPerPass: file.MaxConnectionsPerPass,
	}.Normalize()

	w.mu.Lock()
	w.current = limits
	w.mu.Unlock()

	w.logger.Info("synthesis limits reloaded",
		zap.Duration("debounce_interval", limits.DebounceInterval),
		zap.Int("max_entities_per_note", limits.MaxEntitiesPerNote),
		zap.Int("max_connections_per_pass", limits.MaxConnectionsPerPass))
}
