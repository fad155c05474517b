package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/core-tools/hsu-iiswatch/pkg/errors"
	"github.com/core-tools/hsu-iiswatch/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

const DefaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk.
// Invalid files are logged and skipped; the previous snapshot stays active.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	logger   logging.Logger
	watcher  *fsnotify.Watcher

	mutex sync.Mutex
	timer *time.Timer
}

func NewWatcher(path string, debounce time.Duration, onChange func(*Config), logger logging.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewIOError("failed to resolve configuration path", err).WithContext("path", path)
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("failed to create file watcher", err)
	}

	// Watch the directory: editors often replace the file via rename
	dir := filepath.Dir(absPath)
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, errors.NewIOError("failed to watch configuration directory", err).WithContext("dir", dir)
	}

	return &Watcher{
		path:     absPath,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		watcher:  fsWatcher,
	}, nil
}

// Run blocks until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	w.logger.Infof("Watching configuration file, path: %s", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.logger.Debugf("Configuration file event, path: %s, op: %s", event.Name, event.Op)
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Configuration watcher error: %v", err)
		case <-ctx.Done():
			w.mutex.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mutex.Unlock()
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	config, err := LoadConfigFromFile(w.path)
	if err != nil {
		w.logger.Errorf("Configuration reload rejected, keeping previous snapshot, path: %s, error: %v", w.path, err)
		return
	}
	w.logger.Infof("Configuration reloaded, path: %s, sites: %d, app_pools: %d", w.path, len(config.Sites), len(config.AppPools))
	w.onChange(config)
}
