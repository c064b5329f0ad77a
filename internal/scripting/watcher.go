package scripting

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a changed file is reported.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports changed script and definition files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher watches dirs for .lua and .yaml changes.
//
// Precondition: logger must not be nil; every dir must exist.
// Postcondition: debounce <= 0 uses DefaultDebounce.
func NewWatcher(logger *zap.Logger, debounce time.Duration, dirs ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("scripting: creating watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("scripting: watching %q: %w", dir, err)
		}
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{watcher: w, debounce: debounce, logger: logger}, nil
}

// Run calls onChange with the directory of every changed file once the file
// has been quiet for the debounce period. Returns when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, onChange func(dir, path string)) error {
	defer w.watcher.Close()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !isWatchedFile(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("scripting: watcher error", zap.Error(err))
		case now := <-ticker.C:
			for path, seen := range pending {
				if now.Sub(seen) < w.debounce {
					continue
				}
				delete(pending, path)
				onChange(filepath.Dir(path), path)
			}
		}
	}
}

func isWatchedFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua", ".yaml", ".yml":
		return true
	}
	return false
}
