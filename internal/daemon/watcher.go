package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
)

// SourceWatcher monitors configured source paths and triggers rebuilds after
// a quiet debounce window, so bursts of file saves become one build.
type SourceWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	trigger  func(reason string)

	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSourceWatcher creates a watcher over the config's daemon.watch_paths.
func NewSourceWatcher(cfg *config.Config, trigger func(reason string)) (*SourceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	for _, p := range cfg.Daemon.WatchPaths {
		path := cfg.ResolvePath(p)
		if err := w.Add(path); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	return &SourceWatcher{
		watcher:  w,
		debounce: cfg.Daemon.DebounceDuration(),
		trigger:  trigger,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching. The watch loop runs until ctx is cancelled or Stop
// is called.
func (sw *SourceWatcher) Start(ctx context.Context) error {
	go sw.watchLoop(ctx)
	slog.Info("Source watcher started", slog.Duration("debounce", sw.debounce))
	return nil
}

// Stop stops the watcher and closes the underlying fsnotify handle.
func (sw *SourceWatcher) Stop() {
	sw.stopOnce.Do(func() {
		close(sw.stopChan)
		if err := sw.watcher.Close(); err != nil {
			slog.Warn("Failed to close file watcher", logfields.Error(err))
		}
	})
}

func (sw *SourceWatcher) watchLoop(ctx context.Context) {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		lastWhy string
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopChan:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if !relevantEvent(event) {
				continue
			}
			lastWhy = fmt.Sprintf("source change: %s", event.Name)
			slog.Debug("Source change detected",
				logfields.Path(event.Name),
				slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(sw.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(sw.debounce)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			sw.trigger(lastWhy)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", logfields.Error(err))
		}
	}
}

// relevantEvent filters out noise: chmod-only events and editor temp files.
func relevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := event.Name
	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	return true
}
