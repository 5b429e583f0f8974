package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce coalesces editor save bursts into one reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads a Store whenever its config file changes.
type Watcher struct {
	store    *Store
	debounce time.Duration
	onReload func(*Config)
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for store. onReload, if non-nil, receives each
// successfully loaded snapshot.
func NewWatcher(store *Store, onReload func(*Config), logger zerolog.Logger) *Watcher {
	return &Watcher{
		store:    store,
		debounce: DefaultWatchDebounce,
		onReload: onReload,
		logger:   logger.With().Str("component", "config_watcher").Logger(),
	}
}

// Watch blocks until ctx is cancelled. The parent directory is watched so
// that atomic replace-by-rename is observed.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("config watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	target := filepath.Clean(w.store.Path())
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	w.logger.Info().Str("path", target).Msg("config watcher started")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.store.Reload()
	if err != nil {
		w.logger.Error().Err(err).Msg("config reload failed, keeping previous configuration")
		return
	}
	w.logger.Info().
		Strs("capture_locations", cfg.CaptureLocations).
		Int64("file_count_limit", cfg.Retention.FileCountLimit).
		Uint64("size_limit_mb", cfg.Retention.SizeLimitMB).
		Msg("configuration reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
