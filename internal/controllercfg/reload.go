package controllercfg

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/threadctl/threadctl/internal/log"
)

// Holder provides thread-safe, hot-reloadable access to a Config loaded
// from a file. A reload that fails validation or parsing leaves the
// previous snapshot in place — the controller never runs with a
// half-applied configuration.
type Holder struct {
	path     string
	snapshot atomic.Pointer[Config]
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
}

// NewHolder wraps an already-loaded Config for a given file path.
func NewHolder(path string, initial Config) *Holder {
	h := &Holder{path: path, logger: log.WithComponent("controllercfg")}
	h.snapshot.Store(&initial)
	return h
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() Config {
	p := h.snapshot.Load()
	if p == nil {
		return Default()
	}
	return *p
}

// Reload re-reads and re-validates the config file, swapping the snapshot
// only if it succeeds.
func (h *Holder) Reload() error {
	next, err := LoadFile(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping previous configuration")
		return fmt.Errorf("controllercfg: reload %q: %w", h.path, err)
	}
	h.snapshot.Store(&next)
	h.logger.Info().Str("path", h.path).Msg("configuration reloaded")
	return nil
}

// Watch starts an fsnotify watcher on the config file's directory and
// debounces reloads on write/create/rename events (atomic editor saves
// show up as a rename-then-create pair). Watch returns immediately; the
// watch loop runs until ctx is canceled.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("controllercfg: create watcher: %w", err)
	}
	h.watcher = watcher

	dir := filepath.Dir(h.path)
	base := filepath.Base(h.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("controllercfg: watch %q: %w", dir, err)
	}

	go h.watchLoop(ctx, base)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, base string) {
	const debounce = 300 * time.Millisecond
	var timer *time.Timer

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = h.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				_ = h.Reload()
			})
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Close stops the watcher, if running.
func (h *Holder) Close() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}
