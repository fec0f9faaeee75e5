package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcherDebounce absorbs the burst of write events a single save can
// produce (most editors/ConfigMap syncers rewrite the file more than
// once per logical change).
const watcherDebounce = 500 * time.Millisecond

// Watcher re-applies a CONFIG_FILE overlay whenever that file changes
// on disk, so an operator can flip a feature flag or tighten the SSRF
// allowlist by editing a mounted file rather than restarting the
// process. It never touches fields the file doesn't mention; see
// LoadYAMLOverlay.
type Watcher struct {
	path    string
	cfg     *Config
	fsw     *fsnotify.Watcher
	log     *zap.Logger
	onErr   func(error)
	stopped chan struct{}
}

// NewWatcher opens an fsnotify watch on path and holds a pointer to
// cfg to overlay onto in place. onErr is called (from the watch
// goroutine) whenever a reload attempt fails; it may be nil.
func NewWatcher(path string, cfg *Config, logger *zap.Logger, onErr func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{path: path, cfg: cfg, fsw: fsw, log: logger, onErr: onErr, stopped: make(chan struct{})}, nil
}

// Start runs the watch loop until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop closes the underlying fsnotify watcher and waits for the watch
// loop to exit.
func (w *Watcher) Stop() {
	w.fsw.Close()
	<-w.stopped
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(watcherDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(watcherDebounce)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-reload:
			if err := LoadYAMLOverlay(w.cfg, w.path); err != nil {
				w.log.Warn("config file reload failed, keeping previous values", zap.String("path", w.path), zap.Error(err))
				if w.onErr != nil {
					w.onErr(err)
				}
				continue
			}
			w.log.Info("config file reloaded", zap.String("path", w.path))
		}
	}
}
