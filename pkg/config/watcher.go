// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and reloads it when its mtime moves forward.
// Listeners receive every successfully loaded configuration.
type Watcher struct {
	mu        sync.RWMutex
	opts      Options
	interval  time.Duration
	modTime   time.Time
	config    *Config
	listeners []func(*Config)
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads the configuration described by opts and prepares to watch
// opts.Path.
func NewWatcher(opts Options, wopts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		opts:     opts,
		interval: time.Second,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range wopts {
		opt(w)
	}
	if info, err := os.Stat(opts.Path); err == nil {
		w.modTime = info.ModTime()
	}
	cfg, err := LoadWith(opts)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers fn to run after each reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start polls until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop ends polling and waits for the loop to exit. Start must have been
// called.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.changed() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) changed() bool {
	info, err := os.Stat(w.opts.Path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !info.ModTime().After(w.modTime) {
		return false
	}
	w.modTime = info.ModTime()
	return true
}

func (w *Watcher) reload() {
	cfg, err := LoadWith(w.opts)
	if err != nil {
		w.logger.Error("config.reload.error", slog.String("path", w.opts.Path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := append([]func(*Config)(nil), w.listeners...)
	w.mu.Unlock()

	w.logger.Info("config.reload", slog.String("path", w.opts.Path))
	for _, fn := range listeners {
		fn(cfg)
	}
}
