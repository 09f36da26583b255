package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] polls the file.
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps the latest valid configuration from a YAML file. A file that
// fails to parse or validate is logged and ignored; the previous
// configuration stays current.
type Watcher struct {
	path    string
	every   time.Duration
	overlay func(*Config) error

	mu    sync.Mutex
	cfg   *Config
	stamp fileStamp
}

// fileStamp identifies one version of the file. The mtime is compared first
// so an untouched file is never read.
type fileStamp struct {
	mod time.Time
	sum [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval of [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// WithEnv re-applies environment overrides from lookup on every load, so a
// reload never reverts them. See [ApplyEnv].
func WithEnv(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) {
		w.overlay = func(cfg *Config) error { return ApplyEnv(cfg, lookup) }
	}
}

// NewWatcher loads path once and returns a watcher holding the result. It
// fails when the initial load fails. Call [Watcher.Run] to follow changes.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, every: DefaultWatchInterval}
	for _, opt := range opts {
		opt(w)
	}
	data, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := w.parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.cfg, w.stamp = cfg, stamp
	return w, nil
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Run polls the file until ctx ends and calls onChange with the previous and
// the new configuration after each successful reload. onChange runs on the
// Run goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(old, new *Config)) {
	t := time.NewTicker(w.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		old, err := w.Reload()
		if err != nil {
			slog.Warn("config reload rejected; keeping previous", "path", w.path, "err", err)
			continue
		}
		if old != nil {
			slog.Info("config reloaded", "path", w.path)
			if onChange != nil {
				onChange(old, w.Current())
			}
		}
	}
}

// Reload checks the file once. It returns the replaced configuration when the
// content changed to a valid one, nil when nothing changed, and an error when
// the new content was rejected.
func (w *Watcher) Reload() (*Config, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	seen := w.stamp
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mod) {
		return nil, nil
	}

	data, stamp, err := w.read()
	if err != nil {
		return nil, err
	}
	if stamp.sum == seen.sum {
		w.mu.Lock()
		w.stamp.mod = stamp.mod
		w.mu.Unlock()
		return nil, nil
	}
	cfg, err := w.parse(data)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	old := w.cfg
	w.cfg, w.stamp = cfg, stamp
	return old, nil
}

func (w *Watcher) read() ([]byte, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return data, fileStamp{mod: info.ModTime(), sum: sha256.Sum256(data)}, nil
}

func (w *Watcher) parse(data []byte) (*Config, error) {
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if w.overlay != nil {
		if err := w.overlay(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
