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

// ChangeFunc receives the previous and the freshly loaded config together
// with what differs between them.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher monitors a config file and reports valid edits. It polls the
// file's modification time and compares a content hash before reloading, so
// a touched but unchanged file is ignored. An invalid edit is logged and the
// previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher that has not started
// polling yet; call [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file when it changed and hands valid edits to onChange.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()
	if info.ModTime().Equal(mtime) {
		return
	}

	cfg, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		w.mu.Lock()
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"dialog_changed", d.DialogChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config watcher: some changes need a restart", "sections", d.RestartRequired)
	}

	// Outside the lock so the callback may call Current.
	if w.onChange != nil && !d.Empty() {
		w.onChange(old, cfg, d)
	}
}

// loadAndHash reads, parses and validates the file. It returns the config
// with the file's SHA-256 hash and modification time.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
