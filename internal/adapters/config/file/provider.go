// Package file loads gateway configuration from a YAML file and reloads it
// when the file changes on disk.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tjfontaine/interaction-gateway/internal/pkg/config"
)

// settleDelay coalesces the burst of events editors emit for one save.
const settleDelay = 100 * time.Millisecond

// Provider implements ports.ConfigProvider for a single file.
type Provider struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	current *config.Config
}

// NewProvider creates a provider for path. Nothing is read until Load.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{path: filepath.Clean(path), logger: logger}, nil
}

// Current returns the last config that loaded and validated, or nil before Load.
func (p *Provider) Current() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Load reads and validates the file.
func (p *Provider) Load(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(p.path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.current = cfg
	p.mu.Unlock()

	p.logger.Info("config loaded", slog.String("path", p.path))
	return cfg, nil
}

// Watch calls onChange with each new valid config until ctx is done. Saves
// that fail validation are logged and the previous config stays current.
// Saves that leave the parsed config unchanged are not reported.
func (p *Provider) Watch(ctx context.Context, onChange func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// The directory is watched so rename-over saves are still seen
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	p.logger.Info("watching config file", slog.String("path", p.path))
	go p.run(ctx, watcher, onChange)
	return nil
}

func (p *Provider) run(ctx context.Context, watcher *fsnotify.Watcher, onChange func(*config.Config)) {
	defer watcher.Close()

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("config watch stopped")
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == p.path && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				settle.Reset(settleDelay)
			}

		case <-settle.C:
			if cfg, changed := p.reload(); changed {
				onChange(cfg)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watch error", slog.String("error", err.Error()))
		}
	}
}

// reload re-reads the file and reports whether it differs from Current.
func (p *Provider) reload() (*config.Config, bool) {
	cfg, err := config.Load(p.path)
	if err != nil {
		p.logger.Error("config reload rejected, keeping previous",
			slog.String("path", p.path),
			slog.String("error", err.Error()))
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && reflect.DeepEqual(p.current, cfg) {
		return nil, false
	}
	p.current = cfg
	p.logger.Info("config reloaded", slog.String("path", p.path))
	return cfg, true
}

// Close stops watching. Safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}
