// Package apikey provides API key-based authentication.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
	"github.com/tjfontaine/interaction-gateway/internal/pkg/config"
)

// ErrInvalidAPIKey is returned for unknown or empty keys.
var ErrInvalidAPIKey = errors.New("invalid API key")

// Provider implements ports.AuthProvider using API key authentication.
// Keys are stored only as SHA-256 hashes.
type Provider struct {
	mu   sync.RWMutex
	keys map[string]string // keyHash -> description
}

// NewProvider creates a new API key auth provider.
func NewProvider(configProvider ports.ConfigProvider) (*Provider, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider required")
	}

	cfg, err := configProvider.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	p := &Provider{}
	if err := p.ReloadFromConfig(cfg); err != nil {
		return nil, fmt.Errorf("load api keys: %w", err)
	}
	return p, nil
}

// NewStaticProvider creates a provider from an explicit key list.
func NewStaticProvider(keys []config.APIKeyConfig) *Provider {
	p := &Provider{}
	p.load(keys)
	return p
}

// Enabled reports whether any key is configured. With no keys, callers run
// in open mode.
func (p *Provider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

// Authenticate validates an API key.
func (p *Provider) Authenticate(ctx context.Context, token string) (*ports.AuthContext, error) {
	if token == "" {
		return nil, ErrInvalidAPIKey
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	keyHash := HashAPIKey(token)
	for stored, description := range p.keys {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(keyHash)) == 1 {
			return &ports.AuthContext{
				Subject: keyHash[:12],
				Metadata: map[string]string{
					"description": description,
				},
			}, nil
		}
	}
	return nil, ErrInvalidAPIKey
}

// ReloadFromConfig replaces the key set. Called by the runtime when the
// config file changes.
func (p *Provider) ReloadFromConfig(cfg *config.Config) error {
	for i, k := range cfg.Auth.APIKeys {
		if len(k.KeyHash) != sha256.Size*2 {
			return fmt.Errorf("auth.api_keys[%d]: key_hash must be a hex SHA-256 digest", i)
		}
	}
	p.load(cfg.Auth.APIKeys)
	return nil
}

func (p *Provider) load(keys []config.APIKeyConfig) {
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[k.KeyHash] = k.Description
	}

	p.mu.Lock()
	p.keys = m
	p.mu.Unlock()
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
