// Package sqlite provides the SQLite audit store adapter.
package sqlite

import (
	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
	"github.com/tjfontaine/interaction-gateway/internal/storage/sqldb"
)

// Provider implements ports.AuditStore using SQLite.
// It wraps the sqldb implementation.
type Provider struct {
	*sqldb.Store
}

// NewProvider creates a new SQLite audit store at path.
func NewProvider(path string) (*Provider, error) {
	store, err := sqldb.NewSQLite(path)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Store: store,
	}, nil
}

// Ensure Provider implements ports.AuditStore at compile time.
var _ ports.AuditStore = (*Provider)(nil)
