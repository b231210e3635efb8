// Package dialect isolates the SQL differences the audit store cares about.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect describes how to open and address one database engine.
type Dialect interface {
	// DriverName is the database/sql driver to open.
	DriverName() string
	// Rebind rewrites ? placeholders into the engine's form.
	Rebind(query string) string
	// IDColumn is the column definition for the decisions row id.
	IDColumn() string
	// TimestampType is the column type for created_at.
	TimestampType() string
	// OpenStatements run once after the pool opens.
	OpenStatements(dsn string) []string
	// MaxOpenConns bounds the pool; zero means unlimited.
	MaxOpenConns() int
}

// FromDriverName returns the dialect registered for driverName.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return sqlite{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

// sqlite targets modernc.org/sqlite.
type sqlite struct{}

func (sqlite) DriverName() string         { return "sqlite" }
func (sqlite) Rebind(query string) string { return query }
func (sqlite) IDColumn() string           { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqlite) TimestampType() string      { return "TIMESTAMP" }

func (sqlite) OpenStatements(dsn string) []string {
	stmts := []string{"PRAGMA synchronous=NORMAL", "PRAGMA busy_timeout=5000"}
	if IsMemoryDSN(dsn) {
		return stmts
	}
	return append([]string{"PRAGMA journal_mode=WAL"}, stmts...)
}

// MaxOpenConns is 1: SQLite has one writer, and :memory: databases exist
// per connection.
func (sqlite) MaxOpenConns() int { return 1 }

// IsMemoryDSN reports whether dsn names an in-memory SQLite database.
func IsMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
