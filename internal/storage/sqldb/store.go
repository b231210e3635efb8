// Package sqldb is the SQL implementation of the decision audit log.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/interaction-gateway/internal/core/ports"
	"github.com/tjfontaine/interaction-gateway/internal/storage/dialect"
)

const defaultListLimit = 100

// Store implements ports.AuditStore.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.AuditStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if n := d.MaxOpenConns(); n > 0 {
		db.SetMaxOpenConns(n)
	}

	for _, stmt := range d.OpenStatements(cfg.DSN) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run open statement: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS decisions (
id %s,
interaction_id TEXT NOT NULL,
conversation_id TEXT NOT NULL,
kind TEXT NOT NULL,
event TEXT NOT NULL,
status TEXT NOT NULL,
request TEXT,
response TEXT,
reason TEXT,
created_at %s NOT NULL
)`, s.dialect.IDColumn(), s.dialect.TimestampType()),
		`CREATE INDEX IF NOT EXISTS idx_decisions_conversation ON decisions(conversation_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_interaction ON decisions(interaction_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordEvent appends one lifecycle record and sets rec.ID.
func (s *Store) RecordEvent(ctx context.Context, rec *ports.DecisionRecord) error {
	if rec == nil {
		return fmt.Errorf("record required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := s.dialect.Rebind(`INSERT INTO decisions
		(interaction_id, conversation_id, kind, event, status, request, response, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	res, err := s.db.ExecContext(ctx, query,
		rec.InteractionID, rec.ConversationID, rec.Kind, rec.Event, rec.Status,
		nullJSON(rec.Request), nullJSON(rec.Response), rec.Reason, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("decision id: %w", err)
	}
	rec.ID = id
	return nil
}

// decisionRow mirrors the decisions table with nullable text columns.
type decisionRow struct {
	ID             int64          `db:"id"`
	InteractionID  string         `db:"interaction_id"`
	ConversationID string         `db:"conversation_id"`
	Kind           string         `db:"kind"`
	Event          string         `db:"event"`
	Status         string         `db:"status"`
	Request        sql.NullString `db:"request"`
	Response       sql.NullString `db:"response"`
	Reason         sql.NullString `db:"reason"`
	CreatedAt      time.Time      `db:"created_at"`
}

// ListDecisions returns records for conversationID, newest first.
func (s *Store) ListDecisions(ctx context.Context, conversationID string, opts ports.ListOptions) ([]*ports.DecisionRecord, error) {
	if conversationID == "" {
		return []*ports.DecisionRecord{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := s.dialect.Rebind(`SELECT id, interaction_id, conversation_id, kind, event, status,
		       request, response, reason, created_at
		FROM decisions
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?`)

	var rows []decisionRow
	if err := s.db.SelectContext(ctx, &rows, query, conversationID, limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}

	records := make([]*ports.DecisionRecord, 0, len(rows))
	for _, r := range rows {
		rec := &ports.DecisionRecord{
			ID:             r.ID,
			InteractionID:  r.InteractionID,
			ConversationID: r.ConversationID,
			Kind:           r.Kind,
			Event:          r.Event,
			Status:         r.Status,
			Reason:         r.Reason.String,
			CreatedAt:      r.CreatedAt,
		}
		if r.Request.Valid && r.Request.String != "" {
			rec.Request = json.RawMessage(r.Request.String)
		}
		if r.Response.Valid && r.Response.String != "" {
			rec.Response = json.RawMessage(r.Response.String)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
