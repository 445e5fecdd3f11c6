package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/levenlabs/go-lflag"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/types"
)

const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	connectionTimeout = 5 * time.Second
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entity_states (
	entity_id TEXT PRIMARY KEY,
	json TEXT NOT NULL,
	last_updated TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS previous_consumption (
	key TEXT PRIMARY KEY,
	json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	json TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// SQLiteProvider implements the Database interface on a local SQLite file.
// Records are stored as JSON blobs, the same as in Firestore.
type SQLiteProvider struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
}

// configuredSQLite sets up the SQLite provider.
// It registers flags for configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "data/octobridge.db", "Path to the SQLite database file")
	busyTimeout := lflag.Duration("sqlite-busy-timeout", 5*time.Second, "Maximum time to wait for a SQLite lock")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
		s.busyTimeout = *busyTimeout
	})

	return s
}

// NewSQLite returns a provider for the file at path. Init must be called
// before use.
func NewSQLite(path string) *SQLiteProvider {
	return &SQLiteProvider{
		path:        path,
		busyTimeout: 5 * time.Second,
	}
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	return nil
}

// Init opens the database, creating the file and schema if needed.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPermissions); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		s.path,
		s.busyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}
	_ = os.Chmod(s.path, filePermissions)

	s.db = db
	log.Ctx(ctx).DebugContext(ctx, "opened sqlite database", slog.String("path", s.path))
	return nil
}

// Close closes the database connection.
func (s *SQLiteProvider) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck verifies the database is accessible.
func (s *SQLiteProvider) HealthCheck(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// GetEntityState returns the last persisted state of an entity.
func (s *SQLiteProvider) GetEntityState(ctx context.Context, entityID string) (types.EntityState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT json FROM entity_states WHERE entity_id = ?", entityID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.EntityState{}, ErrNotFound
		}
		return types.EntityState{}, fmt.Errorf("failed to query entity state: %w", err)
	}
	var state types.EntityState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return types.EntityState{}, fmt.Errorf("failed to unmarshal entity state: %w", err)
	}
	return state, nil
}

// SetEntityState persists the state of an entity, keyed by its entity id.
func (s *SQLiteProvider) SetEntityState(ctx context.Context, state types.EntityState) error {
	if state.EntityID == "" {
		return fmt.Errorf("entityID cannot be empty")
	}
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal entity state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entity_states (entity_id, json, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET json = excluded.json, last_updated = excluded.last_updated`,
		state.EntityID, string(jsonBytes), formatSQLiteTime(state.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("failed to save entity state: %w", err)
	}
	return nil
}

// ListEntityStates returns every persisted entity state ordered by entity id.
func (s *SQLiteProvider) ListEntityStates(ctx context.Context) ([]types.EntityState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entity_id, json FROM entity_states ORDER BY entity_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query entity states: %w", err)
	}
	defer rows.Close()

	var states []types.EntityState
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan entity state: %w", err)
		}
		var state types.EntityState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping invalid entity state", slog.String("entityID", id), slog.Any("error", err))
			continue
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity states: %w", err)
	}
	return states, nil
}

// GetPreviousConsumption returns the stored consumption series for key. The
// second return value is false when nothing was stored.
func (s *SQLiteProvider) GetPreviousConsumption(ctx context.Context, key string) ([]types.Consumption, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT json FROM previous_consumption WHERE key = ?", key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query consumption: %w", err)
	}
	var data []types.Consumption
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal consumption: %w", err)
	}
	if data == nil {
		data = []types.Consumption{}
	}
	return data, true, nil
}

// SetPreviousConsumption replaces the stored consumption series for key.
func (s *SQLiteProvider) SetPreviousConsumption(ctx context.Context, key string, data []types.Consumption) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal consumption: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO previous_consumption (key, json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET json = excluded.json, updated_at = excluded.updated_at`,
		key, string(jsonBytes), formatSQLiteTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save consumption: %w", err)
	}
	return nil
}

// UpsertIssue creates or replaces an issue.
func (s *SQLiteProvider) UpsertIssue(ctx context.Context, issue types.Issue) error {
	jsonBytes, err := json.Marshal(issue)
	if err != nil {
		return fmt.Errorf("failed to marshal issue: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO issues (id, json, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET json = excluded.json, created_at = excluded.created_at`,
		issueID(issue.Domain, issue.Key), string(jsonBytes), formatSQLiteTime(issue.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}
	return nil
}

// DeleteIssue removes an issue. Deleting a missing issue is not an error.
func (s *SQLiteProvider) DeleteIssue(ctx context.Context, domain, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM issues WHERE id = ?", issueID(domain, key)); err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	return nil
}

// ListIssues returns every open issue.
func (s *SQLiteProvider) ListIssues(ctx context.Context) ([]types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, json FROM issues ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []types.Issue
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		var issue types.Issue
		if err := json.Unmarshal([]byte(raw), &issue); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping invalid issue", slog.String("id", id), slog.Any("error", err))
			continue
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", err)
	}
	return issues, nil
}
