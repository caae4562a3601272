package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/levenlabs/go-lflag"

	"github.com/wattflow/wattflow/pkg/types"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// dbmigrator keeps its database type in a package variable
var migrateMu sync.Mutex

// SQLiteProvider stores snapshots in a local SQLite database.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

var _ Database = (*SQLiteProvider)(nil)

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "wattflow.db", "Path to the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLite returns a provider for the database at path. Init must be called
// before it's used.
func NewSQLite(path string) *SQLiteProvider {
	return &SQLiteProvider{path: path}
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

// Init opens the database, creating its directory if needed, and applies
// the migrations.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to sqlite database %s: %w", s.path, err)
	}

	migrateMu.Lock()
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")
	migrateMu.Unlock()

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutSnapshot replaces the snapshot of the card.
func (s *SQLiteProvider) PutSnapshot(ctx context.Context, cardID string, st types.States) error {
	if cardID == "" {
		return ErrEmptyCardID
	}
	jsonBytes, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		"INSERT INTO snapshots (card_id, json, timestamp, updated) "+
			"VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(card_id) DO UPDATE SET json = excluded.json, timestamp = excluded.timestamp, updated = excluded.updated",
		cardID,
		string(jsonBytes),
		st.Timestamp.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot of the card.
func (s *SQLiteProvider) GetSnapshot(ctx context.Context, cardID string) (types.States, error) {
	if cardID == "" {
		return types.States{}, ErrEmptyCardID
	}
	var jsonStr string
	err := s.db.QueryRowContext(ctx, "SELECT json FROM snapshots WHERE card_id = ?", cardID).Scan(&jsonStr)
	if errors.Is(err, sql.ErrNoRows) {
		return types.States{}, ErrSnapshotNotFound
	}
	if err != nil {
		return types.States{}, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	var st types.States
	if err := json.Unmarshal([]byte(jsonStr), &st); err != nil {
		return types.States{}, fmt.Errorf("failed to unmarshal snapshot (card=%s): %w", cardID, err)
	}
	return st, nil
}

// ListCards returns the ids of every card with a snapshot, ordered by id.
func (s *SQLiteProvider) ListCards(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT card_id FROM snapshots ORDER BY card_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}
	return ids, nil
}
