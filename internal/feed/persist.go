package feed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/edupulse/edupulse/internal/model"
)

// migration describes one schema change.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			);
			CREATE TABLE IF NOT EXISTS feed_items (
				user_id    TEXT NOT NULL,
				id         TEXT NOT NULL,
				kind       TEXT NOT NULL,
				message    TEXT NOT NULL DEFAULT '',
				read       INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				payload    TEXT NOT NULL DEFAULT '{}',
				PRIMARY KEY (user_id, id)
			);
			CREATE INDEX IF NOT EXISTS idx_feed_items_user_created
				ON feed_items (user_id, created_at DESC);
			INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}

// PersistStore is the durable side of the feed: a bounded most-recent
// slice per user, reloaded on startup so the feed is non-empty before the
// first REST snapshot arrives.
type PersistStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewPersistStore opens (or creates) a SQLite database at dbPath, enables
// WAL mode, and runs any pending schema migrations.
func NewPersistStore(dbPath string, logger *slog.Logger) (*PersistStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &PersistStore{db: db, log: logger}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *PersistStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *PersistStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// feedRow is the sqlx scan target for feed_items.
type feedRow struct {
	UserID    string    `db:"user_id"`
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Message   string    `db:"message"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
	Payload   string    `db:"payload"`
}

// SaveFeed replaces the persisted slice for userID with items. Callers
// pass the most recent bounded window; the previous rows are dropped
// wholesale so the table never grows past that bound per user.
func (s *PersistStore) SaveFeed(ctx context.Context, userID string, items []model.Notification) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM feed_items WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing persisted feed: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO feed_items (
			user_id, id, kind, message, read, created_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, n := range items {
		payload, err := json.Marshal(n.Payload)
		if err != nil {
			return fmt.Errorf("serializing payload for %s: %w", n.ID, err)
		}
		_, err = stmt.ExecContext(
			ctx,
			userID, n.ID, string(n.Kind), n.Message, n.Read,
			n.CreatedAt.UTC(), string(payload),
		)
		if err != nil {
			return fmt.Errorf("inserting feed item %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing persisted feed: %w", err)
	}
	return nil
}

// LoadFeed returns the persisted slice for userID, newest first. Rows that
// fail to parse are skipped: malformed persisted state is discarded and
// the feed repopulates from the next snapshot.
func (s *PersistStore) LoadFeed(ctx context.Context, userID string) ([]model.Notification, error) {
	var rows []feedRow
	err := s.db.SelectContext(
		ctx,
		&rows,
		"SELECT user_id, id, kind, message, read, created_at, payload FROM feed_items WHERE user_id = ? ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading persisted feed: %w", err)
	}

	out := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		var payload map[string]string
		if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
			s.log.Warn("dropping malformed persisted feed item", "id", r.ID, "error", err)
			continue
		}
		out = append(out, model.Notification{
			ID:        r.ID,
			Kind:      model.Kind(r.Kind),
			Message:   r.Message,
			Read:      r.Read,
			CreatedAt: r.CreatedAt,
			Payload:   payload,
		})
	}
	return out, nil
}
