package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists group settings in a single SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens the database at path, creating parent directories and
// the schema when missing.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "policy.store")

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("Group store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS group_settings (
			group_id INTEGER PRIMARY KEY,
			enabled INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetGroupSetting returns ErrNotFound when the group has no row.
func (s *SQLiteStore) GetGroupSetting(ctx context.Context, groupID int64) (GroupSetting, error) {
	query := `SELECT group_id, enabled, updated_at FROM group_settings WHERE group_id = ?`

	setting, err := scanSetting(s.db.QueryRowContext(ctx, query, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return GroupSetting{}, ErrNotFound
	}
	if err != nil {
		return GroupSetting{}, fmt.Errorf("querying group setting: %w", err)
	}
	return setting, nil
}

// SetGroupSetting inserts or replaces the row for setting.GroupID.
func (s *SQLiteStore) SetGroupSetting(ctx context.Context, setting GroupSetting) error {
	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO group_settings (group_id, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		setting.GroupID,
		setting.Enabled,
		setting.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting group setting: %w", err)
	}

	s.logger.Debug("Group setting saved", "group_id", setting.GroupID, "enabled", setting.Enabled)
	return nil
}

// DeleteGroupSetting removes the row so the group falls back to the default.
func (s *SQLiteStore) DeleteGroupSetting(ctx context.Context, groupID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM group_settings WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("deleting group setting: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGroupSettings returns every explicit setting ordered by group ID.
func (s *SQLiteStore) ListGroupSettings(ctx context.Context) ([]GroupSetting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, enabled, updated_at FROM group_settings ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("listing group settings: %w", err)
	}
	defer rows.Close()

	var settings []GroupSetting
	for rows.Next() {
		setting, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group setting: %w", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group settings: %w", err)
	}
	return settings, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSetting(row rowScanner) (GroupSetting, error) {
	var (
		setting   GroupSetting
		updatedAt string
	)
	if err := row.Scan(&setting.GroupID, &setting.Enabled, &updatedAt); err != nil {
		return GroupSetting{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return GroupSetting{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	setting.UpdatedAt = parsed
	return setting, nil
}
