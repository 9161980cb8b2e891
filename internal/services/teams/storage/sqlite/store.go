// Package sqlite provides SQLite-backed persistence for the teams service.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/Thomas0321/badminton-app/internal/platform/storage/sqlitemigrate"
	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
	"github.com/Thomas0321/badminton-app/internal/services/teams/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for teams state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens a teams SQLite store at the provided path and applies migrations.
//
// Write transactions take the database write lock at BEGIN (_txlock=immediate)
// so a roster decision never reads a snapshot another writer is about to
// invalidate; a competing writer fails with SQLITE_BUSY instead, which the
// store surfaces as storage.ErrConflict.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// modernc.org/sqlite only honors _txlock and _pragma=name(value) DSN
	// parameters; mattn-style _journal_mode/_busy_timeout forms are ignored.
	dsn := cleanPath + "?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureForeignKeysEnabled(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS)
}

func ensureForeignKeysEnabled(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("sqlite db is required")
	}
	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("check sqlite foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("sqlite foreign keys are disabled")
	}
	return nil
}

// isBusyError reports whether err means another writer holds the database
// lock. These failures are retryable by re-running the whole transaction.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "database is locked") || strings.Contains(value, "sqlite_busy")
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint")
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetUser loads one player record.
func (s *Store) GetUser(ctx context.Context, userID string) (storage.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.UserRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.UserRecord{}, fmt.Errorf("storage is not configured")
	}
	return getUserExec(ctx, s.sqlDB, userID)
}

// PutUser inserts or replaces one player record.
func (s *Store) PutUser(ctx context.Context, user storage.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, nickname, skill_level, preferred_region, cancellation_count, ban_until, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    nickname = excluded.nickname,
    skill_level = excluded.skill_level,
    preferred_region = excluded.preferred_region,
    cancellation_count = excluded.cancellation_count,
    ban_until = excluded.ban_until
`, user.ID, user.Nickname, user.SkillLevel, user.PreferredRegion,
		user.CancellationCount, toNullMillis(user.BanUntil), toMillis(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func getUserExec(ctx context.Context, q querier, userID string) (storage.UserRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.UserRecord{}, fmt.Errorf("user id is required")
	}
	row := q.QueryRowContext(ctx, `
SELECT id, nickname, skill_level, preferred_region, cancellation_count, ban_until, created_at
FROM users
WHERE id = ?
`, userID)

	var record storage.UserRecord
	var banUntil sql.NullInt64
	var createdAt int64
	err := row.Scan(&record.ID, &record.Nickname, &record.SkillLevel, &record.PreferredRegion,
		&record.CancellationCount, &banUntil, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.UserRecord{}, storage.ErrNotFound
		}
		return storage.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	record.BanUntil = fromNullMillis(banUntil)
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// InsertMessage appends one team board message.
func (s *Store) InsertMessage(ctx context.Context, message storage.MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(message.ID) == "" {
		return fmt.Errorf("message id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO team_messages (id, team_id, user_id, body, is_public, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, message.ID, message.TeamID, message.UserID, message.Body, message.IsPublic, toMillis(message.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages lists one team's board messages, newest first.
func (s *Store) ListMessages(ctx context.Context, teamID string, public bool) ([]storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return nil, fmt.Errorf("team id is required")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, team_id, user_id, body, is_public, created_at
FROM team_messages
WHERE team_id = ? AND is_public = ?
ORDER BY created_at DESC, id DESC
`, teamID, public)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []storage.MessageRecord
	for rows.Next() {
		var record storage.MessageRecord
		var createdAt int64
		if err := rows.Scan(&record.ID, &record.TeamID, &record.UserID, &record.Body, &record.IsPublic, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		messages = append(messages, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
