// This file implements an SQLite-backed store for profiles and sessions.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/contentpilot/intake/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite has a single writer; one connection keeps the first-profile
	// check and its insert from interleaving.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	if err := validateProfile(p); err != nil {
		return models.Profile{}, err
	}
	stampProfile(&p, s.now().UTC())
	extra, err := encodeExtra(p.Extra)
	if err != nil {
		return models.Profile{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("SQLiteStore CreateProfile begin failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM profile WHERE "userId" = ?`, p.UserID).Scan(&count); err != nil {
		slog.Error("SQLiteStore CreateProfile count failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to count profiles: %w", err)
	}
	p.IsDefault = count == 0

	_, err = tx.ExecContext(ctx, `INSERT INTO profile (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.IsDefault, p.ProjectType, p.Niche, p.TargetAudience,
		p.ContentTypes, p.PrimaryGoal, p.BrandVoice, p.Language, extra, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateProfile insert failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to insert profile for %s: %w", p.UserID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore CreateProfile commit failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to commit profile: %w", err)
	}
	slog.Debug("SQLiteStore CreateProfile succeeded", "profileID", p.ID, "userID", p.UserID, "isDefault", p.IsDefault)
	return p, nil
}

func (s *SQLiteStore) ListProfiles(ctx context.Context, userID string) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profile
		WHERE "userId" = ? ORDER BY "isDefault" DESC, "createdAt" ASC, id ASC`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListProfiles query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	profiles, err := scanProfiles(rows)
	if err != nil {
		slog.Error("SQLiteStore ListProfiles scan failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("SQLiteStore ListProfiles succeeded", "userID", userID, "count", len(profiles))
	return profiles, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, userID, id string) (models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profile WHERE id = ? AND "userId" = ?`, id, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "profileID", id)
		return models.Profile{}, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u models.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO "user" (id, name, email, image) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, image = excluded.image`,
		u.ID, nilIfEmpty(u.Name), u.Email, nilIfEmpty(u.Image))
	if err != nil {
		slog.Error("SQLiteStore CreateUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("failed to insert user %s: %w", u.ID, err)
	}
	slog.Debug("SQLiteStore CreateUser succeeded", "userID", u.ID)
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO session ("sessionToken", "userId", expires) VALUES (?, ?, ?)`,
		sess.Token, sess.UserID, sess.Expires.UTC())
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("failed to insert session for %s: %w", sess.UserID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "userID", sess.UserID)
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, token string) (models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx, `SELECT "sessionToken", "userId", expires FROM session WHERE "sessionToken" = ?`, token).
		Scan(&sess.Token, &sess.UserID, &sess.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err)
		return models.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	if sess.Expired(s.now()) {
		slog.Debug("SQLiteStore GetSession expired", "userID", sess.UserID)
		return models.Session{}, ErrNotFound
	}
	return sess, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
