// This file implements a PostgreSQL-backed store for profiles and sessions.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/contentpilot/intake/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
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
		slog.Error("PostgresStore CreateProfile begin failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize concurrent first-profile creation for the same user.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.UserID); err != nil {
		slog.Error("PostgresStore CreateProfile lock failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to lock user profiles: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM profile WHERE "userId" = $1`, p.UserID).Scan(&count); err != nil {
		slog.Error("PostgresStore CreateProfile count failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to count profiles: %w", err)
	}
	p.IsDefault = count == 0

	_, err = tx.ExecContext(ctx, `INSERT INTO profile (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.UserID, p.Name, p.IsDefault, p.ProjectType, p.Niche, p.TargetAudience,
		p.ContentTypes, p.PrimaryGoal, p.BrandVoice, p.Language, extra, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateProfile insert failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to insert profile for %s: %w", p.UserID, err)
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore CreateProfile commit failed", "error", err, "userID", p.UserID)
		return models.Profile{}, fmt.Errorf("failed to commit profile: %w", err)
	}
	slog.Debug("PostgresStore CreateProfile succeeded", "profileID", p.ID, "userID", p.UserID, "isDefault", p.IsDefault)
	return p, nil
}

func (s *PostgresStore) ListProfiles(ctx context.Context, userID string) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profile
		WHERE "userId" = $1 ORDER BY "isDefault" DESC, "createdAt" ASC, id ASC`, userID)
	if err != nil {
		slog.Error("PostgresStore ListProfiles query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	profiles, err := scanProfiles(rows)
	if err != nil {
		slog.Error("PostgresStore ListProfiles scan failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("PostgresStore ListProfiles succeeded", "userID", userID, "count", len(profiles))
	return profiles, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID, id string) (models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profile WHERE id = $1 AND "userId" = $2`, id, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "profileID", id)
		return models.Profile{}, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u models.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO "user" (id, name, email, image) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, image = EXCLUDED.image`,
		u.ID, nilIfEmpty(u.Name), u.Email, nilIfEmpty(u.Image))
	if err != nil {
		slog.Error("PostgresStore CreateUser failed", "error", err, "userID", u.ID)
		return fmt.Errorf("failed to insert user %s: %w", u.ID, err)
	}
	slog.Debug("PostgresStore CreateUser succeeded", "userID", u.ID)
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO session ("sessionToken", "userId", expires) VALUES ($1, $2, $3)`,
		sess.Token, sess.UserID, sess.Expires.UTC())
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("failed to insert session for %s: %w", sess.UserID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "userID", sess.UserID)
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, token string) (models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx, `SELECT "sessionToken", "userId", expires FROM session WHERE "sessionToken" = $1`, token).
		Scan(&sess.Token, &sess.UserID, &sess.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err)
		return models.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	if sess.Expired(s.now()) {
		slog.Debug("PostgresStore GetSession expired", "userID", sess.UserID)
		return models.Session{}, ErrNotFound
	}
	return sess, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
