// Package store provides storage backends for content profiles and the
// sign-in sessions that gate them.
//
// It includes an in-memory store for tests and development and persistent
// SQLite and PostgreSQL stores sharing one schema.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/contentpilot/intake/internal/models"
)

// Driver names returned by DetectDSNType.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	// ErrNotFound is returned when a record does not exist or is not visible to the caller.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidProfile is returned when a profile lacks its id, owner or name.
	ErrInvalidProfile = errors.New("profile requires id, userId and name")
)

// ProfileStore persists content profiles.
type ProfileStore interface {
	// CreateProfile inserts p, marking it default iff it is the user's first
	// profile. The count and the insert happen in one transaction.
	CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error)
	// ListProfiles returns the user's profiles, default first, then oldest first.
	ListProfiles(ctx context.Context, userID string) ([]models.Profile, error)
	// GetProfile returns one of the user's profiles or ErrNotFound.
	GetProfile(ctx context.Context, userID, id string) (models.Profile, error)
}

// SessionStore reads the identity tables written by the sign-in provider.
type SessionStore interface {
	CreateUser(ctx context.Context, u models.User) error
	CreateSession(ctx context.Context, s models.Session) error
	// GetSession returns the session for token. Missing and expired sessions
	// both yield ErrNotFound.
	GetSession(ctx context.Context, token string) (models.Session, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	ProfileStore
	SessionStore
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN    string
	Driver string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend with a database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverSQLite
	}
}

// WithPostgresDSN selects the PostgreSQL backend with a connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = DriverPostgres
	}
}

// DetectDSNType returns the database driver a DSN is meant for.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open creates the store selected by opts. Without a DSN it returns an
// in-memory store.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Debug("store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	case cfg.Driver == DriverPostgres:
		return NewPostgresStore(opts...)
	case cfg.Driver == DriverSQLite || cfg.Driver == "":
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func validateProfile(p models.Profile) error {
	if p.ID == "" || p.UserID == "" || strings.TrimSpace(p.Name) == "" {
		return ErrInvalidProfile
	}
	return nil
}

// stampProfile fills the creation timestamps and the default language.
func stampProfile(p *models.Profile, now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.Language == "" {
		p.Language = models.DefaultLanguage
	}
}

// InMemoryStore is a simple in-memory store.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles []models.Profile
	users    map[string]models.User
	sessions map[string]models.Session
	now      func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]models.User),
		sessions: make(map[string]models.Session),
		now:      time.Now,
	}
}

func (s *InMemoryStore) CreateProfile(ctx context.Context, p models.Profile) (models.Profile, error) {
	if err := validateProfile(p); err != nil {
		return models.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	first := true
	for _, existing := range s.profiles {
		if existing.ID == p.ID {
			return models.Profile{}, fmt.Errorf("profile %s already exists", p.ID)
		}
		if existing.UserID == p.UserID {
			first = false
		}
	}
	p.IsDefault = first
	stampProfile(&p, s.now().UTC())
	p.Extra = cloneExtra(p.Extra)
	s.profiles = append(s.profiles, p)
	slog.Debug("InMemoryStore.CreateProfile: profile stored", "profileID", p.ID, "userID", p.UserID, "isDefault", p.IsDefault)
	return p, nil
}

func (s *InMemoryStore) ListProfiles(ctx context.Context, userID string) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Profile
	for _, p := range s.profiles {
		if p.UserID == userID {
			p.Extra = cloneExtra(p.Extra)
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Profile) int {
		if a.IsDefault != b.IsDefault {
			if a.IsDefault {
				return -1
			}
			return 1
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) GetProfile(ctx context.Context, userID, id string) (models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.ID == id && p.UserID == userID {
			p.Extra = cloneExtra(p.Extra)
			return p, nil
		}
	}
	return models.Profile{}, ErrNotFound
}

func (s *InMemoryStore) CreateUser(ctx context.Context, u models.User) error {
	if u.ID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *InMemoryStore) CreateSession(ctx context.Context, sess models.Session) error {
	if sess.Token == "" || sess.UserID == "" {
		return fmt.Errorf("session requires token and userId")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[sess.UserID]; !ok {
		return fmt.Errorf("user %s: %w", sess.UserID, ErrNotFound)
	}
	s.sessions[sess.Token] = sess
	return nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, token string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok || sess.Expired(s.now()) {
		return models.Session{}, ErrNotFound
	}
	return sess, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
