// Package profile turns completed intake answers into stored content profiles.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/contentpilot/intake/internal/intake"
	"github.com/contentpilot/intake/internal/models"
	"github.com/contentpilot/intake/internal/store"
	"github.com/google/uuid"
)

// ErrMissingFields is returned when answers or the profile name are absent.
var ErrMissingFields = errors.New("missing required fields")

// Service creates and lists content profiles.
type Service struct {
	store store.ProfileStore
	newID func() string
}

// NewService creates a profile service backed by s.
func NewService(s store.ProfileStore) *Service {
	return &Service{store: s, newID: uuid.NewString}
}

// Create stores a new profile for userID built from the intake answers.
// The first profile a user creates becomes the default.
func (s *Service) Create(ctx context.Context, userID string, answers map[string]string, name string) (models.Profile, error) {
	name = strings.TrimSpace(name)
	if userID == "" || len(answers) == 0 || name == "" {
		return models.Profile{}, ErrMissingFields
	}
	if len(name) > models.MaxProfileNameLength {
		return models.Profile{}, fmt.Errorf("%w: %w", ErrMissingFields, models.ErrProfileNameTooLong)
	}

	p := models.Profile{ID: s.newID(), UserID: userID, Name: name}
	p.ApplyAnswers(answers)

	saved, err := s.store.CreateProfile(ctx, p)
	if err != nil {
		slog.Error("Service.Create: failed to store profile", "userID", userID, "error", err)
		return models.Profile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	slog.Info("Service.Create: profile created", "userID", userID, "profileID", saved.ID, "isDefault", saved.IsDefault)
	return saved, nil
}

// List returns the user's profiles, default first.
func (s *Service) List(ctx context.Context, userID string) ([]models.Profile, error) {
	profiles, err := s.store.ListProfiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	return profiles, nil
}

// ForUser returns an intake persister that saves into userID's profiles.
func (s *Service) ForUser(userID string) intake.Persister {
	return userPersister{svc: s, userID: userID}
}

type userPersister struct {
	svc    *Service
	userID string
}

func (p userPersister) SaveProfile(ctx context.Context, draft intake.ProfileDraft) (string, error) {
	saved, err := p.svc.Create(ctx, p.userID, draft.Answers, draft.ProfileName)
	if err != nil {
		return "", err
	}
	return saved.ID, nil
}
