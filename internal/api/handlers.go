package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/contentpilot/intake/internal/models"
	"github.com/contentpilot/intake/internal/profile"
	"github.com/contentpilot/intake/internal/validator"
)

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"conversations": s.registry.Len(),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(healthData))
}

func (s *Server) validateAnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateAnswerRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.validateAnswerHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing question or answer"))
		return
	}

	result, err := s.validator.Validate(r.Context(), req.Question, req.Answer)
	if errors.Is(err, validator.ErrMissingInput) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing question or answer"))
		return
	}
	if err != nil {
		slog.Error("Server.validateAnswerHandler: validator failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to validate answer"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ValidateAnswerResponse{ValidationResult: result}))
}

func (s *Server) listProfilesHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	profiles, err := s.profiles.List(r.Context(), sess.UserID)
	if err != nil {
		slog.Error("Server.listProfilesHandler: failed to list profiles", "userID", sess.UserID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch profiles"))
		return
	}
	slog.Debug("Server.listProfilesHandler: listed profiles", "userID", sess.UserID, "count", len(profiles))
	writeJSONResponse(w, http.StatusOK, models.Success(models.ListProfilesResponse{Profiles: profiles}))
}

func (s *Server) createProfileHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	var req models.CreateProfileRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.createProfileHandler: validation failed", "userID", sess.UserID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields"))
		return
	}

	p, err := s.profiles.Create(r.Context(), sess.UserID, req.Answers, req.ProfileName)
	if errors.Is(err, profile.ErrMissingFields) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields"))
		return
	}
	if err != nil {
		slog.Error("Server.createProfileHandler: failed to create profile", "userID", sess.UserID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create profile"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Profile created", models.CreateProfileResponse{Profile: p}))
}
