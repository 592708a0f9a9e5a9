// Package models defines the core data structures shared across the intake service.
//
// It includes the content profile record, the identity records written by the
// sign-in provider, and the JSON envelopes used by the HTTP API.
package models

import (
	"errors"
	"strings"
	"time"
)

// DefaultLanguage is stored when the intake did not collect a language.
const DefaultLanguage = "English"

// Validation constants for input validation
const (
	// MaxProfileNameLength mirrors the varchar(255) name column.
	MaxProfileNameLength = 255
	// MaxAnswerLength bounds a single free-text answer.
	MaxAnswerLength = 2000
)

// Error variables for better error handling and testability
var (
	ErrMissingAnswers     = errors.New("answers are required")
	ErrMissingProfileName = errors.New("profileName is required")
	ErrProfileNameTooLong = errors.New("profileName exceeds maximum length")
	ErrMissingQuestion    = errors.New("question is required")
	ErrMissingAnswer      = errors.New("answer is required")
	ErrAnswerTooLong      = errors.New("answer exceeds maximum length")
)

// Storage keys of the built-in catalog that map onto profile columns.
const (
	AnswerKeyProjectType    = "projectType"
	AnswerKeyNiche          = "niche"
	AnswerKeyTargetAudience = "targetAudience"
	AnswerKeyContentTypes   = "contentTypes"
	AnswerKeyPrimaryGoal    = "primaryGoal"
	AnswerKeyBrandVoice     = "brandVoice"
	AnswerKeyLanguage       = "language"
)

// Profile is a persisted content profile built from a completed intake.
type Profile struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	Name           string            `json:"name"`
	IsDefault      bool              `json:"isDefault"`
	ProjectType    string            `json:"projectType"`
	Niche          string            `json:"niche"`
	TargetAudience string            `json:"targetAudience"`
	ContentTypes   string            `json:"contentTypes"`
	PrimaryGoal    string            `json:"primaryGoal"`
	BrandVoice     string            `json:"brandVoice"`
	Language       string            `json:"language"`
	Extra          map[string]string `json:"extra,omitempty"` // answers without a dedicated column
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// ApplyAnswers copies intake answers onto the profile columns. Keys without a
// dedicated column are kept in Extra.
func (p *Profile) ApplyAnswers(answers map[string]string) {
	for key, value := range answers {
		switch key {
		case AnswerKeyProjectType:
			p.ProjectType = value
		case AnswerKeyNiche:
			p.Niche = value
		case AnswerKeyTargetAudience:
			p.TargetAudience = value
		case AnswerKeyContentTypes:
			p.ContentTypes = value
		case AnswerKeyPrimaryGoal:
			p.PrimaryGoal = value
		case AnswerKeyBrandVoice:
			p.BrandVoice = value
		case AnswerKeyLanguage:
			p.Language = value
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[key] = value
		}
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
}

// User is an identity created by the sign-in provider.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Image string `json:"image,omitempty"`
}

// SessionMaxAge is the lifetime of a sign-in session.
const SessionMaxAge = 30 * 24 * time.Hour

// Session is a database-backed sign-in session.
type Session struct {
	Token   string    `json:"sessionToken"`
	UserID  string    `json:"userId"`
	Expires time.Time `json:"expires"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.Expires)
}

// CreateProfileRequest is the payload of POST /api/profiles.
type CreateProfileRequest struct {
	Answers     map[string]string `json:"answers"`
	ProfileName string            `json:"profileName"`
}

// Validate validates a CreateProfileRequest.
func (r *CreateProfileRequest) Validate() error {
	if len(r.Answers) == 0 {
		return ErrMissingAnswers
	}
	if strings.TrimSpace(r.ProfileName) == "" {
		return ErrMissingProfileName
	}
	if len(r.ProfileName) > MaxProfileNameLength {
		return ErrProfileNameTooLong
	}
	return nil
}

// CreateProfileResponse is the result of POST /api/profiles.
type CreateProfileResponse struct {
	Profile Profile `json:"profile"`
}

// ListProfilesResponse is the result of GET /api/profiles.
type ListProfilesResponse struct {
	Profiles []Profile `json:"profiles"`
}

// ValidateAnswerRequest is the payload of POST /api/validate-answer.
type ValidateAnswerRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Validate validates a ValidateAnswerRequest.
func (r *ValidateAnswerRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return ErrMissingQuestion
	}
	if strings.TrimSpace(r.Answer) == "" {
		return ErrMissingAnswer
	}
	if len(r.Answer) > MaxAnswerLength {
		return ErrAnswerTooLong
	}
	return nil
}

// ValidateAnswerResponse is the result of POST /api/validate-answer.
type ValidateAnswerResponse struct {
	ValidationResult string `json:"validationResult"`
}

// SubmitAnswerRequest is the payload of POST /api/intake/{id}/answers.
type SubmitAnswerRequest struct {
	Answer string `json:"answer"`
}

// SaveIntakeRequest is the payload of POST /api/intake/{id}/profile.
type SaveIntakeRequest struct {
	ProfileName string `json:"profileName"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ErrorWithResult creates an error API response that still carries data,
// e.g. the conversation state after a recoverable failure.
func ErrorWithResult(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		WithResult(result).
		Build()
}
