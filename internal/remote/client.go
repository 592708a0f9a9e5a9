// Package remote implements the intake collaborators over the HTTP API so the
// conversation engine can run outside the server process.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/contentpilot/intake/internal/intake"
	"github.com/contentpilot/intake/internal/models"
)

// DefaultTimeout bounds each HTTP request.
const DefaultTimeout = 20 * time.Second

// ErrUnauthenticated is returned when the server rejects the session token.
var ErrUnauthenticated = errors.New("session is not signed in")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Opts holds client configuration.
type Opts struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Option defines a configuration option for the client.
type Option func(*Opts)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// Client calls the intake server on behalf of one signed-in session.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var (
	_ intake.Validator = (*Client)(nil)
	_ intake.Persister = (*Client)(nil)
)

// New creates a client for the server at baseURL using the session token.
func New(baseURL, token string, opts ...Option) *Client {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
	}
}

// Validate screens an answer with the server's validator.
func (c *Client) Validate(ctx context.Context, question, answer string) (string, error) {
	var resp models.ValidateAnswerResponse
	err := c.do(ctx, http.MethodPost, "/api/validate-answer",
		models.ValidateAnswerRequest{Question: question, Answer: answer}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ValidationResult, nil
}

// SaveProfile stores a completed intake and returns the new profile id.
func (c *Client) SaveProfile(ctx context.Context, draft intake.ProfileDraft) (string, error) {
	var resp models.CreateProfileResponse
	err := c.do(ctx, http.MethodPost, "/api/profiles",
		models.CreateProfileRequest{Answers: draft.Answers, ProfileName: draft.ProfileName}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Profile.ID == "" {
		return "", fmt.Errorf("server returned a profile without an id")
	}
	return resp.Profile.ID, nil
}

// ListProfiles returns the signed-in user's profiles, default first.
func (c *Client) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	var resp models.ListProfilesResponse
	if err := c.do(ctx, http.MethodGet, "/api/profiles", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Profiles, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("Client.do: request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var env envelope
	// Non-JSON bodies still produce a status error below.
	_ = json.Unmarshal(data, &env)

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		slog.Warn("Client.do: unexpected status", "method", method, "path", path, "status", resp.StatusCode)
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("failed to decode response result: %w", err)
		}
	}
	return nil
}
