// Package testutil provides common test helpers for the HTTP API and its clients.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/contentpilot/intake/internal/models"
	"github.com/contentpilot/intake/internal/store"
)

// Envelope is the wire form of models.APIResponse with the result left raw.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// SeedSession creates a user and a session valid for an hour.
func SeedSession(t *testing.T, st store.SessionStore, userID, token string) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateUser(ctx, models.User{ID: userID, Email: userID + "@example.com"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	sess := models.Session{Token: token, UserID: userID, Expires: time.Now().Add(time.Hour)}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
}

// DecodeEnvelope unmarshals a response body into an Envelope.
func DecodeEnvelope(t *testing.T, body []byte) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body %s)", err, body)
	}
	return env
}

// DecodeResult unmarshals the envelope result into dst.
func DecodeResult(t *testing.T, env Envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Result, dst); err != nil {
		t.Fatalf("Failed to unmarshal result: %v (raw %s)", err, env.Result)
	}
}

// WriteEnvelope writes resp as a JSON envelope with status, standing in for the server.
func WriteEnvelope(w http.ResponseWriter, status int, resp models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// MustMarshalJSON marshals v or fails the test.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
