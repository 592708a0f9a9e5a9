package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/contentpilot/intake/internal/models"
	"github.com/contentpilot/intake/internal/store"
)

func TestSeedSession(t *testing.T) {
	st := store.NewInMemoryStore()
	SeedSession(t, st, "user-1", "token-1")

	sess, err := st.GetSession(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", sess.UserID)
	}
}

func TestWriteAndDecodeEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteEnvelope(rec, http.StatusCreated, models.Success(models.ValidateAnswerResponse{ValidationResult: "Got it!"}))

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}

	env := DecodeEnvelope(t, rec.Body.Bytes())
	if env.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %q", env.Status)
	}
	var result models.ValidateAnswerResponse
	DecodeResult(t, env, &result)
	if result.ValidationResult != "Got it!" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestMustMarshalJSON(t *testing.T) {
	got := string(MustMarshalJSON(t, map[string]string{"answer": "yes"}))
	if got != `{"answer":"yes"}` {
		t.Errorf("unexpected JSON %s", got)
	}
}
