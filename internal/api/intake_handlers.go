package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/contentpilot/intake/internal/intake"
	"github.com/contentpilot/intake/internal/models"
)

// IntakeView is the API representation of a conversation.
type IntakeView struct {
	State                intake.ConversationState `json:"state"`
	Step                 *intake.QuestionStep     `json:"step,omitempty"`
	TotalSteps           int                      `json:"totalSteps"`
	AcceptsInput         bool                     `json:"acceptsInput"`
	SuggestedProfileName string                   `json:"suggestedProfileName,omitempty"`
	Outcome              intake.Outcome           `json:"outcome,omitempty"`
}

func newIntakeView(conv *intake.Conversation, outcome intake.Outcome) IntakeView {
	st := conv.Snapshot()
	view := IntakeView{
		State:        st,
		TotalSteps:   conv.Catalog().Len(),
		AcceptsInput: st.AcceptsInput(),
		Outcome:      outcome,
	}
	if step, ok := conv.Catalog().Step(st.StepIndex); ok {
		view.Step = &step
	}
	if st.Phase == intake.PhaseComplete {
		view.SuggestedProfileName = conv.SuggestedProfileName()
	}
	return view
}

// conversationFor resolves the {id} path value for the caller's session.
func (s *Server) conversationFor(w http.ResponseWriter, r *http.Request) (*intake.Conversation, bool) {
	sess, _ := sessionFromContext(r.Context())
	conv, err := s.registry.Get(sess.Token, r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return nil, false
	}
	return conv, true
}

func (s *Server) startIntakeHandler(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	conv := s.registry.Start(sess.Token, sess.UserID)
	writeJSONResponse(w, http.StatusCreated, models.Success(newIntakeView(conv, "")))
}

func (s *Server) getIntakeHandler(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversationFor(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newIntakeView(conv, "")))
}

func (s *Server) submitAnswerHandler(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversationFor(w, r)
	if !ok {
		return
	}
	var req models.SubmitAnswerRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Answer) > models.MaxAnswerLength {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrAnswerTooLong.Error()))
		return
	}

	outcome, err := conv.Submit(r.Context(), req.Answer)
	if err != nil {
		status := submitErrorStatus(err)
		slog.Warn("Server.submitAnswerHandler: submission failed", "conversationID", conv.ID(), "status", status, "error", err)
		writeJSONResponse(w, status, models.ErrorWithResult(err.Error(), newIntakeView(conv, "")))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newIntakeView(conv, outcome)))
}

func submitErrorStatus(err error) int {
	var vErr *intake.ValidatorError
	switch {
	case errors.Is(err, intake.ErrEmptyAnswer), errors.Is(err, intake.ErrInvalidOption):
		return http.StatusBadRequest
	case errors.As(err, &vErr):
		return http.StatusBadGateway
	case errors.Is(err, intake.ErrBusy), errors.Is(err, intake.ErrWrongPhase), errors.Is(err, intake.ErrConversationReset):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) saveIntakeHandler(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversationFor(w, r)
	if !ok {
		return
	}
	var req models.SaveIntakeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	profileID, err := conv.Save(r.Context(), req.ProfileName)
	if err != nil {
		status := saveErrorStatus(err)
		slog.Warn("Server.saveIntakeHandler: save failed", "conversationID", conv.ID(), "status", status, "error", err)
		writeJSONResponse(w, status, models.ErrorWithResult(err.Error(), newIntakeView(conv, "")))
		return
	}
	slog.Info("Server.saveIntakeHandler: intake saved", "conversationID", conv.ID(), "profileID", profileID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Profile saved", newIntakeView(conv, "")))
}

func saveErrorStatus(err error) int {
	var pErr *intake.PersistenceError
	switch {
	case errors.Is(err, intake.ErrNameCancelled):
		return http.StatusBadRequest
	case errors.As(err, &pErr):
		return http.StatusBadGateway
	case errors.Is(err, intake.ErrWrongPhase), errors.Is(err, intake.ErrBusy),
		errors.Is(err, intake.ErrAlreadySaved), errors.Is(err, intake.ErrConversationReset):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) restartIntakeHandler(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversationFor(w, r)
	if !ok {
		return
	}
	if err := conv.Restart(); err != nil {
		writeJSONResponse(w, http.StatusConflict, models.ErrorWithResult(err.Error(), newIntakeView(conv, "")))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newIntakeView(conv, "")))
}
