package intake

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Phase is the position of a conversation in the intake state machine.
type Phase string

const (
	// PhaseAsking waits for an answer to the current step.
	PhaseAsking Phase = "asking"
	// PhaseValidating waits for the validator to screen a free-text answer.
	PhaseValidating Phase = "validating"
	// PhaseComplete has every step answered and waits for a profile name.
	PhaseComplete Phase = "complete"
	// PhaseSaving waits for the profile to be persisted.
	PhaseSaving Phase = "saving"
	// PhaseSaved is terminal.
	PhaseSaved Phase = "saved"
)

// Speaker identifies who authored a transcript entry.
type Speaker string

const (
	SpeakerAssistant Speaker = "assistant"
	SpeakerUser      Speaker = "user"
)

// Message is one transcript entry.
type Message struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// ConversationState is the observable state of one intake conversation.
type ConversationState struct {
	ID         string            `json:"id"`
	StepIndex  int               `json:"stepIndex"`
	Answers    map[string]string `json:"answers"`
	Transcript []Message         `json:"transcript"`
	Phase      Phase             `json:"phase"`
	// Draft keeps a free-text answer whose validation failed so it can be resubmitted.
	Draft     string    `json:"draft,omitempty"`
	ProfileID string    `json:"profileId,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Pending   bool      `json:"pending"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s ConversationState) clone() ConversationState {
	s.Answers = maps.Clone(s.Answers)
	s.Transcript = slices.Clone(s.Transcript)
	return s
}

// AcceptsInput reports whether a host should enable answer input.
func (s ConversationState) AcceptsInput() bool {
	return s.Phase == PhaseAsking && !s.Pending
}

// ProfileDraft is the payload handed to persistence when the intake completes.
type ProfileDraft struct {
	Answers     map[string]string `json:"answers"`
	ProfileName string            `json:"profileName"`
}

// Outcome is the classification of an accepted submission.
type Outcome string

const (
	// OutcomeAccepted records the answer and advances.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeClarify rejects the answer and re-asks the same step.
	OutcomeClarify Outcome = "clarify"
)

// ClassifyValidation interprets a validator response. A trailing "?" on the
// trimmed text is a clarifying question; anything else, including an empty
// string, is an acknowledgment. The validator's system prompt must keep
// producing question-shaped text only for rejected answers.
func ClassifyValidation(result string) Outcome {
	if strings.HasSuffix(strings.TrimSpace(result), "?") {
		return OutcomeClarify
	}
	return OutcomeAccepted
}

// Engine errors.
var (
	ErrEmptyAnswer          = errors.New("answer cannot be empty")
	ErrInvalidOption        = errors.New("answer is not one of the step options")
	ErrBusy                 = errors.New("conversation is busy")
	ErrWrongPhase           = errors.New("operation not allowed in current phase")
	ErrNameCancelled        = errors.New("profile name was not provided")
	ErrAlreadySaved         = errors.New("profile already saved")
	ErrConversationReset    = errors.New("conversation was reset during the call")
	ErrConversationNotFound = errors.New("conversation not found")
)

// ValidatorError reports a failed validator call. The conversation stays on
// the same step with the answer kept as Draft.
type ValidatorError struct {
	StepID string
	Err    error
}

func (e *ValidatorError) Error() string {
	return fmt.Sprintf("answer validation failed for step %s: %v", e.StepID, e.Err)
}

func (e *ValidatorError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed save. The conversation returns to PhaseComplete.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("profile save failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
