package intake

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"
)

// Default pacing and timeout values.
const (
	// DefaultReplyDelay separates a personalized reply from the next question.
	DefaultReplyDelay = 1200 * time.Millisecond
	// DefaultNextDelay precedes the next question when there is no reply.
	DefaultNextDelay = 500 * time.Millisecond
	// DefaultCallTimeout bounds each validator and persistence call.
	DefaultCallTimeout = 15 * time.Second
)

// Validator screens a free-text answer and returns either a short
// acknowledgment or a clarifying question ending in "?".
type Validator interface {
	Validate(ctx context.Context, question, answer string) (string, error)
}

// Persister stores a finished intake and returns the new profile id.
type Persister interface {
	SaveProfile(ctx context.Context, draft ProfileDraft) (string, error)
}

// Opts holds conversation configuration.
type Opts struct {
	Timer       Timer
	ReplyDelay  time.Duration
	NextDelay   time.Duration
	CallTimeout time.Duration
}

// Option defines a configuration option for a conversation.
type Option func(*Opts)

// WithTimer sets the timer used to pace transcript messages.
func WithTimer(t Timer) Option {
	return func(o *Opts) {
		o.Timer = t
	}
}

// WithDelays sets the pause after a personalized reply and the pause before
// the next question when there is no reply. Zero delays advance immediately.
func WithDelays(reply, next time.Duration) Option {
	return func(o *Opts) {
		o.ReplyDelay = reply
		o.NextDelay = next
	}
}

// WithCallTimeout bounds each outbound call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.CallTimeout = d
	}
}

// Conversation drives one user's walk through a catalog. All transitions are
// serialized; outbound calls run without the lock held but with the phase set
// to validating or saving so no second transition can start.
type Conversation struct {
	mu        sync.Mutex
	catalog   *Catalog
	validator Validator
	persister Persister
	opts      Opts

	state ConversationState
	// generation invalidates in-flight calls and timers after Restart or Close.
	generation     uint64
	pendingTimerID string
	// retrying marks that Draft belongs to a failed validation already in the transcript.
	retrying bool
	idle     chan struct{}
	closed   bool
}

// NewConversation creates a conversation positioned on the first step.
func NewConversation(id string, catalog *Catalog, validator Validator, persister Persister, opts ...Option) *Conversation {
	cfg := Opts{
		ReplyDelay:  DefaultReplyDelay,
		NextDelay:   DefaultNextDelay,
		CallTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Conversation{
		catalog:   catalog,
		validator: validator,
		persister: persister,
		opts:      cfg,
		idle:      closedChan(),
	}
	c.state = c.initialState(id)
	slog.Debug("Conversation.NewConversation: created", "conversationID", id, "steps", catalog.Len())
	return c
}

func (c *Conversation) initialState(id string) ConversationState {
	st := ConversationState{
		ID:        id,
		Answers:   make(map[string]string),
		Phase:     PhaseAsking,
		UpdatedAt: time.Now(),
	}
	if first, ok := c.catalog.Step(0); ok {
		st.Transcript = []Message{{Speaker: SpeakerAssistant, Text: first.Prompt}}
	}
	return st
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ID
}

// Catalog returns the catalog the conversation walks.
func (c *Conversation) Catalog() *Catalog {
	return c.catalog
}

// Snapshot returns a copy of the current state.
func (c *Conversation) Snapshot() ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// CurrentStep returns the step awaiting an answer, if any.
func (c *Conversation) CurrentStep() (QuestionStep, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.Step(c.state.StepIndex)
}

// Settled returns a channel that is closed once no call is in flight and no
// paced advance is pending.
func (c *Conversation) Settled() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// SuggestedProfileName proposes a name for the naming prompt.
func (c *Conversation) SuggestedProfileName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if niche := strings.TrimSpace(c.state.Answers["niche"]); niche != "" {
		return niche + " Project"
	}
	return "My Content Profile"
}

// Submit answers the current step. Choice answers are recorded directly;
// free-text answers are screened by the validator first.
func (c *Conversation) Submit(ctx context.Context, raw string) (Outcome, error) {
	answer := strings.TrimSpace(raw)

	c.mu.Lock()
	if err := c.checkAsking(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	if answer == "" {
		c.mu.Unlock()
		return "", ErrEmptyAnswer
	}
	step, _ := c.catalog.Step(c.state.StepIndex)
	logger := slog.With("conversationID", c.state.ID, "step", step.ID)

	if step.Kind == KindChoice {
		if !step.HasOption(answer) {
			c.mu.Unlock()
			logger.Debug("Conversation.Submit: rejected unknown option", "answer", answer)
			return "", ErrInvalidOption
		}
		c.appendMessage(SpeakerUser, answer)
		c.accept(step, answer)
		c.mu.Unlock()
		logger.Info("Conversation.Submit: choice recorded", "storageKey", step.StorageKey)
		return OutcomeAccepted, nil
	}

	if !(c.retrying && c.state.Draft == answer) {
		c.appendMessage(SpeakerUser, answer)
	}
	c.retrying = false
	c.state.Draft = answer
	c.state.LastError = ""
	c.state.Phase = PhaseValidating
	c.markBusy()
	gen := c.generation
	c.mu.Unlock()

	logger.Debug("Conversation.Submit: validating free-text answer")
	callCtx, cancel := c.callContext(ctx)
	result, err := c.validator.Validate(callCtx, step.Prompt, answer)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		logger.Debug("Conversation.Submit: discarding validation for reset conversation")
		return "", ErrConversationReset
	}
	if err != nil {
		c.state.Phase = PhaseAsking
		c.state.LastError = "We couldn't check that answer. Please try again."
		c.retrying = true
		c.touch()
		c.markIdle()
		logger.Warn("Conversation.Submit: validator unavailable", "error", err)
		return "", &ValidatorError{StepID: step.ID, Err: err}
	}

	c.state.Draft = ""
	if ClassifyValidation(result) == OutcomeClarify {
		c.appendMessage(SpeakerAssistant, strings.TrimSpace(result))
		c.state.Phase = PhaseAsking
		c.markIdle()
		logger.Info("Conversation.Submit: clarification requested")
		return OutcomeClarify, nil
	}

	c.accept(step, answer)
	logger.Info("Conversation.Submit: free-text answer accepted", "storageKey", step.StorageKey)
	return OutcomeAccepted, nil
}

// Save persists the collected answers under profileName. An empty name is
// treated as a cancelled prompt and leaves the conversation complete.
func (c *Conversation) Save(ctx context.Context, profileName string) (string, error) {
	name := strings.TrimSpace(profileName)

	c.mu.Lock()
	switch c.state.Phase {
	case PhaseSaved:
		c.mu.Unlock()
		return "", ErrAlreadySaved
	case PhaseSaving:
		c.mu.Unlock()
		return "", ErrBusy
	case PhaseComplete:
	default:
		c.mu.Unlock()
		return "", ErrWrongPhase
	}
	logger := slog.With("conversationID", c.state.ID)
	if name == "" {
		c.mu.Unlock()
		logger.Info("Conversation.Save: naming cancelled")
		return "", ErrNameCancelled
	}

	draft := ProfileDraft{Answers: maps.Clone(c.state.Answers), ProfileName: name}
	c.state.Phase = PhaseSaving
	c.state.LastError = ""
	c.markBusy()
	gen := c.generation
	c.mu.Unlock()

	callCtx, cancel := c.callContext(ctx)
	profileID, err := c.persister.SaveProfile(callCtx, draft)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		logger.Warn("Conversation.Save: conversation closed while saving", "profileID", profileID, "error", err)
		return "", ErrConversationReset
	}
	if err != nil {
		c.state.Phase = PhaseComplete
		c.state.LastError = "There was an error saving your profile. Please try again."
		c.touch()
		c.markIdle()
		logger.Warn("Conversation.Save: persistence unavailable", "error", err)
		return "", &PersistenceError{Err: err}
	}

	c.state.Phase = PhaseSaved
	c.state.ProfileID = profileID
	c.touch()
	c.markIdle()
	logger.Info("Conversation.Save: profile saved", "profileID", profileID)
	return profileID, nil
}

// Restart discards all progress and asks the first question again. Any
// pending timer is cancelled and in-flight validator results are dropped.
func (c *Conversation) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == PhaseSaving {
		return ErrBusy
	}
	c.invalidate()
	c.state = c.initialState(c.state.ID)
	slog.Info("Conversation.Restart: conversation reset", "conversationID", c.state.ID)
	return nil
}

// Close cancels pending work. The conversation must not be used afterwards.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.invalidate()
	slog.Debug("Conversation.Close: closed", "conversationID", c.state.ID)
}

func (c *Conversation) checkAsking() error {
	if c.closed {
		return ErrWrongPhase
	}
	switch {
	case c.state.Phase == PhaseValidating || c.state.Phase == PhaseSaving || c.state.Pending:
		return ErrBusy
	case c.state.Phase != PhaseAsking:
		return ErrWrongPhase
	}
	return nil
}

// accept records an answer and runs the personalized-reply sub-protocol.
// Must be called with c.mu held.
func (c *Conversation) accept(step QuestionStep, answer string) {
	c.state.Answers[step.StorageKey] = answer
	c.state.Phase = PhaseAsking

	delay := c.opts.NextDelay
	if reply, ok := step.ReplyFor(answer); ok {
		c.appendMessage(SpeakerAssistant, reply)
		delay = c.opts.ReplyDelay
	}
	c.scheduleAdvance(delay)
}

// Must be called with c.mu held.
func (c *Conversation) scheduleAdvance(delay time.Duration) {
	if delay <= 0 || c.opts.Timer == nil {
		c.advance()
		return
	}

	gen := c.generation
	c.state.Pending = true
	c.markBusy()
	id, err := c.opts.Timer.ScheduleAfter(delay, func() { c.onAdvance(gen) })
	if err != nil {
		slog.Warn("Conversation.scheduleAdvance: timer unavailable, advancing now", "conversationID", c.state.ID, "error", err)
		c.state.Pending = false
		c.advance()
		return
	}
	c.pendingTimerID = id
}

func (c *Conversation) onAdvance(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || !c.state.Pending {
		return
	}
	c.pendingTimerID = ""
	c.state.Pending = false
	c.advance()
}

// advance moves to the next step or to PhaseComplete. Must be called with c.mu held.
func (c *Conversation) advance() {
	next := c.state.StepIndex + 1
	if next >= c.catalog.Len() {
		c.state.StepIndex = c.catalog.Len()
		c.state.Phase = PhaseComplete
		slog.Info("Conversation.advance: intake complete", "conversationID", c.state.ID, "answers", len(c.state.Answers))
	} else {
		c.state.StepIndex = next
		c.state.Phase = PhaseAsking
		step, _ := c.catalog.Step(next)
		c.appendMessage(SpeakerAssistant, step.Prompt)
		slog.Debug("Conversation.advance: asking next step", "conversationID", c.state.ID, "step", step.ID)
	}
	c.touch()
	c.markIdle()
}

// invalidate cancels the pending timer and bumps the generation. Must be called with c.mu held.
func (c *Conversation) invalidate() {
	c.generation++
	if c.pendingTimerID != "" && c.opts.Timer != nil {
		if err := c.opts.Timer.Cancel(c.pendingTimerID); err != nil {
			slog.Warn("Conversation.invalidate: failed to cancel timer", "timerID", c.pendingTimerID, "error", err)
		}
	}
	c.pendingTimerID = ""
	c.retrying = false
	c.state.Pending = false
	c.markIdle()
}

func (c *Conversation) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.CallTimeout)
}

func (c *Conversation) appendMessage(speaker Speaker, text string) {
	c.state.Transcript = append(c.state.Transcript, Message{Speaker: speaker, Text: text})
	c.touch()
}

func (c *Conversation) touch() {
	c.state.UpdatedAt = time.Now()
}

func (c *Conversation) markBusy() {
	select {
	case <-c.idle:
		c.idle = make(chan struct{})
	default:
	}
}

func (c *Conversation) markIdle() {
	select {
	case <-c.idle:
	default:
		close(c.idle)
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
