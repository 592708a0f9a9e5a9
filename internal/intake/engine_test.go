package intake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeValidator returns queued responses in order; a nil-error entry with
// text "" is a valid empty acknowledgment.
type fakeValidator struct {
	mu        sync.Mutex
	responses []validatorReply
	calls     []validatorCall
}

type validatorReply struct {
	text string
	err  error
}

type validatorCall struct {
	question, answer string
}

func (f *fakeValidator) queue(text string, err error) *fakeValidator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, validatorReply{text: text, err: err})
	return f
}

func (f *fakeValidator) Validate(ctx context.Context, question, answer string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, validatorCall{question: question, answer: answer})
	if len(f.responses) == 0 {
		return "Got it!", nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.text, r.err
}

func (f *fakeValidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePersister struct {
	mu     sync.Mutex
	errs   []error
	drafts []ProfileDraft
	saved  int
}

func (f *fakePersister) SaveProfile(ctx context.Context, draft ProfileDraft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	f.saved++
	return fmt.Sprintf("profile-%d", f.saved), nil
}

// manualTimer holds scheduled functions until the test fires them.
type manualTimer struct {
	mu        sync.Mutex
	next      int
	fns       map[string]func()
	cancelled []string
}

func newManualTimer() *manualTimer {
	return &manualTimer{fns: make(map[string]func())}
}

func (m *manualTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("t%d", m.next)
	m.fns[id] = fn
	return id, nil
}

func (m *manualTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fns, id)
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *manualTimer) fireAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.fns))
	for id := range m.fns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.fns[id])
		delete(m.fns, id)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *manualTimer) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fns)
}

func twoStepCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]QuestionStep{
		{ID: "step1", Prompt: "Pick one", Kind: KindChoice, Options: []string{"A", "B"}, StorageKey: "step1Key",
			Replies: map[string]string{"A": "A is great!"}},
		{ID: "step2", Prompt: "What's your niche?", Kind: KindFreeText, StorageKey: "step2Key"},
	})
	require.NoError(t, err)
	return c
}

func newTestConversation(t *testing.T, v Validator, p Persister, opts ...Option) *Conversation {
	t.Helper()
	opts = append([]Option{WithDelays(0, 0)}, opts...)
	conv := NewConversation("conv-1", twoStepCatalog(t), v, p, opts...)
	t.Cleanup(conv.Close)
	return conv
}

func TestNewConversation_SeedsFirstPrompt(t *testing.T) {
	conv := newTestConversation(t, &fakeValidator{}, &fakePersister{})
	st := conv.Snapshot()
	assert.Equal(t, PhaseAsking, st.Phase)
	assert.Equal(t, 0, st.StepIndex)
	require.Len(t, st.Transcript, 1)
	assert.Equal(t, Message{Speaker: SpeakerAssistant, Text: "Pick one"}, st.Transcript[0])
	assert.Empty(t, st.Answers)
}

func TestScenario_ChoiceThenAcceptedFreeText(t *testing.T) {
	v := (&fakeValidator{}).queue("Great!", nil)
	conv := newTestConversation(t, v, &fakePersister{})
	ctx := context.Background()

	out, err := conv.Submit(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)
	assert.Equal(t, 0, v.callCount(), "choice steps must not call the validator")

	out, err = conv.Submit(ctx, "widgets")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)

	st := conv.Snapshot()
	assert.Equal(t, map[string]string{"step1Key": "A", "step2Key": "widgets"}, st.Answers)
	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, 2, st.StepIndex)
	for _, m := range st.Transcript {
		assert.NotEqual(t, "Great!", m.Text, "acknowledgments are never shown")
	}
	require.Len(t, v.calls, 1)
	assert.Equal(t, validatorCall{question: "What's your niche?", answer: "widgets"}, v.calls[0])
}

func TestScenario_ClarifyingQuestionKeepsStep(t *testing.T) {
	v := (&fakeValidator{}).queue("What's your niche?", nil)
	conv := newTestConversation(t, v, &fakePersister{})
	ctx := context.Background()

	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)
	before := conv.Snapshot()

	out, err := conv.Submit(ctx, "idk")
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarify, out)

	st := conv.Snapshot()
	assert.Equal(t, before.StepIndex, st.StepIndex)
	assert.Equal(t, PhaseAsking, st.Phase)
	assert.NotContains(t, st.Answers, "step2Key")
	assert.Empty(t, st.Draft)

	added := st.Transcript[len(before.Transcript):]
	require.Len(t, added, 2)
	assert.Equal(t, Message{Speaker: SpeakerUser, Text: "idk"}, added[0])
	assert.Equal(t, Message{Speaker: SpeakerAssistant, Text: "What's your niche?"}, added[1])
}

func TestSubmit_EveryOptionRecordedVerbatim(t *testing.T) {
	for _, option := range []string{"A", "B"} {
		t.Run(option, func(t *testing.T) {
			v := &fakeValidator{}
			conv := newTestConversation(t, v, &fakePersister{})
			_, err := conv.Submit(context.Background(), option)
			require.NoError(t, err)
			assert.Equal(t, option, conv.Snapshot().Answers["step1Key"])
			assert.Equal(t, 0, v.callCount())
		})
	}
}

func TestSubmit_InputRejected(t *testing.T) {
	conv := newTestConversation(t, &fakeValidator{}, &fakePersister{})
	ctx := context.Background()
	before := conv.Snapshot()

	_, err := conv.Submit(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyAnswer)
	_, err = conv.Submit(ctx, "C")
	assert.ErrorIs(t, err, ErrInvalidOption)

	assert.Equal(t, before.Transcript, conv.Snapshot().Transcript)
	assert.Equal(t, 0, conv.Snapshot().StepIndex)
}

func TestSubmit_TrimsFreeText(t *testing.T) {
	conv := newTestConversation(t, &fakeValidator{}, &fakePersister{})
	ctx := context.Background()
	_, err := conv.Submit(ctx, "B")
	require.NoError(t, err)
	_, err = conv.Submit(ctx, "  vegan cooking \n")
	require.NoError(t, err)
	assert.Equal(t, "vegan cooking", conv.Snapshot().Answers["step2Key"])
}

func TestSubmit_EmptyValidatorResultIsAcknowledgment(t *testing.T) {
	v := (&fakeValidator{}).queue("", nil)
	conv := newTestConversation(t, v, &fakePersister{})
	ctx := context.Background()
	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)

	out, err := conv.Submit(ctx, "widgets")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)
	assert.Equal(t, PhaseComplete, conv.Snapshot().Phase)
}

func TestSubmit_ValidatorFailureIsRetryable(t *testing.T) {
	v := (&fakeValidator{}).
		queue("", errors.New("connection refused")).
		queue("What do you mean?", nil)
	conv := newTestConversation(t, v, &fakePersister{})
	ctx := context.Background()
	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)
	lenBefore := len(conv.Snapshot().Transcript)

	_, err = conv.Submit(ctx, "idk")
	var vErr *ValidatorError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "step2", vErr.StepID)

	st := conv.Snapshot()
	assert.Equal(t, PhaseAsking, st.Phase)
	assert.Equal(t, 1, st.StepIndex)
	assert.Equal(t, "idk", st.Draft, "answer is preserved for resubmission")
	assert.NotEmpty(t, st.LastError)
	assert.NotContains(t, st.Answers, "step2Key")

	out, err := conv.Submit(ctx, st.Draft)
	require.NoError(t, err)
	assert.Equal(t, OutcomeClarify, out, "retry yields the classification of a clean attempt")

	st = conv.Snapshot()
	assert.Empty(t, st.LastError)
	added := st.Transcript[lenBefore:]
	require.Len(t, added, 2, "retried answer is not echoed twice")
	assert.Equal(t, SpeakerUser, added[0].Speaker)
	assert.Equal(t, SpeakerAssistant, added[1].Speaker)
}

func TestSubmit_ValidatorTimeout(t *testing.T) {
	blocking := validatorFunc(func(ctx context.Context, q, a string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	conv := newTestConversation(t, blocking, &fakePersister{}, WithCallTimeout(20*time.Millisecond))
	ctx := context.Background()
	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)

	_, err = conv.Submit(ctx, "widgets")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, PhaseAsking, conv.Snapshot().Phase)
}

func TestSubmit_BusyWhileValidating(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	blocking := validatorFunc(func(ctx context.Context, q, a string) (string, error) {
		close(entered)
		<-release
		return "Nice!", nil
	})
	conv := newTestConversation(t, blocking, &fakePersister{})
	ctx := context.Background()
	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Submit(ctx, "widgets")
		done <- err
	}()
	<-entered

	assert.Equal(t, PhaseValidating, conv.Snapshot().Phase)
	_, err = conv.Submit(ctx, "other")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = conv.Save(ctx, "name")
	assert.ErrorIs(t, err, ErrWrongPhase)

	select {
	case <-conv.Settled():
		t.Fatal("conversation reported settled while validating")
	default:
	}

	close(release)
	require.NoError(t, <-done)
	<-conv.Settled()
	assert.Equal(t, PhaseComplete, conv.Snapshot().Phase)
}

func completedConversation(t *testing.T, p Persister) *Conversation {
	t.Helper()
	conv := newTestConversation(t, &fakeValidator{}, p)
	ctx := context.Background()
	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)
	_, err = conv.Submit(ctx, "widgets")
	require.NoError(t, err)
	require.Equal(t, PhaseComplete, conv.Snapshot().Phase)
	return conv
}

func TestScenario_NameCancelled(t *testing.T) {
	p := &fakePersister{}
	conv := completedConversation(t, p)
	before := conv.Snapshot()

	_, err := conv.Save(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNameCancelled)

	st := conv.Snapshot()
	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, before.Answers, st.Answers)
	assert.Empty(t, p.drafts, "no persistence call for a cancelled name")
}

func TestScenario_SaveRetryAfterPersistenceError(t *testing.T) {
	p := &fakePersister{errs: []error{errors.New("500 Internal Server Error")}}
	conv := completedConversation(t, p)
	ctx := context.Background()

	_, err := conv.Save(ctx, "My Blog")
	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, PhaseComplete, conv.Snapshot().Phase)

	id, err := conv.Save(ctx, "My Blog")
	require.NoError(t, err)
	assert.Equal(t, "profile-1", id)

	st := conv.Snapshot()
	assert.Equal(t, PhaseSaved, st.Phase)
	assert.Equal(t, "profile-1", st.ProfileID)

	_, err = conv.Save(ctx, "My Blog")
	assert.ErrorIs(t, err, ErrAlreadySaved)
	assert.Equal(t, 1, p.saved, "saved exactly once")
	require.Len(t, p.drafts, 2)
	assert.Equal(t, ProfileDraft{
		Answers:     map[string]string{"step1Key": "A", "step2Key": "widgets"},
		ProfileName: "My Blog",
	}, p.drafts[1])
}

func TestSave_WrongPhase(t *testing.T) {
	conv := newTestConversation(t, &fakeValidator{}, &fakePersister{})
	_, err := conv.Save(context.Background(), "name")
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestSubmit_AfterCompleteIsWrongPhase(t *testing.T) {
	conv := completedConversation(t, &fakePersister{})
	_, err := conv.Submit(context.Background(), "A")
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestPacing_ReplyPrecedesNextQuestion(t *testing.T) {
	timer := newManualTimer()
	conv := newTestConversation(t, &fakeValidator{}, &fakePersister{},
		WithTimer(timer), WithDelays(time.Second, 100*time.Millisecond))
	ctx := context.Background()

	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)

	st := conv.Snapshot()
	assert.True(t, st.Pending)
	assert.False(t, st.AcceptsInput())
	assert.Equal(t, 0, st.StepIndex)
	assert.Equal(t, "A is great!", st.Transcript[len(st.Transcript)-1].Text)
	assert.Equal(t, 1, timer.pending())

	_, err = conv.Submit(ctx, "widgets")
	assert.ErrorIs(t, err, ErrBusy, "input is disabled while the next question is pending")

	timer.fireAll()
	<-conv.Settled()
	st = conv.Snapshot()
	assert.False(t, st.Pending)
	assert.Equal(t, 1, st.StepIndex)
	texts := make([]string, 0, len(st.Transcript))
	for _, m := range st.Transcript {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"Pick one", "A", "A is great!", "What's your niche?"}, texts)
}

func TestPacing_NoReplyUsesShortDelay(t *testing.T) {
	var delays []time.Duration
	timer := timerFunc(func(d time.Duration, fn func()) (string, error) {
		delays = append(delays, d)
		go fn()
		return "x", nil
	})
	conv := newTestConversation(t, &fakeValidator{}, &fakePersister{},
		WithTimer(timer), WithDelays(time.Second, 100*time.Millisecond))
	ctx := context.Background()

	_, err := conv.Submit(ctx, "B") // no specific reply and no default
	require.NoError(t, err)
	<-conv.Settled()
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, delays)
	assert.Equal(t, 1, conv.Snapshot().StepIndex)
}

func TestRestart_CancelsPendingTimer(t *testing.T) {
	timer := newManualTimer()
	conv := newTestConversation(t, &fakeValidator{}, &fakePersister{},
		WithTimer(timer), WithDelays(time.Second, time.Second))
	ctx := context.Background()

	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)
	m := timer.fns["t1"]
	require.NotNil(t, m)

	require.NoError(t, conv.Restart())
	assert.Equal(t, []string{"t1"}, timer.cancelled)

	// A callback that had already escaped cancellation must not write.
	m()
	st := conv.Snapshot()
	assert.Equal(t, 0, st.StepIndex)
	assert.Len(t, st.Transcript, 1)
	assert.Empty(t, st.Answers)
	assert.True(t, st.AcceptsInput())
}

func TestRestart_DiscardsInFlightValidation(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	blocking := validatorFunc(func(ctx context.Context, q, a string) (string, error) {
		close(entered)
		<-release
		return "Nice!", nil
	})
	conv := newTestConversation(t, blocking, &fakePersister{})
	ctx := context.Background()
	_, err := conv.Submit(ctx, "A")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Submit(ctx, "widgets")
		done <- err
	}()
	<-entered
	require.NoError(t, conv.Restart())
	close(release)

	assert.ErrorIs(t, <-done, ErrConversationReset)
	st := conv.Snapshot()
	assert.Equal(t, 0, st.StepIndex)
	assert.Empty(t, st.Answers)
}

func TestAnswers_KeysMatchPassedStepsInOrder(t *testing.T) {
	catalog := DefaultCatalog()
	conv := NewConversation("full", catalog, &fakeValidator{}, &fakePersister{}, WithDelays(0, 0))
	defer conv.Close()
	ctx := context.Background()

	for i := 0; i < catalog.Len(); i++ {
		step, ok := conv.CurrentStep()
		require.True(t, ok)
		answer := "something real"
		if step.Kind == KindChoice {
			answer = step.Options[0]
		}
		_, err := conv.Submit(ctx, answer)
		require.NoError(t, err, "step %s", step.ID)

		st := conv.Snapshot()
		assert.Len(t, st.Answers, i+1)
		for _, key := range catalog.StorageKeys()[:i+1] {
			assert.Contains(t, st.Answers, key)
		}
	}
	assert.Equal(t, PhaseComplete, conv.Snapshot().Phase)
	_, ok := conv.CurrentStep()
	assert.False(t, ok)
}

func TestSuggestedProfileName(t *testing.T) {
	catalog := DefaultCatalog()
	conv := NewConversation("name", catalog, &fakeValidator{}, &fakePersister{}, WithDelays(0, 0))
	defer conv.Close()
	assert.Equal(t, "My Content Profile", conv.SuggestedProfileName())

	ctx := context.Background()
	_, err := conv.Submit(ctx, "SaaS / Product")
	require.NoError(t, err)
	_, err = conv.Submit(ctx, "B2B marketing software")
	require.NoError(t, err)
	assert.Equal(t, "B2B marketing software Project", conv.SuggestedProfileName())
}

func TestClassifyValidation(t *testing.T) {
	tests := map[string]Outcome{
		"Perfect!":                       OutcomeAccepted,
		"":                               OutcomeAccepted,
		"ok":                             OutcomeAccepted,
		"What topics interest you most?": OutcomeClarify,
		"Yes to what specifically?  \n":  OutcomeClarify,
		"Is it? Great!":                  OutcomeAccepted,
	}
	for in, want := range tests {
		assert.Equal(t, want, ClassifyValidation(in), "input %q", in)
	}
}

type validatorFunc func(ctx context.Context, question, answer string) (string, error)

func (f validatorFunc) Validate(ctx context.Context, question, answer string) (string, error) {
	return f(ctx, question, answer)
}

type timerFunc func(d time.Duration, fn func()) (string, error)

func (f timerFunc) ScheduleAfter(d time.Duration, fn func()) (string, error) { return f(d, fn) }
func (f timerFunc) Cancel(string) error                                      { return nil }
