package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/contentpilot/intake/internal/intake"
	"github.com/contentpilot/intake/internal/remote"
)

type scriptedValidator struct {
	replies []string
	errs    []error
	calls   []string
}

func (v *scriptedValidator) Validate(ctx context.Context, question, answer string) (string, error) {
	v.calls = append(v.calls, answer)
	if len(v.errs) > 0 {
		err := v.errs[0]
		v.errs = v.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(v.replies) == 0 {
		return "Got it!", nil
	}
	r := v.replies[0]
	v.replies = v.replies[1:]
	return r, nil
}

type recordingPersister struct {
	drafts []intake.ProfileDraft
}

func (p *recordingPersister) SaveProfile(ctx context.Context, draft intake.ProfileDraft) (string, error) {
	p.drafts = append(p.drafts, draft)
	return "profile-1", nil
}

func chatCatalog(t *testing.T) *intake.Catalog {
	t.Helper()
	catalog, err := intake.NewCatalog([]intake.QuestionStep{
		{ID: "kind", Prompt: "Pick one", Kind: intake.KindChoice, Options: []string{"Blog", "Shop"}, StorageKey: "projectType"},
		{ID: "niche", Prompt: "What's your niche?", Kind: intake.KindFreeText, StorageKey: "niche"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return catalog
}

func runScript(t *testing.T, v intake.Validator, p intake.Persister, script string) (string, string, error) {
	t.Helper()
	conv := intake.NewConversation("chat-1", chatCatalog(t), v, p, intake.WithDelays(0, 0))
	defer conv.Close()

	var out bytes.Buffer
	term := newTerminal(conv, strings.NewReader(script), &out)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := term.run(ctx)
	return id, out.String(), err
}

func TestTerminalFullIntake(t *testing.T) {
	v := &scriptedValidator{replies: []string{"Could you be more specific?", "Love it!"}}
	p := &recordingPersister{}

	script := strings.Join([]string{"", "9", "1", "food", "Vegan cooking", ""}, "\n") + "\n"
	id, out, err := runScript(t, v, p, script)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if id != "profile-1" {
		t.Errorf("expected profile-1, got %q", id)
	}

	for _, want := range []string{
		"1) Blog",
		"! Please type an answer.",
		"! Pick one of the numbered options.",
		"  you: Blog",
		"bot: Could you be more specific?",
		"Name this profile [Vegan cooking Project]",
		"Profile saved: profile-1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if len(v.calls) != 2 {
		t.Errorf("validator should only see free text, got %v", v.calls)
	}
	if len(p.drafts) != 1 {
		t.Fatalf("expected one save, got %d", len(p.drafts))
	}
	d := p.drafts[0]
	if d.ProfileName != "Vegan cooking Project" || d.Answers["projectType"] != "Blog" || d.Answers["niche"] != "Vegan cooking" {
		t.Errorf("unexpected draft %+v", d)
	}
}

func TestTerminalResendsDraftAfterValidatorFailure(t *testing.T) {
	v := &scriptedValidator{errs: []error{errors.New("upstream down")}}
	p := &recordingPersister{}

	script := strings.Join([]string{"2", "Vegan cooking", "", "My Plan"}, "\n") + "\n"
	_, out, err := runScript(t, v, p, script)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "press Enter to resend") {
		t.Errorf("expected resend hint:\n%s", out)
	}
	if len(v.calls) != 2 || v.calls[1] != "Vegan cooking" {
		t.Errorf("expected the draft to be resent, got %v", v.calls)
	}
	if strings.Count(out, "you: Vegan cooking") != 1 {
		t.Errorf("retry should not duplicate the transcript entry:\n%s", out)
	}
	if p.drafts[0].ProfileName != "My Plan" {
		t.Errorf("expected typed name, got %q", p.drafts[0].ProfileName)
	}
}

func TestTerminalCancelNameThenSave(t *testing.T) {
	p := &recordingPersister{}
	script := strings.Join([]string{"1", "Vegan cooking", cmdCancel, "Later Name"}, "\n") + "\n"
	_, out, err := runScript(t, &scriptedValidator{}, p, script)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Profile not saved.") {
		t.Errorf("expected cancel notice:\n%s", out)
	}
	if len(p.drafts) != 1 || p.drafts[0].ProfileName != "Later Name" {
		t.Errorf("unexpected drafts %+v", p.drafts)
	}
}

func TestTerminalRestartAndQuit(t *testing.T) {
	p := &recordingPersister{}
	script := strings.Join([]string{"1", cmdRestart, cmdQuit}, "\n") + "\n"
	_, out, err := runScript(t, &scriptedValidator{}, p, script)
	if !errors.Is(err, errQuit) {
		t.Fatalf("expected errQuit, got %v", err)
	}
	if !strings.Contains(out, "--- starting over ---") {
		t.Errorf("expected restart marker:\n%s", out)
	}
	if len(p.drafts) != 0 {
		t.Error("nothing should be saved")
	}
}

func TestTerminalEOFQuits(t *testing.T) {
	_, _, err := runScript(t, &scriptedValidator{}, &recordingPersister{}, "1\n")
	if !errors.Is(err, errQuit) {
		t.Fatalf("expected errQuit at end of input, got %v", err)
	}
}

func TestResolveAnswer(t *testing.T) {
	choice := intake.QuestionStep{Kind: intake.KindChoice, Options: []string{"A", "B"}}
	suggest := intake.QuestionStep{Kind: intake.KindFreeTextWithSuggestions, Suggestions: []string{"Parents"}}
	free := intake.QuestionStep{Kind: intake.KindFreeText}

	cases := []struct {
		step intake.QuestionStep
		in   string
		want string
	}{
		{choice, "2", "B"},
		{choice, "3", "3"},
		{choice, "B", "B"},
		{suggest, "1", "Parents"},
		{suggest, "Teachers", "Teachers"},
		{free, "1", "1"},
	}
	for _, tc := range cases {
		if got := resolveAnswer(tc.step, tc.in); got != tc.want {
			t.Errorf("resolveAnswer(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTerminalStopsWhenSignedOut(t *testing.T) {
	v := &scriptedValidator{errs: []error{remote.ErrUnauthenticated}}
	_, _, err := runScript(t, v, &recordingPersister{}, "1\nVegan cooking\n")
	if !errors.Is(err, remote.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
