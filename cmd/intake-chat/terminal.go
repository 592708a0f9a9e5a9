package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/contentpilot/intake/internal/intake"
	"github.com/contentpilot/intake/internal/models"
	"github.com/contentpilot/intake/internal/remote"
)

var errQuit = errors.New("intake abandoned")

const (
	cmdQuit    = "/quit"
	cmdRestart = "/restart"
	cmdCancel  = "/cancel"
)

// styles render as plain text when out is not a terminal.
type styles struct {
	bot    lipgloss.Style
	user   lipgloss.Style
	notice lipgloss.Style
	hint   lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		bot:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		user:   r.NewStyle().Foreground(lipgloss.Color("8")),
		notice: r.NewStyle().Foreground(lipgloss.Color("9")),
		hint:   r.NewStyle().Faint(true),
	}
}

// terminal renders a conversation as a line-oriented chat.
type terminal struct {
	conv    *intake.Conversation
	lines   <-chan string
	out     io.Writer
	styles  styles
	printed int
}

func newTerminal(conv *intake.Conversation, in io.Reader, out io.Writer) *terminal {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return &terminal{conv: conv, lines: lines, out: out, styles: newStyles(out)}
}

// run drives the conversation until the profile is saved and returns its id.
func (t *terminal) run(ctx context.Context) (string, error) {
	fmt.Fprintf(t.out, "Answer each question. Type %s to start over or %s to leave.\n\n", cmdRestart, cmdQuit)
	for {
		select {
		case <-t.conv.Settled():
		case <-ctx.Done():
			return "", ctx.Err()
		}
		st := t.conv.Snapshot()
		t.printTranscript(st)

		var err error
		switch st.Phase {
		case intake.PhaseSaved:
			fmt.Fprintf(t.out, "\nProfile saved: %s\n", st.ProfileID)
			return st.ProfileID, nil
		case intake.PhaseComplete:
			err = t.askName(ctx, st)
		case intake.PhaseAsking:
			err = t.askAnswer(ctx, st)
		}
		if err != nil {
			return "", err
		}
	}
}

func (t *terminal) printTranscript(st intake.ConversationState) {
	if len(st.Transcript) < t.printed {
		t.printed = 0
		fmt.Fprintln(t.out, "\n--- starting over ---")
	}
	for _, m := range st.Transcript[t.printed:] {
		if m.Speaker == intake.SpeakerUser {
			fmt.Fprintf(t.out, "  %s %s\n", t.styles.user.Render("you:"), m.Text)
			continue
		}
		fmt.Fprintf(t.out, "%s %s\n", t.styles.bot.Render("bot:"), m.Text)
	}
	t.printed = len(st.Transcript)
}

func (t *terminal) askAnswer(ctx context.Context, st intake.ConversationState) error {
	step, ok := t.conv.CurrentStep()
	if !ok {
		return fmt.Errorf("conversation has no current step")
	}
	if st.LastError != "" {
		t.notice(st.LastError)
		if st.Draft != "" {
			fmt.Fprintln(t.out, t.styles.hint.Render("  (press Enter to resend your answer)"))
		}
	}
	switch step.Kind {
	case intake.KindChoice:
		printNumbered(t.out, step.Options)
	case intake.KindFreeTextWithSuggestions:
		fmt.Fprintln(t.out, t.styles.hint.Render("  suggestions:"))
		printNumbered(t.out, step.Suggestions)
	}

	line, err := t.readLine(ctx, "> ")
	if err != nil {
		return err
	}
	switch line {
	case cmdQuit:
		return errQuit
	case cmdRestart:
		return t.restart()
	}

	answer := resolveAnswer(step, line)
	if answer == "" && st.Draft != "" {
		answer = st.Draft
	}
	if answer == "" {
		t.notice("Please type an answer.")
		return nil
	}

	_, err = t.conv.Submit(ctx, answer)
	var verr *intake.ValidatorError
	switch {
	case errors.Is(err, remote.ErrUnauthenticated):
		return err
	case err == nil, errors.As(err, &verr):
		// The transcript and LastError carry the result.
		return nil
	case errors.Is(err, intake.ErrInvalidOption):
		t.notice("Pick one of the numbered options.")
		return nil
	case errors.Is(err, intake.ErrEmptyAnswer):
		t.notice("Please type an answer.")
		return nil
	default:
		return err
	}
}

func (t *terminal) askName(ctx context.Context, st intake.ConversationState) error {
	if st.LastError != "" {
		t.notice(st.LastError)
	}
	suggested := t.conv.SuggestedProfileName()
	line, err := t.readLine(ctx, fmt.Sprintf("Name this profile [%s] (%s to skip): ", suggested, cmdCancel))
	if err != nil {
		return err
	}
	name := line
	switch line {
	case cmdQuit:
		return errQuit
	case cmdRestart:
		return t.restart()
	case "":
		name = suggested
	case cmdCancel:
		name = ""
	}

	_, err = t.conv.Save(ctx, name)
	var perr *intake.PersistenceError
	switch {
	case errors.Is(err, remote.ErrUnauthenticated):
		return err
	case err == nil, errors.As(err, &perr):
		return nil
	case errors.Is(err, intake.ErrNameCancelled):
		fmt.Fprintln(t.out, "Profile not saved. Enter a name whenever you are ready.")
		return nil
	default:
		return err
	}
}

func (t *terminal) restart() error {
	if err := t.conv.Restart(); err != nil {
		t.notice(fmt.Sprintf("Cannot start over right now: %v", err))
	}
	return nil
}

func (t *terminal) notice(msg string) {
	fmt.Fprintln(t.out, t.styles.notice.Render("! "+msg))
}

func (t *terminal) readLine(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	select {
	case line, ok := <-t.lines:
		if !ok {
			fmt.Fprintln(t.out)
			return "", errQuit
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// resolveAnswer maps a 1-based option or suggestion number to its text.
func resolveAnswer(step intake.QuestionStep, line string) string {
	choices := step.Options
	if step.Kind == intake.KindFreeTextWithSuggestions {
		choices = step.Suggestions
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(choices) {
		return choices[n-1]
	}
	return line
}

func printNumbered(w io.Writer, items []string) {
	for i, item := range items {
		fmt.Fprintf(w, "  %d) %s\n", i+1, item)
	}
}

func printProfiles(w io.Writer, profiles []models.Profile) {
	if len(profiles) == 0 {
		fmt.Fprintln(w, "No profiles yet.")
		return
	}
	for _, p := range profiles {
		marker := " "
		if p.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %s  (%s, %s)\n", marker, p.ID, p.Name, p.Niche, p.Language)
	}
}
