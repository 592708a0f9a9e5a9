// Package intake implements the onboarding conversation: the question catalog,
// the per-session conversation engine, and the registry that owns one
// conversation per signed-in user session.
package intake

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// AnswerKind defines how a step collects its answer.
type AnswerKind string

const (
	// KindChoice is answered by picking one of the listed options.
	KindChoice AnswerKind = "choice"
	// KindFreeText is answered by typing, and screened by the validator.
	KindFreeText AnswerKind = "freeText"
	// KindFreeTextWithSuggestions is free text with clickable prefill values.
	KindFreeTextWithSuggestions AnswerKind = "freeTextWithSuggestions"
)

// DefaultReplyKey is the Replies entry used when an answer has no specific reply.
const DefaultReplyKey = "default"

// IsFreeText reports whether answers of this kind go through the validator.
func (k AnswerKind) IsFreeText() bool {
	return k == KindFreeText || k == KindFreeTextWithSuggestions
}

// Catalog validation errors.
var (
	ErrEmptyCatalog         = errors.New("catalog has no steps")
	ErrEmptyStepID          = errors.New("step id cannot be empty")
	ErrDuplicateStepID      = errors.New("duplicate step id")
	ErrEmptyPrompt          = errors.New("step prompt cannot be empty")
	ErrEmptyStorageKey      = errors.New("step storage key cannot be empty")
	ErrDuplicateStorageKey  = errors.New("duplicate storage key")
	ErrInvalidAnswerKind    = errors.New("invalid answer kind")
	ErrMissingOptions       = errors.New("choice step requires options")
	ErrUnexpectedOptions    = errors.New("options are only allowed on choice steps")
	ErrUnexpectedSuggestion = errors.New("suggestions are only allowed on freeTextWithSuggestions steps")
)

// QuestionStep is one entry of the catalog.
type QuestionStep struct {
	ID          string            `yaml:"id" json:"id"`
	Prompt      string            `yaml:"prompt" json:"prompt"`
	Kind        AnswerKind        `yaml:"kind" json:"kind"`
	Options     []string          `yaml:"options,omitempty" json:"options,omitempty"`
	Suggestions []string          `yaml:"suggestions,omitempty" json:"suggestions,omitempty"`
	StorageKey  string            `yaml:"storageKey" json:"storageKey"`
	Replies     map[string]string `yaml:"replies,omitempty" json:"-"`
}

// ReplyFor returns the personalized reply for an answer: the exact match
// first, then the default entry.
func (s QuestionStep) ReplyFor(answer string) (string, bool) {
	if reply, ok := s.Replies[answer]; ok {
		return reply, true
	}
	if reply, ok := s.Replies[DefaultReplyKey]; ok {
		return reply, true
	}
	return "", false
}

// HasOption reports whether answer is one of the step's options verbatim.
func (s QuestionStep) HasOption(answer string) bool {
	return slices.Contains(s.Options, answer)
}

func (s QuestionStep) clone() QuestionStep {
	s.Options = slices.Clone(s.Options)
	s.Suggestions = slices.Clone(s.Suggestions)
	s.Replies = maps.Clone(s.Replies)
	return s
}

// Catalog is an ordered, immutable list of question steps.
type Catalog struct {
	steps []QuestionStep
}

type catalogFile struct {
	Steps []QuestionStep `yaml:"steps"`
}

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// NewCatalog validates the steps and returns a catalog holding a private copy.
func NewCatalog(steps []QuestionStep) (*Catalog, error) {
	c := &Catalog{steps: make([]QuestionStep, 0, len(steps))}
	for _, s := range steps {
		c.steps = append(c.steps, s.clone())
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseCatalog parses a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewCatalog(f.Steps)
}

// LoadCatalogFile reads and validates a YAML catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("LoadCatalogFile: failed to read catalog", "path", path, "error", err)
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		slog.Error("LoadCatalogFile: invalid catalog", "path", path, "error", err)
		return nil, err
	}
	slog.Debug("LoadCatalogFile: catalog loaded", "path", path, "steps", c.Len())
	return c, nil
}

// DefaultCatalog returns the built-in content-profile catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Validate checks the structural invariants of the catalog.
func (c *Catalog) Validate() error {
	if len(c.steps) == 0 {
		return ErrEmptyCatalog
	}
	ids := make(map[string]bool, len(c.steps))
	keys := make(map[string]bool, len(c.steps))
	for i, s := range c.steps {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("step %d: %w", i, ErrEmptyStepID)
		}
		if ids[s.ID] {
			return fmt.Errorf("step %q: %w", s.ID, ErrDuplicateStepID)
		}
		ids[s.ID] = true
		if strings.TrimSpace(s.Prompt) == "" {
			return fmt.Errorf("step %q: %w", s.ID, ErrEmptyPrompt)
		}
		if strings.TrimSpace(s.StorageKey) == "" {
			return fmt.Errorf("step %q: %w", s.ID, ErrEmptyStorageKey)
		}
		if keys[s.StorageKey] {
			return fmt.Errorf("step %q: %w: %s", s.ID, ErrDuplicateStorageKey, s.StorageKey)
		}
		keys[s.StorageKey] = true

		switch s.Kind {
		case KindChoice:
			if len(s.Options) == 0 {
				return fmt.Errorf("step %q: %w", s.ID, ErrMissingOptions)
			}
		case KindFreeText, KindFreeTextWithSuggestions:
			if len(s.Options) > 0 {
				return fmt.Errorf("step %q: %w", s.ID, ErrUnexpectedOptions)
			}
		default:
			return fmt.Errorf("step %q: %w: %q", s.ID, ErrInvalidAnswerKind, s.Kind)
		}
		if len(s.Suggestions) > 0 && s.Kind != KindFreeTextWithSuggestions {
			return fmt.Errorf("step %q: %w", s.ID, ErrUnexpectedSuggestion)
		}
	}
	return nil
}

// Len returns the number of steps.
func (c *Catalog) Len() int {
	return len(c.steps)
}

// Step returns a copy of the step at index i.
func (c *Catalog) Step(i int) (QuestionStep, bool) {
	if i < 0 || i >= len(c.steps) {
		return QuestionStep{}, false
	}
	return c.steps[i].clone(), true
}

// Steps returns a copy of all steps in presentation order.
func (c *Catalog) Steps() []QuestionStep {
	out := make([]QuestionStep, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.clone()
	}
	return out
}

// StorageKeys returns the storage keys in catalog order.
func (c *Catalog) StorageKeys() []string {
	keys := make([]string, len(c.steps))
	for i, s := range c.steps {
		keys[i] = s.StorageKey
	}
	return keys
}
