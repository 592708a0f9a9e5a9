// Package validator screens free-text intake answers with an OpenAI-compatible
// chat completion endpoint. The default configuration targets Groq;
// GeminiClient talks to Google's Gemini API instead.
package validator

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults for the validator model call.
const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama3-8b-8192"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 50
)

var (
	// ErrMissingInput is returned when the question or the answer is empty.
	ErrMissingInput = errors.New("missing question or answer")
	// ErrMissingAPIKey is returned by New when no API key is configured.
	ErrMissingAPIKey = errors.New("validator API key not set")
)

//go:embed prompt.txt
var defaultSystemPrompt string

// DefaultSystemPrompt returns the built-in instructions that make the model
// answer with a short acknowledgment or a clarifying question.
func DefaultSystemPrompt() string {
	return defaultSystemPrompt
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds validator configuration.
type Opts struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float64
	MaxTokens        int64
	SystemPrompt     string
	SystemPromptFile string
}

// Option defines a configuration option for the validator.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithSystemPrompt replaces the built-in system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) {
		o.SystemPrompt = prompt
	}
}

// WithSystemPromptFile loads the system prompt from a file when the client is created.
func WithSystemPromptFile(path string) Option {
	return func(o *Opts) {
		o.SystemPromptFile = path
	}
}

// Client validates answers through a chat completion model.
type Client struct {
	chat         chatService
	model        string
	temperature  float64
	maxTokens    int64
	systemPrompt string
}

// New creates a validator client.
func New(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	systemPrompt, err := resolveSystemPrompt(cfg)
	if err != nil {
		return nil, err
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey), option.WithBaseURL(cfg.BaseURL))
	slog.Debug("validator.New: client created", "baseURL", cfg.BaseURL, "model", cfg.Model)
	return newWithService(&cli.Chat.Completions, cfg, systemPrompt), nil
}

func newWithService(chat chatService, cfg Opts, systemPrompt string) *Client {
	return &Client{
		chat:         chat,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: systemPrompt,
	}
}

func resolveSystemPrompt(cfg Opts) (string, error) {
	if cfg.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read system prompt file %s: %w", cfg.SystemPromptFile, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("system prompt file %s is empty", cfg.SystemPromptFile)
		}
		return string(data), nil
	}
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt, nil
	}
	return defaultSystemPrompt, nil
}

// UserPrompt formats the question and answer for the model.
func UserPrompt(question, answer string) string {
	return fmt.Sprintf(`The user was asked: "%s". They answered: "%s".`, question, answer)
}

// Validate asks the model to screen answer. The result is either a short
// acknowledgment or a clarifying question; an empty model reply yields "".
func (c *Client) Validate(ctx context.Context, question, answer string) (string, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return "", ErrMissingInput
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt),
			openai.UserMessage(UserPrompt(question, answer)),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("Client.Validate: chat completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("validator request failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		slog.Warn("Client.Validate: no choices returned", "model", c.model)
		return "", nil
	}
	result := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("Client.Validate: answer screened", "resultLength", len(result))
	return result, nil
}
