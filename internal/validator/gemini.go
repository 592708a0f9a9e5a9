package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used by NewGemini unless WithModel overrides it.
const DefaultGeminiModel = "gemini-2.0-flash"

// contentGenerator is the slice of genai.Models the validator needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient validates answers with Google's Gemini API. It sends the same
// prompts as Client.
type GeminiClient struct {
	models       contentGenerator
	model        string
	temperature  float64
	maxTokens    int64
	systemPrompt string
}

// NewGemini creates a Gemini-backed validator. WithBaseURL is ignored.
func NewGemini(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := Opts{
		Model:       DefaultGeminiModel,
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

	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	slog.Debug("validator.NewGemini: client created", "model", cfg.Model)
	return newGeminiWithModels(cli.Models, cfg, systemPrompt), nil
}

func newGeminiWithModels(models contentGenerator, cfg Opts, systemPrompt string) *GeminiClient {
	return &GeminiClient{
		models:       models,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: systemPrompt,
	}
}

// Validate behaves like Client.Validate.
func (c *GeminiClient) Validate(ctx context.Context, question, answer string) (string, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return "", ErrMissingInput
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(c.systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(c.temperature)),
		MaxOutputTokens:   int32(c.maxTokens),
	}
	contents := []*genai.Content{genai.NewContentFromText(UserPrompt(question, answer), genai.RoleUser)}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		slog.Error("GeminiClient.Validate: generate content failed", "model", c.model, "error", err)
		return "", fmt.Errorf("validator request failed: %w", err)
	}
	result := strings.TrimSpace(responseText(resp))
	slog.Debug("GeminiClient.Validate: answer screened", "resultLength", len(result))
	return result, nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
