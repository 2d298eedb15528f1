package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/grader/internal/llm/prompts"
)

var scoreRegex = regexp.MustCompile(`Score:\s*(\d+(\.\d+)?)\s*out\s*of\s*(\d+)`)

// ScoreRequest is one answer sent for scoring.
type ScoreRequest struct {
	Question  string
	Answer    string
	MaxPoints int
}

// Scorer asks a language model to score an answer and returns its reply text.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (string, error)
}

// Service is a Scorer backed by a remote endpoint.
type Service interface {
	Scorer
	Name() string
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a scoring provider.
type Config struct {
	Provider      string // "openai" or "gemini"
	BaseURL       string
	APIKey        string
	Model         string
	PromptVariant string
}

// NewService creates the scoring service named by cfg.Provider.
func NewService(ctx context.Context, cfg Config) (Service, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return New(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.PromptVariant)
	case "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.PromptVariant)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (use openai or gemini)", cfg.Provider)
	}
}

// ParseScore extracts X from a "Score: X out of N" reply.
func ParseScore(reply string) (float64, bool) {
	m := scoreRegex.FindStringSubmatch(reply)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName, promptVariant string) (*Client, error) {
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variantOrDefault(promptVariant),
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string { return "openai" }

// Ping checks that the endpoint answers by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no resources.
func (c *Client) Close() error { return nil }

// Score sends the grading prompt for one answer and returns the raw reply.
func (c *Client) Score(ctx context.Context, req ScoreRequest) (string, error) {
	prompt, err := prompts.BuildGradePrompt(c.variant, req.Question, req.Answer, req.MaxPoints)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}

func variantOrDefault(v string) prompts.PromptVariant {
	v = strings.ToLower(strings.TrimSpace(v))
	if !prompts.IsValidVariant(v) {
		return prompts.PromptStandard
	}
	return prompts.PromptVariant(v)
}
