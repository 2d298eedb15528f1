package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pavelanni/grader/internal/llm/prompts"
)

// GeminiClient scores answers with a Google Gemini model.
type GeminiClient struct {
	client  *genai.Client
	model   string
	variant prompts.PromptVariant
}

// NewGemini creates a Gemini-backed scorer.
func NewGemini(ctx context.Context, apiKey, modelName, promptVariant string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini API key is empty")
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client:  cl,
		model:   strings.TrimSpace(modelName),
		variant: variantOrDefault(promptVariant),
	}, nil
}

// Name returns the provider name.
func (g *GeminiClient) Name() string { return "gemini" }

// Ping fetches the model metadata.
func (g *GeminiClient) Ping(ctx context.Context) error {
	if _, err := g.client.GenerativeModel(g.model).Info(ctx); err != nil {
		return fmt.Errorf("gemini model info: %w", err)
	}
	return nil
}

// Close releases the underlying client connection.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// Score sends the grading prompt for one answer and returns the raw reply.
func (g *GeminiClient) Score(ctx context.Context, req ScoreRequest) (string, error) {
	prompt, err := prompts.BuildGradePrompt(g.variant, req.Question, req.Answer, req.MaxPoints)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	m := g.client.GenerativeModel(g.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0.1),
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	txt := firstText(resp)
	if txt == "" {
		return "", errors.New("gemini returned an empty response")
	}
	slog.Debug("LLM response", "raw", txt)
	return txt, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
