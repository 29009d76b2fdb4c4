package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/swamp-dev/sqlquest/internal/evaluation"
)

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAI analyzes files with a Gemini model.
type GenAI struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// GenAIOptions configures NewGenAI.
type GenAIOptions struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGenAI creates a Gemini-backed analyzer.
func NewGenAI(ctx context.Context, opts GenAIOptions, logger *slog.Logger) (*GenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}

	return newGenAI(client.Models, opts.Model, opts.Timeout, logger), nil
}

func newGenAI(models contentGenerator, model string, timeout time.Duration, logger *slog.Logger) *GenAI {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenAI{models: models, model: model, timeout: timeout, logger: logger}
}

// Analyze sends the prompt and parses the JSON reply.
func (g *GenAI) Analyze(ctx context.Context, req Request) (*evaluation.Analysis, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.2),
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(req)), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evaluation.ErrAnalysis, err)
	}
	g.logger.Debug("analysis response", "file", req.File.Key(), "model", g.model, "duration", time.Since(start))

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: empty response from %s", evaluation.ErrAnalysis, g.model)
	}
	return parseAnalysis(text, g.model)
}
