package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/model"
)

// GeminiClient generates and grades through the Gemini API.
type GeminiClient struct {
	client     *genai.Client
	model      string
	embedModel string
	attempts   int
}

const defaultGeminiEmbeddingModel = "text-embedding-004"

// NewGemini creates a Gemini-backed client. Call Close when done.
func NewGemini(ctx context.Context, apiKey, modelName string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini: API key is empty")
	}
	if err := prompts.Load(); err != nil {
		return nil, err
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{
		client:     cl,
		model:      strings.TrimSpace(modelName),
		embedModel: defaultGeminiEmbeddingModel,
		attempts:   3,
	}, nil
}

// SetEmbeddingModel selects the model used by Embed. An empty name keeps
// the current one.
func (g *GeminiClient) SetEmbeddingModel(name string) {
	if name = strings.TrimSpace(name); name != "" {
		g.embedModel = name
	}
}

// Close releases the underlying connection.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func (g *GeminiClient) completeJSON(ctx context.Context, prompt string, temperature float32) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(temperature),
		ResponseMIMEType: "application/json",
	}

	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		resp, err := m.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = err
			slog.Warn("gemini call failed", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			return "", errors.New("gemini: empty response")
		}
		slog.Debug("gemini response", "raw", txt)
		return txt, nil
	}
	return "", fmt.Errorf("gemini: %w", lastErr)
}

// Generate implements Generator.
func (g *GeminiClient) Generate(ctx context.Context, req GenerateRequest) ([]model.Question, error) {
	prompt, err := prompts.BuildGeneratePrompt(req.Kind, req.Topic, req.Count, req.Document)
	if err != nil {
		return nil, err
	}
	raw, err := g.completeJSON(ctx, prompt, 0.7)
	if err != nil {
		return nil, err
	}
	return parseQuestions(raw, req.Kind)
}

// Grade implements judge.Grader.
func (g *GeminiClient) Grade(ctx context.Context, kind model.Kind, topic string, items []grading.JudgeItem) ([]grading.JudgeVerdict, error) {
	prompt, err := prompts.BuildJudgePrompt(kind, topic, items)
	if err != nil {
		return nil, err
	}
	raw, err := g.completeJSON(ctx, prompt, 0)
	if err != nil {
		return nil, err
	}
	return parseVerdicts(raw, len(items))
}

// Embed implements Embedder.
func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := g.client.EmbeddingModel(g.embedModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embeddings: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e != nil {
			out[i] = e.Values
		}
	}
	return out, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
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
