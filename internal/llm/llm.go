// Package llm talks to language models for the two jobs the assessor
// delegates: generating question sets and judging subjective answers.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/assessor/internal/grading"
	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/model"
)

// GenerateRequest asks for a question set.
type GenerateRequest struct {
	Topic    string
	Kind     model.Kind
	Count    int
	Document string // optional source material
}

// Generator produces question sets.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]model.Question, error)
}

// Embedder turns texts into vectors for document retrieval.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const defaultEmbeddingModel = "text-embedding-3-small"

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api        *openai.Client
	model      string
	embedModel string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) (*Client, error) {
	if err := prompts.Load(); err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		model:      modelName,
		embedModel: defaultEmbeddingModel,
	}, nil
}

// SetEmbeddingModel selects the model used by Embed. An empty name keeps
// the current one.
func (c *Client) SetEmbeddingModel(name string) {
	if name = strings.TrimSpace(name); name != "" {
		c.embedModel = name
	}
}

// Ping checks that the endpoint answers and knows the model.
func (c *Client) Ping(ctx context.Context) error {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range list.Models {
		if m.ID == c.model || strings.TrimSuffix(m.ID, ":latest") == c.model {
			return nil
		}
	}
	slog.Warn("model not listed by endpoint", "model", c.model, "available", len(list.Models))
	return nil
}

func (c *Client) completeJSON(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
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

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]model.Question, error) {
	prompt, err := prompts.BuildGeneratePrompt(req.Kind, req.Topic, req.Count, req.Document)
	if err != nil {
		return nil, err
	}
	raw, err := c.completeJSON(ctx, prompt, 0.7)
	if err != nil {
		return nil, err
	}
	return parseQuestions(raw, req.Kind)
}

// Grade judges a batch of subjective answers. It implements judge.Grader.
func (c *Client) Grade(ctx context.Context, kind model.Kind, topic string, items []grading.JudgeItem) ([]grading.JudgeVerdict, error) {
	prompt, err := prompts.BuildJudgePrompt(kind, topic, items)
	if err != nil {
		return nil, err
	}
	raw, err := c.completeJSON(ctx, prompt, 0.1)
	if err != nil {
		return nil, err
	}
	return parseVerdicts(raw, len(items))
}

// Embed implements Embedder.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings API call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
