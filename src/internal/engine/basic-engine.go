package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/llm"

	"github.com/sashabaranov/go-openai"
)

// BasicEngine asks an OpenAI-compatible chat completion endpoint for the
// record using strict structured output, trying the primary model and then
// the fallbacks.
type BasicEngine struct {
	cfg *config.Config
}

func NewBasicEngine(cfg *config.Config) *BasicEngine {
	return &BasicEngine{cfg: cfg}
}

func (b *BasicEngine) Generate(ctx context.Context, substance string) ([]byte, *llm.Usage, error) {
	models := llm.Candidates(b.cfg.Generation.Model)
	if len(models) == 0 {
		return nil, nil, fmt.Errorf("no generation model configured")
	}

	var lastErr error
	for _, model := range models {
		target, err := llm.Resolve(b.cfg, model)
		if err != nil {
			lastErr = err
			slog.Warn("skipping model", "model", model, "error", err)
			continue
		}
		slog.Debug("attempting LLM", "model", model, "substance", substance)
		data, usage, err := b.complete(ctx, target, substance)
		if err == nil {
			slog.Info("LLM success", "model", model, "substance", substance)
			return data, usage, nil
		}
		lastErr = fmt.Errorf("model %s failed: %w", model, err)
		slog.Warn("LLM failed", "model", model, "substance", substance, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	if errors.Is(lastErr, ErrMissingAPIKey) {
		return nil, nil, lastErr
	}
	return nil, nil, fmt.Errorf("all models failed: %w", lastErr)
}

func (b *BasicEngine) complete(ctx context.Context, target llm.Target, substance string) ([]byte, *llm.Usage, error) {
	client := llm.NewClient(target)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: target.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(b.cfg.Generation.Language)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(substance)},
		},
		Temperature: b.cfg.Generation.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "molecule_record",
				Schema: RecordSchema(),
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("no choices returned from %s", target.Provider)
	}
	data, err := extractJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, nil, err
	}
	usage := llm.FromOpenAI(resp.Usage)
	return data, &usage, nil
}
