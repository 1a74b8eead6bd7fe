package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/llm"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// newSlogHandler creates a callback handler that logs component execution to slog.
func newSlogHandler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			slog.Debug("eino component start", "name", info.Name, "type", info.Type, "component", info.Component)
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			slog.Debug("eino component end", "name", info.Name, "type", info.Type, "component", info.Component)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			slog.Error("eino component error", "name", info.Name, "type", info.Type, "component", info.Component, "error", err)
			return ctx
		}).
		Build()
}

type genOutput struct {
	JSON  []byte
	Usage *llm.Usage
}

type einoPipeline struct {
	model    string
	runnable compose.Runnable[string, *genOutput]
}

// EinoEngine runs generation as an eino chain: prompt, chat model, JSON
// extraction. The schema travels in the prompt, so any OpenAI-compatible
// model works.
type EinoEngine struct {
	pipelines []einoPipeline
	skipped   error
}

func NewEinoEngine(cfg *config.Config) (*EinoEngine, error) {
	ee := &EinoEngine{}
	timeout := cfg.Generation.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	temperature := cfg.Generation.Temperature

	for _, name := range llm.Candidates(cfg.Generation.Model) {
		target, err := llm.Resolve(cfg, name)
		if err != nil {
			slog.Warn("skipping model", "model", name, "error", err)
			ee.skipped = err
			continue
		}
		cm, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL:     target.BaseURL,
			APIKey:      target.APIKey,
			Model:       target.Model,
			Timeout:     timeout,
			Temperature: &temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("create chat model %s: %w", name, err)
		}

		chain := compose.NewChain[string, *genOutput]()
		chain.AppendLambda(compose.InvokableLambda(func(ctx context.Context, substance string) ([]*schema.Message, error) {
			return []*schema.Message{
				schema.SystemMessage(systemPrompt(cfg.Generation.Language) + "\n\n" + schemaPrompt()),
				schema.UserMessage(userPrompt(substance)),
			}, nil
		}), compose.WithNodeName("prompt"))
		chain.AppendChatModel(cm, compose.WithNodeName("chat"))
		chain.AppendLambda(compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (*genOutput, error) {
			data, err := extractJSON(msg.Content)
			if err != nil {
				return nil, err
			}
			out := &genOutput{JSON: data}
			if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
				out.Usage = &llm.Usage{
					PromptTokens:     msg.ResponseMeta.Usage.PromptTokens,
					CompletionTokens: msg.ResponseMeta.Usage.CompletionTokens,
					TotalTokens:      msg.ResponseMeta.Usage.TotalTokens,
				}
			}
			return out, nil
		}), compose.WithNodeName("extract"))

		runnable, err := chain.Compile(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to compile chain: %w", err)
		}
		ee.pipelines = append(ee.pipelines, einoPipeline{model: name, runnable: runnable})
	}
	return ee, nil
}

func (e *EinoEngine) Generate(ctx context.Context, substance string) ([]byte, *llm.Usage, error) {
	if len(e.pipelines) == 0 {
		if e.skipped != nil {
			return nil, nil, e.skipped
		}
		return nil, nil, fmt.Errorf("no generation model configured")
	}

	var lastErr error
	for _, p := range e.pipelines {
		out, err := p.runnable.Invoke(ctx, substance, compose.WithCallbacks(newSlogHandler()))
		if err == nil {
			slog.Info("LLM success", "model", p.model, "substance", substance)
			return out.JSON, out.Usage, nil
		}
		lastErr = fmt.Errorf("model %s failed: %w", p.model, err)
		slog.Warn("LLM failed", "model", p.model, "substance", substance, "error", err)
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			break
		}
	}
	return nil, nil, fmt.Errorf("all models failed: %w", lastErr)
}
