package engine

import (
	"context"
	"fmt"

	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/llm"
)

// ErrMissingAPIKey is returned when no candidate model has a usable key.
var ErrMissingAPIKey = llm.ErrMissingAPIKey

// Engine is a pluggable content provider. Generate returns the raw JSON of a
// molecule record for the named substance; decoding and validation are the
// caller's job. Usage is nil when the provider does not report it.
type Engine interface {
	Generate(ctx context.Context, substance string) ([]byte, *llm.Usage, error)
}

// Speaker synthesizes narration. The result is base64-encoded raw PCM.
type Speaker interface {
	Speak(ctx context.Context, text string) (string, error)
}

// New picks the engine named by generation.engine.
func New(cfg *config.Config) (Engine, error) {
	switch cfg.Generation.Engine {
	case "", "basic":
		return NewBasicEngine(cfg), nil
	case "eino":
		return NewEinoEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown generation engine %q", cfg.Generation.Engine)
	}
}
