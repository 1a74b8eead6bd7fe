package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"

	"molecule-lab/src/internal/config"
	"molecule-lab/src/internal/llm"

	"github.com/sashabaranov/go-openai"
)

// OpenAISpeaker narrates text through an OpenAI-compatible speech endpoint
// and returns 24 kHz mono signed 16-bit PCM, base64 encoded.
type OpenAISpeaker struct {
	cfg *config.Config
}

func NewOpenAISpeaker(cfg *config.Config) *OpenAISpeaker {
	return &OpenAISpeaker{cfg: cfg}
}

func (s *OpenAISpeaker) Speak(ctx context.Context, text string) (string, error) {
	target, err := llm.Resolve(s.cfg, s.cfg.Speech.Model)
	if err != nil {
		return "", err
	}
	client := llm.NewClient(target)
	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(target.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.cfg.Speech.Voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return "", fmt.Errorf("speech request: %w", err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return "", fmt.Errorf("read speech: %w", err)
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("empty speech response")
	}
	slog.Debug("speech generated", "model", target.String(), "bytes", len(pcm))
	return base64.StdEncoding.EncodeToString(pcm), nil
}
