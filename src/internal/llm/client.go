// Package llm resolves "provider/model" names against the configured
// providers and builds OpenAI-compatible clients for them.
package llm

import (
	"errors"
	"fmt"
	"strings"

	"molecule-lab/src/internal/config"

	"github.com/sashabaranov/go-openai"
)

var ErrMissingAPIKey = errors.New("missing API key")

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Target is a resolved model on a configured provider.
type Target struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func (t Target) String() string { return t.Provider + "/" + t.Model }

func Resolve(cfg *config.Config, modelStr string) (Target, error) {
	parts := strings.SplitN(modelStr, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Target{}, fmt.Errorf("invalid model format %q, expected provider/model", modelStr)
	}

	provider, model := parts[0], parts[1]
	prov, ok := cfg.Models.Providers[provider]
	if !ok {
		return Target{}, fmt.Errorf("provider %q not configured", provider)
	}
	if prov.APIKey == "" {
		return Target{}, fmt.Errorf("provider %q: %w", provider, ErrMissingAPIKey)
	}
	return Target{Provider: provider, Model: model, BaseURL: prov.BaseURL, APIKey: prov.APIKey}, nil
}

// Candidates lists the primary model followed by the fallbacks, without duplicates.
func Candidates(sel config.ModelSelection) []string {
	seen := make(map[string]bool)
	var res []string
	for _, m := range append([]string{sel.Primary}, sel.Fallbacks...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		res = append(res, m)
	}
	return res
}

func NewClient(t Target) *openai.Client {
	cc := openai.DefaultConfig(t.APIKey)
	if t.BaseURL != "" {
		cc.BaseURL = strings.TrimRight(t.BaseURL, "/")
	}
	return openai.NewClientWithConfig(cc)
}

func FromOpenAI(u openai.Usage) Usage {
	return Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}
