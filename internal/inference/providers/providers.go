// Package providers builds the configured inference.Provider.
package providers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/inference/anthropic"
	"github.com/dvloznov/ledger-assistant/internal/inference/gemini"
	"github.com/dvloznov/ledger-assistant/internal/inference/openai"
)

// Settings holds the credentials of every supported backend; only the
// selected one is used.
type Settings struct {
	GeminiAPIKey string
	GeminiModel  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	AnthropicAPIKey string
	AnthropicModel  string
}

// New returns the provider for kind.
func New(ctx context.Context, kind inference.Kind, s Settings, log zerolog.Logger) (inference.Provider, error) {
	switch kind {
	case inference.KindGemini:
		p, err := gemini.New(ctx, gemini.Options{APIKey: s.GeminiAPIKey, Model: s.GeminiModel}, log)
		if err != nil {
			return nil, fmt.Errorf("providers.New: %w", err)
		}
		return p, nil
	case inference.KindOpenAI:
		p, err := openai.New(openai.Options{APIKey: s.OpenAIAPIKey, BaseURL: s.OpenAIBaseURL, Model: s.OpenAIModel}, log)
		if err != nil {
			return nil, fmt.Errorf("providers.New: %w", err)
		}
		return p, nil
	case inference.KindAnthropic:
		p, err := anthropic.New(anthropic.Options{APIKey: s.AnthropicAPIKey, Model: s.AnthropicModel}, log)
		if err != nil {
			return nil, fmt.Errorf("providers.New: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("providers.New: unsupported provider %q", kind)
}
