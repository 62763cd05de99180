// Package gemini implements inference.Provider with Gemini function calling.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/ledger-assistant/internal/inference"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.5-flash"

const (
	temperature     = 0.4
	maxOutputTokens = 1800
)

// ContentGenerator is the subset of *genai.Models the provider needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options configures the Gemini client.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Provider calls Gemini with a single forced function declaration.
type Provider struct {
	models ContentGenerator
	model  string
	log    zerolog.Logger
}

var _ inference.Provider = (*Provider)(nil)

// New creates a Gemini-backed provider. An empty API key falls back to the
// GOOGLE_API_KEY / GEMINI_API_KEY environment handled by genai.
func New(ctx context.Context, opts Options, log zerolog.Logger) (*Provider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini.New: create genai client: %w", err)
	}
	return NewWithGenerator(client.Models, opts.Model, log), nil
}

// NewWithGenerator builds a provider on top of an existing generator.
func NewWithGenerator(models ContentGenerator, model string, log zerolog.Logger) *Provider {
	if model == "" {
		model = DefaultModelName
	}
	return &Provider{
		models: models,
		model:  model,
		log:    log.With().Str("provider", "gemini").Logger(),
	}
}

// Call implements inference.Provider. Every function call in the response
// yields one JSON argument object; the completion is the response JSON.
func (p *Provider) Call(ctx context.Context, prompt string, tool inference.Tool) ([]string, string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](temperature),
		MaxOutputTokens: maxOutputTokens,
		Tools: []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			}},
		}},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{tool.Name},
			},
		},
	}

	p.log.Debug().Str("tool", tool.Name).Str("prompt", prompt).Msg("Calling model")

	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(prompt), config)
	if err != nil {
		return nil, "", fmt.Errorf("gemini.Call: generate content: %w", err)
	}

	completion, err := json.Marshal(resp)
	if err != nil {
		return nil, "", fmt.Errorf("gemini.Call: encode completion: %w", err)
	}

	var args []string
	for _, fc := range resp.FunctionCalls() {
		if fc.Name != tool.Name {
			continue
		}
		b, err := json.Marshal(fc.Args)
		if err != nil {
			p.log.Warn().Err(err).Str("tool", tool.Name).Msg("Skipping unencodable function call")
			continue
		}
		args = append(args, string(b))
	}

	// Some models ignore the tool config and answer in text.
	if len(args) == 0 {
		if text := resp.Text(); text != "" {
			args = append(args, text)
		}
	}

	p.log.Debug().Str("tool", tool.Name).Int("calls", len(args)).Msg("Model responded")
	return args, string(completion), nil
}
