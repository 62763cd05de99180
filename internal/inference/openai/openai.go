// Package openai implements inference.Provider against the OpenAI chat
// completions API using tool calls.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/dvloznov/ledger-assistant/internal/inference"
)

const (
	DefaultModel = goopenai.GPT3Dot5Turbo

	maxTokens   = 500
	temperature = 0.4
)

// ChatCompleter is the subset of *goopenai.Client the provider needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Options configures the client. An empty BaseURL uses the public API.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Provider calls the chat completions endpoint with one forced function tool.
type Provider struct {
	client ChatCompleter
	model  string
	log    zerolog.Logger
}

var _ inference.Provider = (*Provider)(nil)

// New creates an OpenAI provider.
func New(opts Options, log zerolog.Logger) (*Provider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai.New: api key is empty")
	}
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return NewWithClient(goopenai.NewClientWithConfig(cfg), opts.Model, log), nil
}

// NewWithClient builds a provider on top of an existing client.
func NewWithClient(client ChatCompleter, model string, log zerolog.Logger) *Provider {
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		client: client,
		model:  model,
		log:    log.With().Str("provider", "openai").Logger(),
	}
}

// Call implements inference.Provider. The arguments string of every tool
// call across all choices is returned as-is; the completion is the JSON
// encoding of the response.
func (p *Provider) Call(ctx context.Context, prompt string, tool inference.Tool) ([]string, string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: p.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Tools: []goopenai.Tool{{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}},
		ToolChoice: goopenai.ToolChoice{
			Type:     goopenai.ToolTypeFunction,
			Function: goopenai.ToolFunction{Name: tool.Name},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		N:           1,
	}

	p.log.Debug().Str("tool", tool.Name).Str("prompt", prompt).Msg("Calling model")

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("openai.Call: %w", err)
	}

	var args []string
	for _, choice := range resp.Choices {
		for _, call := range choice.Message.ToolCalls {
			args = append(args, call.Function.Arguments)
		}
	}

	completion, err := json.Marshal(resp)
	if err != nil {
		return nil, "", fmt.Errorf("openai.Call: encode completion: %w", err)
	}

	p.log.Debug().Str("tool", tool.Name).Int("calls", len(args)).Msg("Model responded")
	return args, string(completion), nil
}

// StatusCode reports the HTTP status of a failed call, or 0 when the error
// did not come from the API.
func StatusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
