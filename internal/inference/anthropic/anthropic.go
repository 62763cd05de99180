// Package anthropic implements inference.Provider against the Anthropic
// messages API using tool use.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/inference"
)

const (
	DefaultModel = "claude-3-haiku-20240307"

	maxTokens = 1800
)

// MessageCreator is the subset of sdk.MessageService the provider needs.
type MessageCreator interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the client. RequestOptions are applied after the
// defaults, so they can override retries or headers.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	RequestOptions []option.RequestOption
}

// Provider calls the messages endpoint with one tool.
type Provider struct {
	messages MessageCreator
	model    string
	log      zerolog.Logger
}

var _ inference.Provider = (*Provider)(nil)

// New creates an Anthropic provider.
func New(opts Options, log zerolog.Logger) (*Provider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("anthropic.New: api key is empty")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	reqOpts = append(reqOpts, opts.RequestOptions...)

	client := sdk.NewClient(reqOpts...)
	return NewWithMessages(&client.Messages, opts.Model, log), nil
}

// NewWithMessages builds a provider on top of an existing message service.
func NewWithMessages(messages MessageCreator, model string, log zerolog.Logger) *Provider {
	if model == "" {
		model = DefaultModel
	}
	return &Provider{
		messages: messages,
		model:    model,
		log:      log.With().Str("provider", "anthropic").Logger(),
	}
}

// Call implements inference.Provider. Text blocks are ignored; each
// tool_use input is re-encoded as compact JSON. The completion is the raw
// response JSON.
func (p *Provider) Call(ctx context.Context, prompt string, tool inference.Tool) ([]string, string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
		Tools: []sdk.ToolUnionParam{{
			OfTool: &sdk.ToolParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				InputSchema: inputSchema(tool.Parameters),
			},
		}},
	}

	p.log.Debug().Str("tool", tool.Name).Str("prompt", prompt).Msg("Calling model")

	msg, err := p.messages.New(ctx, params)
	if err != nil {
		return nil, "", fmt.Errorf("anthropic.Call: %w", err)
	}

	var args []string
	for _, block := range msg.Content {
		if block.Type != "tool_use" || len(block.Input) == 0 {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, block.Input); err != nil {
			p.log.Warn().Err(err).Str("tool", tool.Name).Msg("Skipping malformed tool input")
			continue
		}
		args = append(args, buf.String())
	}

	p.log.Debug().Str("tool", tool.Name).Int("calls", len(args)).Msg("Model responded")
	return args, msg.RawJSON(), nil
}

// inputSchema maps a JSON schema object onto the SDK's schema param.
func inputSchema(schema map[string]any) sdk.ToolInputSchemaParam {
	out := sdk.ToolInputSchemaParam{Properties: schema["properties"]}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

// StatusCode reports the HTTP status of a failed call, or 0 when the error
// did not come from the API.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
