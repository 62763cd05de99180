package inference

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/catalog"
)

// Classifier assigns a category and a transaction type to a description.
type Classifier struct {
	provider Provider
	log      zerolog.Logger
}

// NewClassifier creates a classifier backed by provider.
func NewClassifier(provider Provider, log zerolog.Logger) *Classifier {
	return &Classifier{provider: provider, log: log}
}

// Classify returns one result per function call the model made. An empty
// description or category list returns no results without calling the
// provider. Results that fail to decode are dropped individually.
func (c *Classifier) Classify(ctx context.Context, description string, categories []catalog.Category) ([]CategoryResult, error) {
	if strings.TrimSpace(description) == "" || len(categories) == 0 {
		return nil, nil
	}

	tool := CategoryTool(catalog.CategoryIDs(categories))
	args, _, err := c.provider.Call(ctx, description, tool)
	if err != nil {
		return nil, &ProviderError{Tool: tool.Name, Err: err}
	}

	results := make([]CategoryResult, 0, len(args))
	for i, a := range args {
		res, err := decodeCategory(a)
		if err != nil {
			c.log.Warn().Err(err).Int("index", i).Msg("Dropping undecodable category result")
			continue
		}
		results = append(results, res)
	}

	return results, nil
}
