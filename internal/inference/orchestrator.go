package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Mode is the caller's intent for one inference.
type Mode string

const (
	// ModeText extracts transactions from a free-text message.
	ModeText Mode = "text"
	// ModeInvoice extracts a receipt from OCR text.
	ModeInvoice Mode = "invoice"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeText, ModeInvoice:
		return m, nil
	}
	return "", fmt.Errorf("ParseMode: unknown mode %q", s)
}

// Inferrer runs one inference mode.
type Inferrer interface {
	Infer(ctx context.Context, prompt string, opts Options) (*InvoiceResult, string, error)
}

// TextInferrer runs transaction extraction and classification concurrently
// and zips their results.
type TextInferrer struct {
	extractor  *TransactionExtractor
	classifier *Classifier
	log        zerolog.Logger
}

// Infer implements Inferrer. If either call fails the other is cancelled
// and the whole inference fails.
func (t *TextInferrer) Infer(ctx context.Context, prompt string, opts Options) (*InvoiceResult, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", ErrEmptyPrompt
	}

	var (
		invoice    *InvoiceResult
		completion string
		categories []CategoryResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoice, completion, err = t.extractor.Extract(gctx, prompt, opts)
		return err
	})
	g.Go(func() error {
		var err error
		categories, err = t.classifier.Classify(gctx, prompt, opts.Categories)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	placeholder := TransactionResult{
		Currency: invoice.Currency,
		Quantity: 1,
		IssuedAt: invoice.IssuedAt,
	}
	invoice.Transactions = mergeClassifications(invoice.Transactions, categories, placeholder)

	t.log.Debug().
		Int("transactions", len(invoice.Transactions)).
		Int("classifications", len(categories)).
		Msg("Text inference merged")

	return invoice, completion, nil
}

// mergeClassifications pairs transactions and classifications by position
// over the longer of the two slices. Positions present in both take the
// classification; extra transactions are kept as extracted; extra
// classifications become placeholder transactions.
func mergeClassifications(txs []TransactionResult, categories []CategoryResult, placeholder TransactionResult) []TransactionResult {
	n := len(txs)
	if len(categories) > n {
		n = len(categories)
	}

	merged := make([]TransactionResult, 0, n)
	for i := 0; i < n; i++ {
		switch {
		case i < len(txs) && i < len(categories):
			tx := txs[i]
			tx.CategoryID = categories[i].CategoryID
			tx.Type = categories[i].Type
			merged = append(merged, tx)
		case i < len(txs):
			merged = append(merged, txs[i])
		default:
			tx := placeholder
			tx.CategoryID = categories[i].CategoryID
			tx.Type = categories[i].Type
			merged = append(merged, tx)
		}
	}
	return merged
}

// InvoiceInferrer runs the invoice extractor alone; classification happens
// inside it.
type InvoiceInferrer struct {
	extractor *InvoiceExtractor
}

// Infer implements Inferrer.
func (i *InvoiceInferrer) Infer(ctx context.Context, prompt string, opts Options) (*InvoiceResult, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", ErrEmptyPrompt
	}

	invoice, completion, err := i.extractor.Extract(ctx, prompt, opts)
	if err != nil {
		return nil, "", err
	}
	if len(invoice.Transactions) == 0 {
		return nil, "", ErrNoTransactions
	}
	return invoice, completion, nil
}

// Orchestrator dispatches an inference to the inferrer of the requested
// mode. It holds no per-call state.
type Orchestrator struct {
	inferrers map[Mode]Inferrer
	log       zerolog.Logger
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*orchestratorConfig)

type orchestratorConfig struct {
	now func() time.Time
}

// WithClock overrides the time source used to resolve relative dates.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(c *orchestratorConfig) {
		c.now = now
	}
}

// NewOrchestrator wires both inference modes on top of one provider.
func NewOrchestrator(provider Provider, log zerolog.Logger, opts ...OrchestratorOption) *Orchestrator {
	cfg := orchestratorConfig{now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(&cfg)
	}

	classifier := NewClassifier(provider, log)
	return &Orchestrator{
		inferrers: map[Mode]Inferrer{
			ModeText: &TextInferrer{
				extractor:  NewTransactionExtractor(provider, cfg.now, log),
				classifier: classifier,
				log:        log,
			},
			ModeInvoice: &InvoiceInferrer{
				extractor: NewInvoiceExtractor(provider, classifier, cfg.now, log),
			},
		},
		log: log,
	}
}

// Inferrer returns the inferrer for mode.
func (o *Orchestrator) Inferrer(mode Mode) (Inferrer, error) {
	inf, ok := o.inferrers[mode]
	if !ok {
		return nil, fmt.Errorf("Orchestrator: unsupported mode %q", mode)
	}
	return inf, nil
}

// Infer runs one inference and returns the structured result with the raw
// completion text.
func (o *Orchestrator) Infer(ctx context.Context, mode Mode, prompt string, opts Options) (*InvoiceResult, string, error) {
	inf, err := o.Inferrer(mode)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	result, completion, err := inf.Infer(ctx, prompt, opts)
	if err != nil {
		o.log.Error().Err(err).Str("mode", string(mode)).Dur("duration", time.Since(start)).Msg("Inference failed")
		return nil, "", err
	}

	o.log.Info().
		Str("mode", string(mode)).
		Int("transactions", len(result.Transactions)).
		Dur("duration", time.Since(start)).
		Msg("Inference completed")

	return result, completion, nil
}
