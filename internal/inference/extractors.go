package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransactionExtractor pulls free-text transactions out of a prompt.
type TransactionExtractor struct {
	provider Provider
	now      func() time.Time
	log      zerolog.Logger
}

// NewTransactionExtractor creates an extractor backed by provider.
func NewTransactionExtractor(provider Provider, now func() time.Time, log zerolog.Logger) *TransactionExtractor {
	return &TransactionExtractor{provider: provider, now: now, log: log}
}

// Extract returns the transactions wrapped in a synthetic invoice together
// with the raw completion. The invoice takes currency and issued-at from the
// first transaction and its total is the sum of all amounts.
func (e *TransactionExtractor) Extract(ctx context.Context, prompt string, opts Options) (*InvoiceResult, string, error) {
	tool := TransactionsTool(opts.Currencies)
	args, completion, err := e.provider.Call(ctx, prompt, tool)
	if err != nil {
		return nil, "", &ProviderError{Tool: tool.Name, Err: err}
	}

	now := e.now()
	txs := make([]TransactionResult, 0, len(args))
	for i, a := range args {
		tx, err := decodeTransaction(a, now)
		if err != nil {
			e.log.Warn().Err(err).Int("index", i).Msg("Dropping undecodable transaction result")
			continue
		}
		if tx.Currency == "" {
			tx.Currency = opts.defaultCurrency()
		}
		txs = append(txs, tx)
	}

	currency, issuedAt := opts.defaultCurrency(), now
	if len(txs) > 0 {
		currency, issuedAt = txs[0].Currency, txs[0].IssuedAt
	}

	total := sumAmounts(txs)
	subtotal := total

	return &InvoiceResult{
		IssuedAt:     issuedAt,
		Transactions: txs,
		Taxes:        []TaxResult{},
		Discounts:    []DiscountResult{},
		Subtotal:     &subtotal,
		Total:        total,
		Currency:     currency,
	}, completion, nil
}

func sumAmounts(txs []TransactionResult) float64 {
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(decimal.NewFromFloat(tx.Amount))
	}
	f, _ := sum.Float64()
	return f
}

// InvoiceExtractor pulls a structured receipt out of OCR text and back-fills
// one category for all of its line items.
type InvoiceExtractor struct {
	provider   Provider
	classifier *Classifier
	now        func() time.Time
	log        zerolog.Logger
}

// NewInvoiceExtractor creates an extractor backed by provider. The
// classifier is called with the first line item's title.
func NewInvoiceExtractor(provider Provider, classifier *Classifier, now func() time.Time, log zerolog.Logger) *InvoiceExtractor {
	return &InvoiceExtractor{provider: provider, classifier: classifier, now: now, log: log}
}

// Extract returns the invoice and the raw completion of the invoice call.
func (e *InvoiceExtractor) Extract(ctx context.Context, prompt string, opts Options) (*InvoiceResult, string, error) {
	tool := InvoiceTool(opts.Currencies)
	args, completion, err := e.provider.Call(ctx, prompt, tool)
	if err != nil {
		return nil, "", &ProviderError{Tool: tool.Name, Err: err}
	}
	if len(args) == 0 {
		return nil, "", ErrNoInvoice
	}

	inv, err := decodeInvoice(args[0], e.now(), opts.defaultCurrency())
	if err != nil {
		return nil, "", &ProviderError{Tool: tool.Name, Err: fmt.Errorf("decoding invoice: %w", err)}
	}
	if len(inv.Transactions) == 0 {
		return nil, "", ErrNoTransactions
	}

	categories, err := e.classifier.Classify(ctx, inv.Transactions[0].Title, opts.Categories)
	if err != nil {
		return nil, "", err
	}

	category := DefaultCategory()
	if len(categories) > 0 {
		category = categories[0]
	}
	for i := range inv.Transactions {
		inv.Transactions[i].CategoryID = category.CategoryID
		inv.Transactions[i].Type = category.Type
	}

	e.log.Debug().
		Int("items", len(inv.Transactions)).
		Str("category", category.CategoryID).
		Float64("total", inv.Total).
		Msg("Invoice extracted")

	return inv, completion, nil
}
