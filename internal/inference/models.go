package inference

import (
	"time"

	"github.com/dvloznov/ledger-assistant/internal/catalog"
)

// TransactionType is the direction of money for a transaction.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeOutcome TransactionType = "outcome"
	TypeDebt    TransactionType = "debt"
	TypeOther   TransactionType = "other"
)

// DefaultCurrency is used when the caller supplies no currencies.
const DefaultCurrency = "USD"

// Options carries the caller's reference data for one inference.
type Options struct {
	Currencies []string
	Categories []catalog.Category
}

func (o Options) defaultCurrency() string {
	if len(o.Currencies) > 0 && o.Currencies[0] != "" {
		return o.Currencies[0]
	}
	return DefaultCurrency
}

// CategoryResult is one classification returned by the classifier.
type CategoryResult struct {
	CategoryID string          `json:"category"`
	Type       TransactionType `json:"type"`
}

// DefaultCategory is what a transaction carries until it is classified.
func DefaultCategory() CategoryResult {
	return CategoryResult{CategoryID: catalog.UnknownCategoryID, Type: TypeOutcome}
}

// TransactionResult is a transaction as understood by the model, already
// normalised.
type TransactionResult struct {
	Title      string          `json:"title"`
	Amount     float64         `json:"amount"`
	Currency   string          `json:"currency"`
	CategoryID string          `json:"category_id"`
	Type       TransactionType `json:"type"`
	Quantity   float64         `json:"quantity"`
	Unit       *string         `json:"unit,omitempty"`
	IssuedAt   time.Time       `json:"issued_at"`
}

// TaxResult is a tax line of an invoice.
type TaxResult struct {
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// DiscountResult is a discount line of an invoice.
type DiscountResult struct {
	Name   string  `json:"name"`
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// InvoiceResult is the output of both inference modes. In text mode it wraps
// the extracted transactions in a synthetic invoice.
type InvoiceResult struct {
	IssuedAt     time.Time           `json:"issued_at"`
	Transactions []TransactionResult `json:"transactions"`
	Taxes        []TaxResult         `json:"taxes"`
	Discounts    []DiscountResult    `json:"discounts"`
	Subtotal     *float64            `json:"subtotal,omitempty"`
	Total        float64             `json:"total"`
	Currency     string              `json:"currency"`
	CardNumber   *string             `json:"card_number,omitempty"`
}
