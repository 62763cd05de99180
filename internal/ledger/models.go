package ledger

import (
	"time"

	"github.com/dvloznov/ledger-assistant/internal/inference"
)

// Message is one side of a user turn. The bot message of a turn carries the
// raw completion and replies to the user message.
type Message struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	FromID     string    `json:"from_id"`
	ToID       string    `json:"to_id"`
	ThreadID   string    `json:"thread_id"`
	ReplyToID  *string   `json:"reply_to_id,omitempty"`
	Completion *string   `json:"completion,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Attached in memory on create and list results, never stored.
	Invoice      *Invoice      `json:"invoice,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

// IsBot reports whether m is the bot half of a turn.
func (m *Message) IsBot() bool {
	return m.ReplyToID != nil
}

// Tax is a tax line of an invoice.
type Tax struct {
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// Discount is a discount line of an invoice.
type Discount struct {
	Name   string  `json:"name"`
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

// Invoice is the financial summary owned by a bot message.
type Invoice struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	MessageID  string     `json:"message_id"`
	Taxes      []Tax      `json:"taxes"`
	Discounts  []Discount `json:"discounts"`
	Subtotal   *float64   `json:"subtotal,omitempty"`
	Total      float64    `json:"total"`
	Currency   string     `json:"currency"`
	CardNumber *string    `json:"card_number,omitempty"`
	MediaPath  *string    `json:"media_path,omitempty"`
	MediaType  *string    `json:"media_type,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Transaction is one ledger entry of a turn.
type Transaction struct {
	ID         string                    `json:"id"`
	MessageID  string                    `json:"message_id"`
	UserID     string                    `json:"user_id"`
	InvoiceID  string                    `json:"invoice_id"`
	Title      string                    `json:"title"`
	Amount     float64                   `json:"amount"`
	Currency   string                    `json:"currency"`
	CategoryID string                    `json:"category_id"`
	Type       inference.TransactionType `json:"type"`
	Unit       *string                   `json:"unit,omitempty"`
	Quantity   float64                   `json:"quantity"`
	IssuedAt   time.Time                 `json:"issued_at"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// TransactionPatch is a partial update; nil fields are left unchanged.
type TransactionPatch struct {
	ID         string
	Title      *string
	Amount     *float64
	Currency   *string
	CategoryID *string
	Type       *inference.TransactionType
	Unit       *string
	Quantity   *float64
	IssuedAt   *time.Time
}

// Apply returns tx with the non-nil fields of p applied.
func (p TransactionPatch) Apply(tx Transaction, now time.Time) Transaction {
	if p.Title != nil {
		tx.Title = *p.Title
	}
	if p.Amount != nil {
		tx.Amount = *p.Amount
	}
	if p.Currency != nil {
		tx.Currency = *p.Currency
	}
	if p.CategoryID != nil {
		tx.CategoryID = *p.CategoryID
	}
	if p.Type != nil {
		tx.Type = *p.Type
	}
	if p.Unit != nil {
		unit := *p.Unit
		tx.Unit = &unit
	}
	if p.Quantity != nil {
		tx.Quantity = *p.Quantity
	}
	if p.IssuedAt != nil {
		tx.IssuedAt = p.IssuedAt.UTC()
	}
	tx.UpdatedAt = now
	return tx
}

// ListOptions pages through a user's messages, newest first.
type ListOptions struct {
	// Before restricts the page to messages created strictly before it.
	Before *time.Time
	Limit  int
}

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 20
