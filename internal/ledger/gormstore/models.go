package gormstore

import (
	"time"

	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
)

type messageRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Content    string    `gorm:"type:text"`
	FromID     string    `gorm:"index;size:64;not null"`
	ToID       string    `gorm:"index;size:64;not null"`
	ThreadID   string    `gorm:"index:idx_messages_thread_created,priority:1;size:64;not null"`
	ReplyToID  *string   `gorm:"index;size:36"`
	Completion *string   `gorm:"type:mediumtext"`
	CreatedAt  time.Time `gorm:"index:idx_messages_thread_created,priority:2;not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (messageRow) TableName() string { return "messages" }

type invoiceRow struct {
	ID         string            `gorm:"primaryKey;size:36"`
	UserID     string            `gorm:"index;size:64;not null"`
	MessageID  string            `gorm:"uniqueIndex;size:36;not null"`
	Taxes      []ledger.Tax      `gorm:"serializer:json;type:json"`
	Discounts  []ledger.Discount `gorm:"serializer:json;type:json"`
	Subtotal   *float64          `gorm:"type:decimal(20,4)"`
	Total      float64           `gorm:"type:decimal(20,4);not null"`
	Currency   string            `gorm:"size:3;not null"`
	CardNumber *string           `gorm:"size:32"`
	MediaPath  *string           `gorm:"size:512"`
	MediaType  *string           `gorm:"size:64"`
	IssuedAt   time.Time         `gorm:"not null"`
	CreatedAt  time.Time         `gorm:"not null"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime:false"`
}

func (invoiceRow) TableName() string { return "invoices" }

type transactionRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	MessageID  string    `gorm:"index;size:36;not null"`
	UserID     string    `gorm:"index:idx_transactions_user_created,priority:1;size:64;not null"`
	InvoiceID  string    `gorm:"index;size:36;not null"`
	Title      string    `gorm:"size:255"`
	Amount     float64   `gorm:"type:decimal(20,4);not null"`
	Currency   string    `gorm:"size:3;not null"`
	CategoryID string    `gorm:"size:64;not null"`
	Type       string    `gorm:"size:16;not null"`
	Unit       *string   `gorm:"size:32"`
	Quantity   float64   `gorm:"not null;default:1"`
	IssuedAt   time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"index:idx_transactions_user_created,priority:2;not null"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (transactionRow) TableName() string { return "transactions" }

func toMessageRow(m *ledger.Message) messageRow {
	return messageRow{
		ID:         m.ID,
		Content:    m.Content,
		FromID:     m.FromID,
		ToID:       m.ToID,
		ThreadID:   m.ThreadID,
		ReplyToID:  m.ReplyToID,
		Completion: m.Completion,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func (r messageRow) toLedger() ledger.Message {
	return ledger.Message{
		ID:         r.ID,
		Content:    r.Content,
		FromID:     r.FromID,
		ToID:       r.ToID,
		ThreadID:   r.ThreadID,
		ReplyToID:  r.ReplyToID,
		Completion: r.Completion,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func toInvoiceRow(inv *ledger.Invoice) invoiceRow {
	return invoiceRow{
		ID:         inv.ID,
		UserID:     inv.UserID,
		MessageID:  inv.MessageID,
		Taxes:      nonNilTaxes(inv.Taxes),
		Discounts:  nonNilDiscounts(inv.Discounts),
		Subtotal:   inv.Subtotal,
		Total:      inv.Total,
		Currency:   inv.Currency,
		CardNumber: inv.CardNumber,
		MediaPath:  inv.MediaPath,
		MediaType:  inv.MediaType,
		IssuedAt:   inv.IssuedAt.UTC(),
		CreatedAt:  inv.CreatedAt.UTC(),
		UpdatedAt:  inv.UpdatedAt.UTC(),
	}
}

func (r invoiceRow) toLedger() ledger.Invoice {
	return ledger.Invoice{
		ID:         r.ID,
		UserID:     r.UserID,
		MessageID:  r.MessageID,
		Taxes:      nonNilTaxes(r.Taxes),
		Discounts:  nonNilDiscounts(r.Discounts),
		Subtotal:   r.Subtotal,
		Total:      r.Total,
		Currency:   r.Currency,
		CardNumber: r.CardNumber,
		MediaPath:  r.MediaPath,
		MediaType:  r.MediaType,
		IssuedAt:   r.IssuedAt.UTC(),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func toTransactionRow(t ledger.Transaction) transactionRow {
	return transactionRow{
		ID:         t.ID,
		MessageID:  t.MessageID,
		UserID:     t.UserID,
		InvoiceID:  t.InvoiceID,
		Title:      t.Title,
		Amount:     t.Amount,
		Currency:   t.Currency,
		CategoryID: t.CategoryID,
		Type:       string(t.Type),
		Unit:       t.Unit,
		Quantity:   t.Quantity,
		IssuedAt:   t.IssuedAt.UTC(),
		CreatedAt:  t.CreatedAt.UTC(),
		UpdatedAt:  t.UpdatedAt.UTC(),
	}
}

func (r transactionRow) toLedger() ledger.Transaction {
	return ledger.Transaction{
		ID:         r.ID,
		MessageID:  r.MessageID,
		UserID:     r.UserID,
		InvoiceID:  r.InvoiceID,
		Title:      r.Title,
		Amount:     r.Amount,
		Currency:   r.Currency,
		CategoryID: r.CategoryID,
		Type:       inference.TransactionType(r.Type),
		Unit:       r.Unit,
		Quantity:   r.Quantity,
		IssuedAt:   r.IssuedAt.UTC(),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func transactionsToLedger(rows []transactionRow) []ledger.Transaction {
	out := make([]ledger.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toLedger())
	}
	return out
}

func nonNilTaxes(v []ledger.Tax) []ledger.Tax {
	if v == nil {
		return []ledger.Tax{}
	}
	return v
}

func nonNilDiscounts(v []ledger.Discount) []ledger.Discount {
	if v == nil {
		return []ledger.Discount{}
	}
	return v
}
