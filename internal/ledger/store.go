package ledger

import "context"

// Store reads ledger entities and opens write transactions. Lookups that
// find nothing return ErrNotFound; list lookups return an empty slice.
type Store interface {
	// FindMessageForUser returns the message with id when userID is its
	// sender or recipient.
	FindMessageForUser(ctx context.Context, id, userID string) (*Message, error)
	// FindReplyTo returns the message replying to messageID.
	FindReplyTo(ctx context.Context, messageID string) (*Message, error)
	FindMessage(ctx context.Context, id string) (*Message, error)
	FindInvoiceByMessageID(ctx context.Context, messageID, userID string) (*Invoice, error)
	FindInvoice(ctx context.Context, id, userID string) (*Invoice, error)
	FindTransactionsByMessageID(ctx context.Context, messageID, userID string) ([]Transaction, error)
	FindTransactions(ctx context.Context, userID string, ids []string) ([]Transaction, error)
	ListMessages(ctx context.Context, threadID string, opts ListOptions) ([]Message, error)
	ListTransactions(ctx context.Context, userID string) ([]Transaction, error)

	// WithinTx runs fn in one store transaction. It commits when fn returns
	// nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a store transaction.
type Tx interface {
	InsertInvoice(ctx context.Context, inv *Invoice) error
	InsertMessages(ctx context.Context, msgs []*Message) error
	InsertTransactions(ctx context.Context, txs []Transaction) error
	DeleteMessages(ctx context.Context, ids []string) error
	DeleteInvoice(ctx context.Context, id string) error
	DeleteTransactions(ctx context.Context, userID string, ids []string) error
	UpdateTransaction(ctx context.Context, tx Transaction) error
}
