// Package memstore is an in-memory ledger.Store. Writes made inside WithinTx
// are staged on a private copy and become visible only on commit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/ledger-assistant/internal/ledger"
)

// Fault lets tests fail a named store operation. Returning a non-nil error
// makes that operation fail. Operation names are insert_invoice,
// insert_messages, insert_transactions, delete_messages, delete_invoice,
// delete_transactions, update_transaction and commit.
type Fault func(op string) error

type state struct {
	messages     map[string]ledger.Message
	invoices     map[string]ledger.Invoice
	transactions map[string]ledger.Transaction
}

func newState() state {
	return state{
		messages:     make(map[string]ledger.Message),
		invoices:     make(map[string]ledger.Invoice),
		transactions: make(map[string]ledger.Transaction),
	}
}

func (s state) clone() state {
	c := state{
		messages:     make(map[string]ledger.Message, len(s.messages)),
		invoices:     make(map[string]ledger.Invoice, len(s.invoices)),
		transactions: make(map[string]ledger.Transaction, len(s.transactions)),
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	return c
}

// Store is safe for concurrent use. Write transactions are serialised.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    state

	faultMu sync.RWMutex
	fault   Fault
}

// New creates an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// SetFault installs (or clears, with nil) a fault hook.
func (s *Store) SetFault(f Fault) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.fault = f
}

func (s *Store) check(op string) error {
	s.faultMu.RLock()
	defer s.faultMu.RUnlock()
	if s.fault == nil {
		return nil
	}
	return s.fault(op)
}

// Counts reports the number of stored messages, invoices and transactions.
func (s *Store) Counts() (messages, invoices, transactions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.messages), len(s.data.invoices), len(s.data.transactions)
}

// WithinTx implements ledger.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	staged := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&tx{store: s, data: staged}); err != nil {
		return err
	}
	if err := s.check("commit"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	s.data = staged
	s.mu.Unlock()
	return nil
}

// FindMessageForUser implements ledger.Store.
func (s *Store) FindMessageForUser(ctx context.Context, id, userID string) (*ledger.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data.messages[id]
	if !ok || (m.FromID != userID && m.ToID != userID) {
		return nil, ledger.ErrNotFound
	}
	return copyMessage(m), nil
}

// FindReplyTo implements ledger.Store.
func (s *Store) FindReplyTo(ctx context.Context, messageID string) (*ledger.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.data.messages {
		if m.ReplyToID != nil && *m.ReplyToID == messageID {
			return copyMessage(m), nil
		}
	}
	return nil, ledger.ErrNotFound
}

// FindMessage implements ledger.Store.
func (s *Store) FindMessage(ctx context.Context, id string) (*ledger.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data.messages[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return copyMessage(m), nil
}

// FindInvoiceByMessageID implements ledger.Store.
func (s *Store) FindInvoiceByMessageID(ctx context.Context, messageID, userID string) (*ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.data.invoices {
		if inv.MessageID == messageID && inv.UserID == userID {
			return copyInvoice(inv), nil
		}
	}
	return nil, ledger.ErrNotFound
}

// FindInvoice implements ledger.Store.
func (s *Store) FindInvoice(ctx context.Context, id, userID string) (*ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.data.invoices[id]
	if !ok || inv.UserID != userID {
		return nil, ledger.ErrNotFound
	}
	return copyInvoice(inv), nil
}

// FindTransactionsByMessageID implements ledger.Store.
func (s *Store) FindTransactionsByMessageID(ctx context.Context, messageID, userID string) ([]ledger.Transaction, error) {
	return s.filterTransactions(func(t ledger.Transaction) bool {
		return t.MessageID == messageID && t.UserID == userID
	}), nil
}

// FindTransactions implements ledger.Store.
func (s *Store) FindTransactions(ctx context.Context, userID string, ids []string) ([]ledger.Transaction, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return s.filterTransactions(func(t ledger.Transaction) bool {
		return want[t.ID] && t.UserID == userID
	}), nil
}

// ListTransactions implements ledger.Store.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	return s.filterTransactions(func(t ledger.Transaction) bool {
		return t.UserID == userID
	}), nil
}

// filterTransactions returns matches ordered by creation time.
func (s *Store) filterTransactions(keep func(ledger.Transaction) bool) []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []ledger.Transaction{}
	for _, t := range s.data.transactions {
		if keep(t) {
			result = append(result, copyTransaction(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// ListMessages implements ledger.Store.
func (s *Store) ListMessages(ctx context.Context, threadID string, opts ledger.ListOptions) ([]ledger.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []ledger.Message{}
	for _, m := range s.data.messages {
		if m.ThreadID != threadID {
			continue
		}
		if opts.Before != nil && !m.CreatedAt.Before(*opts.Before) {
			continue
		}
		result = append(result, *copyMessage(m))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

// tx mutates a staged copy of the store.
type tx struct {
	store *Store
	data  state
}

func (t *tx) InsertInvoice(ctx context.Context, inv *ledger.Invoice) error {
	if err := t.store.check("insert_invoice"); err != nil {
		return err
	}
	if _, exists := t.data.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}
	t.data.invoices[inv.ID] = *copyInvoice(*inv)
	return nil
}

func (t *tx) InsertMessages(ctx context.Context, msgs []*ledger.Message) error {
	if err := t.store.check("insert_messages"); err != nil {
		return err
	}
	for _, m := range msgs {
		if _, exists := t.data.messages[m.ID]; exists {
			return fmt.Errorf("message %s already exists", m.ID)
		}
		stored := *copyMessage(*m)
		stored.Invoice = nil
		stored.Transactions = nil
		t.data.messages[m.ID] = stored
	}
	return nil
}

func (t *tx) InsertTransactions(ctx context.Context, txs []ledger.Transaction) error {
	if err := t.store.check("insert_transactions"); err != nil {
		return err
	}
	for _, x := range txs {
		if _, exists := t.data.transactions[x.ID]; exists {
			return fmt.Errorf("transaction %s already exists", x.ID)
		}
		t.data.transactions[x.ID] = copyTransaction(x)
	}
	return nil
}

func (t *tx) DeleteMessages(ctx context.Context, ids []string) error {
	if err := t.store.check("delete_messages"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(t.data.messages, id)
	}
	return nil
}

func (t *tx) DeleteInvoice(ctx context.Context, id string) error {
	if err := t.store.check("delete_invoice"); err != nil {
		return err
	}
	delete(t.data.invoices, id)
	return nil
}

func (t *tx) DeleteTransactions(ctx context.Context, userID string, ids []string) error {
	if err := t.store.check("delete_transactions"); err != nil {
		return err
	}
	for _, id := range ids {
		if x, ok := t.data.transactions[id]; ok && x.UserID == userID {
			delete(t.data.transactions, id)
		}
	}
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, x ledger.Transaction) error {
	if err := t.store.check("update_transaction"); err != nil {
		return err
	}
	current, ok := t.data.transactions[x.ID]
	if !ok || current.UserID != x.UserID {
		return ledger.ErrNotFound
	}
	t.data.transactions[x.ID] = copyTransaction(x)
	return nil
}

func copyMessage(m ledger.Message) *ledger.Message {
	c := m
	c.ReplyToID = copyPtr(m.ReplyToID)
	c.Completion = copyPtr(m.Completion)
	if m.Invoice != nil {
		c.Invoice = copyInvoice(*m.Invoice)
	}
	if m.Transactions != nil {
		c.Transactions = make([]ledger.Transaction, len(m.Transactions))
		for i, t := range m.Transactions {
			c.Transactions[i] = copyTransaction(t)
		}
	}
	return &c
}

func copyInvoice(inv ledger.Invoice) *ledger.Invoice {
	c := inv
	c.Taxes = append([]ledger.Tax{}, inv.Taxes...)
	c.Discounts = append([]ledger.Discount{}, inv.Discounts...)
	c.Subtotal = copyPtr(inv.Subtotal)
	c.CardNumber = copyPtr(inv.CardNumber)
	c.MediaPath = copyPtr(inv.MediaPath)
	c.MediaType = copyPtr(inv.MediaType)
	return &c
}

func copyTransaction(t ledger.Transaction) ledger.Transaction {
	t.Unit = copyPtr(t.Unit)
	return t
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*tx)(nil)
)
