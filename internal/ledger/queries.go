package ledger

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

const attachConcurrency = 4

// ListMessages returns a page of the user's thread, newest first, with the
// invoice and transactions attached to bot messages.
func (c *Coordinator) ListMessages(ctx context.Context, userID string, opts ListOptions) ([]Message, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}

	msgs, err := c.store.ListMessages(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("Coordinator.ListMessages: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(attachConcurrency)
	for i := range msgs {
		if !msgs[i].IsBot() {
			continue
		}
		m := &msgs[i]
		g.Go(func() error {
			inv, err := c.store.FindInvoiceByMessageID(gctx, m.ID, userID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			txs, err := c.store.FindTransactionsByMessageID(gctx, m.ID, userID)
			if err != nil {
				return err
			}
			m.Invoice = inv
			m.Transactions = txs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Coordinator.ListMessages: attaching turns: %w", err)
	}

	return msgs, nil
}

// ListMessageTransactions returns the transactions of a bot message sent to
// the user.
func (c *Coordinator) ListMessageTransactions(ctx context.Context, messageID, userID string) ([]Transaction, error) {
	msg, err := c.store.FindMessageForUser(ctx, messageID, userID)
	if err != nil {
		return nil, fmt.Errorf("Coordinator.ListMessageTransactions: %w", err)
	}
	if msg.ToID != userID {
		return nil, fmt.Errorf("Coordinator.ListMessageTransactions: %w", ErrNotFound)
	}

	txs, err := c.store.FindTransactionsByMessageID(ctx, msg.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("Coordinator.ListMessageTransactions: %w", err)
	}
	return txs, nil
}

// ListTransactions returns every transaction of the user.
func (c *Coordinator) ListTransactions(ctx context.Context, userID string) ([]Transaction, error) {
	txs, err := c.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Coordinator.ListTransactions: %w", err)
	}
	return txs, nil
}

// UpdateTransactions applies patches to the user's transactions in one store
// transaction. Any unknown id fails the whole update with ErrNotFound.
func (c *Coordinator) UpdateTransactions(ctx context.Context, userID string, patches []TransactionPatch) error {
	if len(patches) == 0 {
		return nil
	}

	ids := make([]string, 0, len(patches))
	for _, p := range patches {
		ids = append(ids, p.ID)
	}

	current, err := c.store.FindTransactions(ctx, userID, ids)
	if err != nil {
		return fmt.Errorf("Coordinator.UpdateTransactions: %w", err)
	}
	byID := make(map[string]Transaction, len(current))
	for _, t := range current {
		byID[t.ID] = t
	}

	now := c.now()
	updated := make([]Transaction, 0, len(patches))
	for _, p := range patches {
		t, ok := byID[p.ID]
		if !ok {
			return fmt.Errorf("Coordinator.UpdateTransactions: transaction %s: %w", p.ID, ErrNotFound)
		}
		t = p.Apply(t, now)
		byID[p.ID] = t
		updated = append(updated, t)
	}

	err = c.store.WithinTx(ctx, func(tx Tx) error {
		for _, t := range updated {
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return &TxError{Op: "update transaction", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Coordinator.UpdateTransactions: %w", asTxError("update", err))
	}

	c.log.Info().Str("user_id", userID).Int("transactions", len(updated)).Msg("Transactions updated")
	return nil
}

// DeleteTransactions removes the user's transactions with the given ids.
// Ids that do not belong to the user are ignored.
func (c *Coordinator) DeleteTransactions(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	err := c.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.DeleteTransactions(ctx, userID, ids); err != nil {
			return &TxError{Op: "delete transactions", Err: err}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Coordinator.DeleteTransactions: %w", asTxError("delete", err))
	}

	c.log.Info().Str("user_id", userID).Int("transactions", len(ids)).Msg("Transactions deleted")
	return nil
}

// InvoiceMedia returns the stored media path of the user's invoice.
func (c *Coordinator) InvoiceMedia(ctx context.Context, invoiceID, userID string) (string, error) {
	inv, err := c.store.FindInvoice(ctx, invoiceID, userID)
	if err != nil {
		return "", fmt.Errorf("Coordinator.InvoiceMedia: %w", err)
	}
	if inv.MediaPath == nil || *inv.MediaPath == "" {
		return "", fmt.Errorf("Coordinator.InvoiceMedia: %w", ErrNoMedia)
	}
	return *inv.MediaPath, nil
}
