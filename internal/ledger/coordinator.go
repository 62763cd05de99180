// Package ledger persists user turns (a message pair, an invoice and its
// transactions) as one atomic unit and removes them together.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/ledger-assistant/internal/inference"
)

// Config holds the coordinator's fixed settings.
type Config struct {
	// BotID is the sender of every bot message.
	BotID string
}

// Coordinator writes and deletes turns across messages, invoices and
// transactions.
type Coordinator struct {
	store Store
	botID string
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the creation time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides uuid v4 ids.
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// NewCoordinator creates a coordinator on top of store.
func NewCoordinator(store Store, cfg Config, log zerolog.Logger, opts ...Option) (*Coordinator, error) {
	if cfg.BotID == "" {
		return nil, ErrBotIDRequired
	}
	c := &Coordinator{
		store: store,
		botID: cfg.BotID,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   log,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BotID returns the configured bot identity.
func (c *Coordinator) BotID() string {
	return c.botID
}

// CreateInput is one successful inference to persist.
type CreateInput struct {
	Prompt     string
	UserID     string
	Result     *inference.InvoiceResult
	Completion string
	MediaPath  *string
	MediaType  *string
}

// Create stores the turn atomically and returns [bot, user]. The bot message
// carries the inserted invoice and transactions.
func (c *Coordinator) Create(ctx context.Context, in CreateInput) ([]*Message, error) {
	if in.Result == nil {
		return nil, errors.New("Coordinator.Create: inference result is required")
	}
	if in.UserID == "" {
		return nil, errors.New("Coordinator.Create: user id is required")
	}

	// 1. Ids for both messages and the invoice.
	userMsgID, botMsgID, invoiceID := c.newID(), c.newID(), c.newID()
	now := c.now()
	res := in.Result

	invoice := &Invoice{
		ID:         invoiceID,
		UserID:     in.UserID,
		MessageID:  botMsgID,
		Taxes:      make([]Tax, 0, len(res.Taxes)),
		Discounts:  make([]Discount, 0, len(res.Discounts)),
		Subtotal:   res.Subtotal,
		Total:      res.Total,
		Currency:   res.Currency,
		CardNumber: res.CardNumber,
		MediaPath:  in.MediaPath,
		MediaType:  in.MediaType,
		IssuedAt:   res.IssuedAt.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, t := range res.Taxes {
		invoice.Taxes = append(invoice.Taxes, Tax{Rate: t.Rate, Amount: t.Amount})
	}
	for _, d := range res.Discounts {
		invoice.Discounts = append(invoice.Discounts, Discount{Name: d.Name, Rate: d.Rate, Amount: d.Amount})
	}

	completion := in.Completion
	replyTo := userMsgID
	botCreated := now.Add(time.Second)
	bot := &Message{
		ID:         botMsgID,
		Content:    "",
		FromID:     c.botID,
		ToID:       in.UserID,
		ThreadID:   in.UserID,
		ReplyToID:  &replyTo,
		Completion: &completion,
		CreatedAt:  botCreated,
		UpdatedAt:  botCreated,
	}
	user := &Message{
		ID:        userMsgID,
		Content:   in.Prompt,
		FromID:    in.UserID,
		ToID:      c.botID,
		ThreadID:  in.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	txs := make([]Transaction, 0, len(res.Transactions))
	for i, t := range res.Transactions {
		created := now.Add(time.Duration(i) * time.Second)
		txs = append(txs, Transaction{
			ID:         c.newID(),
			MessageID:  botMsgID,
			UserID:     in.UserID,
			InvoiceID:  invoiceID,
			Title:      t.Title,
			Amount:     t.Amount,
			Currency:   t.Currency,
			CategoryID: t.CategoryID,
			Type:       t.Type,
			Unit:       t.Unit,
			Quantity:   t.Quantity,
			IssuedAt:   t.IssuedAt.UTC(),
			CreatedAt:  created,
			UpdatedAt:  created,
		})
	}

	// 2. One transaction for all three collections.
	err := c.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertInvoice(ctx, invoice); err != nil {
			return &TxError{Op: "insert invoice", Err: err}
		}
		if err := tx.InsertMessages(ctx, []*Message{bot, user}); err != nil {
			return &TxError{Op: "insert messages", Err: err}
		}
		if len(txs) > 0 {
			if err := tx.InsertTransactions(ctx, txs); err != nil {
				return &TxError{Op: "insert transactions", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Str("user_id", in.UserID).Msg("Failed to create turn")
		return nil, fmt.Errorf("Coordinator.Create: %w", asTxError("create", err))
	}

	// 3. Attach what was written.
	bot.Invoice = invoice
	bot.Transactions = txs

	c.log.Info().
		Str("user_id", in.UserID).
		Str("message_id", botMsgID).
		Str("invoice_id", invoiceID).
		Int("transactions", len(txs)).
		Msg("Turn created")

	return []*Message{bot, user}, nil
}

// Delete removes a message, its pair, the invoice and the transactions of
// the turn. All reads finish before the write transaction opens.
func (c *Coordinator) Delete(ctx context.Context, messageID, userID string) (bool, error) {
	// 1. The message must be visible to the user.
	msg, err := c.store.FindMessageForUser(ctx, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("Coordinator.Delete: finding message: %w", err)
	}

	// 2. Its pair, which may be absent.
	pair, err := c.findPair(ctx, msg, userID)
	if err != nil {
		return false, fmt.Errorf("Coordinator.Delete: finding pair: %w", err)
	}

	messages := []*Message{msg}
	if pair != nil {
		messages = append(messages, pair)
	}

	// 3. The bot message owns the invoice and transactions.
	var (
		invoice *Invoice
		txs     []Transaction
	)
	if bot := botOf(messages); bot != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			inv, err := c.store.FindInvoiceByMessageID(gctx, bot.ID, userID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			invoice = inv
			return err
		})
		g.Go(func() error {
			var err error
			txs, err = c.store.FindTransactionsByMessageID(gctx, bot.ID, userID)
			return err
		})
		if err := g.Wait(); err != nil {
			return false, fmt.Errorf("Coordinator.Delete: loading turn: %w", err)
		}
	}

	// 4. Delete everything together.
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	txIDs := make([]string, 0, len(txs))
	for _, t := range txs {
		txIDs = append(txIDs, t.ID)
	}

	err = c.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.DeleteMessages(ctx, ids); err != nil {
			return &TxError{Op: "delete messages", Err: err}
		}
		if invoice != nil {
			if err := tx.DeleteInvoice(ctx, invoice.ID); err != nil {
				return &TxError{Op: "delete invoice", Err: err}
			}
		}
		if len(txIDs) > 0 {
			if err := tx.DeleteTransactions(ctx, userID, txIDs); err != nil {
				return &TxError{Op: "delete transactions", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Str("user_id", userID).Str("message_id", messageID).Msg("Failed to delete turn")
		return false, fmt.Errorf("Coordinator.Delete: %w", asTxError("delete", err))
	}

	ev := c.log.Info().Str("user_id", userID).Strs("message_ids", ids).Int("transactions", len(txIDs))
	if invoice != nil {
		ev = ev.Str("invoice_id", invoice.ID)
	}
	ev.Msg("Turn deleted")

	return true, nil
}

func (c *Coordinator) findPair(ctx context.Context, msg *Message, userID string) (*Message, error) {
	var (
		pair *Message
		err  error
	)
	switch {
	case msg.FromID == userID:
		pair, err = c.store.FindReplyTo(ctx, msg.ID)
	case msg.ReplyToID != nil:
		pair, err = c.store.FindMessage(ctx, *msg.ReplyToID)
	default:
		return nil, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return pair, err
}

func botOf(messages []*Message) *Message {
	for _, m := range messages {
		if m.IsBot() {
			return m
		}
	}
	return nil
}

// asTxError makes sure any failure of a write transaction surfaces as a
// *TxError, including commit failures reported by the store itself.
func asTxError(op string, err error) error {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return err
	}
	return &TxError{Op: op, Err: err}
}
