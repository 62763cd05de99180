package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/catalog"
	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
	"github.com/dvloznov/ledger-assistant/internal/ledger/memstore"
)

const (
	botID  = "bot"
	userID = "user-1"
)

var baseTime = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// fixture wires a coordinator with a deterministic clock and ids.
type fixture struct {
	store *memstore.Store
	coord *ledger.Coordinator
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), clock: baseTime}
	seq := 0
	coord, err := ledger.NewCoordinator(f.store, ledger.Config{BotID: botID}, zerolog.Nop(),
		ledger.WithClock(func() time.Time { return f.clock }),
		ledger.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
	)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	f.coord = coord
	return f
}

func sampleResult(titles ...string) *inference.InvoiceResult {
	subtotal := 0.0
	res := &inference.InvoiceResult{
		IssuedAt:  baseTime,
		Currency:  "USD",
		Subtotal:  &subtotal,
		Taxes:     []inference.TaxResult{{Rate: 8, Amount: 0.4}},
		Discounts: []inference.DiscountResult{},
	}
	for _, title := range titles {
		res.Transactions = append(res.Transactions, inference.TransactionResult{
			Title: title, Amount: 5, Currency: "USD", CategoryID: "dining_out",
			Type: inference.TypeOutcome, Quantity: 1, IssuedAt: baseTime,
		})
		res.Total += 5
	}
	subtotal = res.Total
	return res
}

func (f *fixture) create(t *testing.T, user, prompt string, titles ...string) []*ledger.Message {
	t.Helper()
	msgs, err := f.coord.Create(context.Background(), ledger.CreateInput{
		Prompt:     prompt,
		UserID:     user,
		Result:     sampleResult(titles...),
		Completion: `{"raw":true}`,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return msgs
}

func assertCounts(t *testing.T, s *memstore.Store, messages, invoices, transactions int) {
	t.Helper()
	m, i, x := s.Counts()
	if m != messages || i != invoices || x != transactions {
		t.Errorf("counts = %d/%d/%d, want %d/%d/%d", m, i, x, messages, invoices, transactions)
	}
}

func TestNewCoordinator_RequiresBotID(t *testing.T) {
	if _, err := ledger.NewCoordinator(memstore.New(), ledger.Config{}, zerolog.Nop()); !errors.Is(err, ledger.ErrBotIDRequired) {
		t.Fatalf("expected ErrBotIDRequired, got %v", err)
	}
}

func TestCreate_CoffeeEndToEnd(t *testing.T) {
	provider := inference.ProviderFunc(func(ctx context.Context, prompt string, tool inference.Tool) ([]string, string, error) {
		switch tool.Name {
		case inference.TransactionsToolName:
			return []string{`{"title":"Buy a cup of coffee","currency":"USD","amount":"5"}`}, "raw-completion", nil
		case inference.CategoryToolName:
			return []string{`{"category":"dining_out","type":"outcome"}`}, "", nil
		}
		return nil, "", fmt.Errorf("unexpected tool %s", tool.Name)
	})
	orch := inference.NewOrchestrator(provider, zerolog.Nop(), inference.WithClock(func() time.Time { return baseTime }))

	prompt := "Buy a cup of coffee 5 USD"
	res, completion, err := orch.Infer(context.Background(), inference.ModeText, prompt,
		inference.Options{Currencies: []string{"USD"}, Categories: catalog.Categories()})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	f := newFixture(t)
	msgs, err := f.coord.Create(context.Background(), ledger.CreateInput{
		Prompt: prompt, UserID: userID, Result: res, Completion: completion,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(msgs) != 2 {
		t.Fatalf("expected [bot, user], got %d messages", len(msgs))
	}
	bot, user := msgs[0], msgs[1]

	if bot.FromID != botID || bot.ToID != userID || bot.ThreadID != userID || bot.Content != "" {
		t.Errorf("unexpected bot message: %+v", bot)
	}
	if bot.ReplyToID == nil || *bot.ReplyToID != user.ID {
		t.Errorf("bot should reply to the user message")
	}
	if bot.Completion == nil || *bot.Completion != "raw-completion" {
		t.Errorf("bot completion = %v", bot.Completion)
	}
	if user.Content != prompt || user.FromID != userID || user.ToID != botID || user.ReplyToID != nil || user.Completion != nil {
		t.Errorf("unexpected user message: %+v", user)
	}
	if !user.CreatedAt.Before(bot.CreatedAt) {
		t.Errorf("user message must sort before the bot message: %s vs %s", user.CreatedAt, bot.CreatedAt)
	}

	if bot.Invoice == nil || bot.Invoice.MessageID != bot.ID || bot.Invoice.UserID != userID || bot.Invoice.Total != 5 {
		t.Fatalf("unexpected invoice: %+v", bot.Invoice)
	}
	if len(bot.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(bot.Transactions))
	}
	tx := bot.Transactions[0]
	if tx.Amount != 5 || tx.Currency != "USD" || tx.CategoryID != "dining_out" ||
		tx.MessageID != bot.ID || tx.InvoiceID != bot.Invoice.ID || tx.UserID != userID {
		t.Errorf("unexpected transaction: %+v", tx)
	}

	assertCounts(t, f.store, 2, 1, 1)
}

func TestCreate_TransactionTimestampsIncrease(t *testing.T) {
	f := newFixture(t)
	msgs := f.create(t, userID, "three things", "a", "b", "c")

	txs := msgs[0].Transactions
	for i := 1; i < len(txs); i++ {
		if !txs[i].CreatedAt.After(txs[i-1].CreatedAt) {
			t.Errorf("transaction %d created_at %s not after %s", i, txs[i].CreatedAt, txs[i-1].CreatedAt)
		}
	}
}

func TestCreate_AtomicUnderFault(t *testing.T) {
	for _, op := range []string{"insert_invoice", "insert_messages", "insert_transactions", "commit"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t)
			boom := errors.New("disk full")
			f.store.SetFault(func(got string) error {
				if got == op {
					return boom
				}
				return nil
			})

			_, err := f.coord.Create(context.Background(), ledger.CreateInput{
				Prompt: "coffee", UserID: userID, Result: sampleResult("coffee"),
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected injected error, got %v", err)
			}
			var txErr *ledger.TxError
			if !errors.As(err, &txErr) {
				t.Errorf("expected *TxError, got %T", err)
			}
			assertCounts(t, f.store, 0, 0, 0)
		})
	}
}

func TestCreate_RejectsMissingInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.Create(context.Background(), ledger.CreateInput{UserID: userID}); err == nil {
		t.Error("expected error without a result")
	}
	if _, err := f.coord.Create(context.Background(), ledger.CreateInput{Result: sampleResult()}); err == nil {
		t.Error("expected error without a user")
	}
	assertCounts(t, f.store, 0, 0, 0)
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name string
		pick func(msgs []*ledger.Message) string
	}{
		{"by user message", func(msgs []*ledger.Message) string { return msgs[1].ID }},
		{"by bot message", func(msgs []*ledger.Message) string { return msgs[0].ID }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			msgs := f.create(t, userID, "coffee and cake", "coffee", "cake")
			// Another turn that must survive.
			f.clock = f.clock.Add(time.Minute)
			f.create(t, userID, "bus", "bus")
			assertCounts(t, f.store, 4, 2, 3)

			ok, err := f.coord.Delete(context.Background(), tt.pick(msgs), userID)
			if err != nil || !ok {
				t.Fatalf("Delete = %v, %v", ok, err)
			}
			assertCounts(t, f.store, 2, 1, 1)

			_, err = f.coord.Delete(context.Background(), tt.pick(msgs), userID)
			if !errors.Is(err, ledger.ErrNotFound) {
				t.Errorf("second delete should be not found, got %v", err)
			}
		})
	}
}

func TestDelete_OtherUser(t *testing.T) {
	f := newFixture(t)
	msgs := f.create(t, userID, "coffee", "coffee")

	if _, err := f.coord.Delete(context.Background(), msgs[1].ID, "intruder"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assertCounts(t, f.store, 2, 1, 1)
}

func TestDelete_AtomicUnderFault(t *testing.T) {
	for _, op := range []string{"delete_messages", "delete_invoice", "delete_transactions", "commit"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t)
			msgs := f.create(t, userID, "coffee", "coffee")

			f.store.SetFault(func(got string) error {
				if got == op {
					return errors.New("connection reset")
				}
				return nil
			})

			_, err := f.coord.Delete(context.Background(), msgs[1].ID, userID)
			var txErr *ledger.TxError
			if !errors.As(err, &txErr) {
				t.Fatalf("expected *TxError, got %v", err)
			}
			assertCounts(t, f.store, 2, 1, 1)
		})
	}
}

func TestDelete_UnpairedMessage(t *testing.T) {
	f := newFixture(t)
	err := f.store.WithinTx(context.Background(), func(tx ledger.Tx) error {
		return tx.InsertMessages(context.Background(), []*ledger.Message{{
			ID: "lonely", Content: "hi", FromID: userID, ToID: botID, ThreadID: userID, CreatedAt: baseTime,
		}})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	ok, err := f.coord.Delete(context.Background(), "lonely", userID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	assertCounts(t, f.store, 0, 0, 0)
}

func TestListMessages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.create(t, userID, fmt.Sprintf("turn %d", i), fmt.Sprintf("item %d", i))
		f.clock = f.clock.Add(time.Minute)
	}
	f.create(t, "someone-else", "not mine", "x")

	page, err := f.coord.ListMessages(context.Background(), userID, ledger.ListOptions{Limit: 4})
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(page) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(page))
	}
	for i := 1; i < len(page); i++ {
		if page[i].CreatedAt.After(page[i-1].CreatedAt) {
			t.Errorf("messages not newest first at %d", i)
		}
	}
	if !page[0].IsBot() || page[0].Invoice == nil || len(page[0].Transactions) != 1 || page[0].Transactions[0].Title != "item 2" {
		t.Errorf("newest bot message should carry its turn: %+v", page[0])
	}
	if page[1].IsBot() || page[1].Invoice != nil {
		t.Errorf("user messages carry no invoice")
	}

	before := page[len(page)-1].CreatedAt
	rest, err := f.coord.ListMessages(context.Background(), userID, ledger.ListOptions{Before: &before})
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected remaining 2 messages, got %d", len(rest))
	}
	for _, m := range rest {
		if !m.CreatedAt.Before(before) {
			t.Errorf("message %s is not before the cursor", m.ID)
		}
	}
}

func TestListMessageTransactions(t *testing.T) {
	f := newFixture(t)
	msgs := f.create(t, userID, "coffee and cake", "coffee", "cake")

	txs, err := f.coord.ListMessageTransactions(context.Background(), msgs[0].ID, userID)
	if err != nil {
		t.Fatalf("ListMessageTransactions failed: %v", err)
	}
	if len(txs) != 2 || txs[0].Title != "coffee" {
		t.Errorf("unexpected transactions: %+v", txs)
	}

	// The user sent the user message, so it is not addressed to them.
	if _, err := f.coord.ListMessageTransactions(context.Background(), msgs[1].ID, userID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound for own message, got %v", err)
	}
}

func TestUpdateTransactions(t *testing.T) {
	f := newFixture(t)
	msgs := f.create(t, userID, "coffee", "coffee")
	id := msgs[0].Transactions[0].ID

	title := "flat white"
	amount := 6.5
	typ := inference.TypeDebt
	f.clock = f.clock.Add(time.Hour)
	err := f.coord.UpdateTransactions(context.Background(), userID, []ledger.TransactionPatch{
		{ID: id, Title: &title, Amount: &amount, Type: &typ},
	})
	if err != nil {
		t.Fatalf("UpdateTransactions failed: %v", err)
	}

	txs, _ := f.coord.ListTransactions(context.Background(), userID)
	got := txs[0]
	if got.Title != title || got.Amount != amount || got.Type != typ {
		t.Errorf("patch not applied: %+v", got)
	}
	if got.Currency != "USD" || got.CategoryID != "dining_out" {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if !got.UpdatedAt.Equal(f.clock) {
		t.Errorf("updated_at = %s, want %s", got.UpdatedAt, f.clock)
	}

	err = f.coord.UpdateTransactions(context.Background(), "intruder", []ledger.TransactionPatch{{ID: id, Title: &title}})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound for another user's transaction, got %v", err)
	}
}

func TestDeleteTransactions(t *testing.T) {
	f := newFixture(t)
	msgs := f.create(t, userID, "coffee and cake", "coffee", "cake")
	ids := []string{msgs[0].Transactions[0].ID}

	if err := f.coord.DeleteTransactions(context.Background(), "intruder", ids); err != nil {
		t.Fatalf("DeleteTransactions failed: %v", err)
	}
	assertCounts(t, f.store, 2, 1, 2)

	if err := f.coord.DeleteTransactions(context.Background(), userID, ids); err != nil {
		t.Fatalf("DeleteTransactions failed: %v", err)
	}
	assertCounts(t, f.store, 2, 1, 1)
}

func TestInvoiceMedia(t *testing.T) {
	f := newFixture(t)
	path := "receipts/user-1/abc.jpg"
	mediaType := "image/jpeg"
	msgs, err := f.coord.Create(context.Background(), ledger.CreateInput{
		Prompt: "ocr text", UserID: userID, Result: sampleResult("milk"),
		MediaPath: &path, MediaType: &mediaType,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	plain := f.create(t, userID, "coffee", "coffee")

	got, err := f.coord.InvoiceMedia(context.Background(), msgs[0].Invoice.ID, userID)
	if err != nil || got != path {
		t.Errorf("InvoiceMedia = %q, %v", got, err)
	}
	if _, err := f.coord.InvoiceMedia(context.Background(), plain[0].Invoice.ID, userID); !errors.Is(err, ledger.ErrNoMedia) {
		t.Errorf("expected ErrNoMedia, got %v", err)
	}
	if _, err := f.coord.InvoiceMedia(context.Background(), msgs[0].Invoice.ID, "intruder"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
