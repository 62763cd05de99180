package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/ledger-assistant/internal/ledger"
)

func TestWithinTx_StagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertMessages(ctx, []*ledger.Message{{ID: "m1", FromID: "u", ToID: "b", ThreadID: "u"}}); err != nil {
			return err
		}
		if _, err := s.FindMessage(ctx, "m1"); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("staged write should not be visible before commit, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	if _, err := s.FindMessage(ctx, "m1"); err != nil {
		t.Errorf("committed write should be visible: %v", err)
	}
}

func TestWithinTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertInvoice(ctx, &ledger.Invoice{ID: "i1", UserID: "u"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, invoices, _ := s.Counts(); invoices != 0 {
		t.Errorf("rolled back invoice is visible")
	}
}

func TestInsert_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := New()
	insert := func() error {
		return s.WithinTx(ctx, func(tx ledger.Tx) error {
			return tx.InsertTransactions(ctx, []ledger.Transaction{{ID: "t1", UserID: "u"}})
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	path := "bucket/a.jpg"
	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertInvoice(ctx, &ledger.Invoice{
			ID: "i1", UserID: "u", MessageID: "m1", MediaPath: &path,
			Taxes: []ledger.Tax{{Rate: 10, Amount: 1}},
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	inv, _ := s.FindInvoice(ctx, "i1", "u")
	inv.Taxes[0].Amount = 99
	*inv.MediaPath = "changed"

	again, _ := s.FindInvoiceByMessageID(ctx, "m1", "u")
	if again.Taxes[0].Amount != 1 || *again.MediaPath != "bucket/a.jpg" {
		t.Errorf("stored invoice was mutated through a read: %+v", again)
	}
	if _, err := s.FindInvoice(ctx, "i1", "other"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("invoice of another user should be hidden, got %v", err)
	}
}

func TestListMessages_OrderAndCursor(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []*ledger.Message{
		{ID: "a", ThreadID: "u", CreatedAt: base},
		{ID: "b", ThreadID: "u", CreatedAt: base.Add(time.Second)},
		{ID: "c", ThreadID: "u", CreatedAt: base.Add(2 * time.Second)},
		{ID: "x", ThreadID: "v", CreatedAt: base.Add(3 * time.Second)},
	}
	if err := s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.InsertMessages(ctx, msgs) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, _ := s.ListMessages(ctx, "u", ledger.ListOptions{Limit: 2})
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("page = %+v", got)
	}

	before := base.Add(time.Second)
	got, _ = s.ListMessages(ctx, "u", ledger.ListOptions{Before: &before})
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("cursor page = %+v", got)
	}
}

func TestUpdateTransaction_OwnerOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed := ledger.Transaction{ID: "t1", UserID: "u", Title: "coffee"}
	if err := s.WithinTx(ctx, func(tx ledger.Tx) error { return tx.InsertTransactions(ctx, []ledger.Transaction{seed}) }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.WithinTx(ctx, func(tx ledger.Tx) error {
		return tx.UpdateTransaction(ctx, ledger.Transaction{ID: "t1", UserID: "intruder", Title: "stolen"})
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	txs, _ := s.ListTransactions(ctx, "u")
	if len(txs) != 1 || txs[0].Title != "coffee" {
		t.Errorf("transaction changed: %+v", txs)
	}
}
