package gormstore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"mysql 1062", &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"wrapped mysql 1062", fmt.Errorf("insert: %w", &mysqlDriver.MySQLError{Number: 1062}), true},
		{"other mysql error", &mysqlDriver.MySQLError{Number: 1146}, false},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDuplicateKeyErr(tt.err); got != tt.want {
				t.Errorf("isDuplicateKeyErr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInsertErr(t *testing.T) {
	err := insertErr("invoice", &mysqlDriver.MySQLError{Number: 1062})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	boom := errors.New("boom")
	err = insertErr("invoice", boom)
	if !errors.Is(err, boom) || errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected wrapped boom, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	if err := notFound(fmt.Errorf("first: %w", gorm.ErrRecordNotFound)); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ledger.ErrNotFound, got %v", err)
	}
	boom := errors.New("boom")
	if err := notFound(boom); err != boom {
		t.Errorf("expected boom unchanged, got %v", err)
	}
}

func TestInvoiceRow_NilSlicesBecomeEmpty(t *testing.T) {
	row := toInvoiceRow(&ledger.Invoice{ID: "i1"})
	if row.Taxes == nil || row.Discounts == nil {
		t.Fatalf("taxes and discounts must serialise as [] not null: %+v", row)
	}

	inv := (invoiceRow{ID: "i1"}).toLedger()
	if inv.Taxes == nil || inv.Discounts == nil {
		t.Errorf("read-back slices must be non-nil: %+v", inv)
	}
}

func TestRowMapping_NormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	local := time.Date(2024, 2, 10, 19, 0, 0, 0, loc)
	unit := "kg"

	row := toTransactionRow(ledger.Transaction{
		ID:         "t1",
		UserID:     "u",
		Title:      "Rice",
		Amount:     42000,
		Currency:   "VND",
		CategoryID: "groceries",
		Type:       inference.TypeOutcome,
		Unit:       &unit,
		Quantity:   2,
		IssuedAt:   local,
		CreatedAt:  local,
		UpdatedAt:  local,
	})
	if row.IssuedAt.Location() != time.UTC || !row.IssuedAt.Equal(local) {
		t.Errorf("IssuedAt = %v, want %v in UTC", row.IssuedAt, local)
	}
	if row.Type != "outcome" {
		t.Errorf("Type = %q, want outcome", row.Type)
	}

	back := row.toLedger()
	if back.Type != inference.TypeOutcome || back.Unit == nil || *back.Unit != "kg" || back.Quantity != 2 {
		t.Errorf("round trip lost fields: %+v", back)
	}
}

func TestMessageRow_KeepsReplyTo(t *testing.T) {
	reply := "m-user"
	row := toMessageRow(&ledger.Message{ID: "m-bot", FromID: "bot", ToID: "u", ThreadID: "u", ReplyToID: &reply})
	if row.ReplyToID == nil || *row.ReplyToID != reply {
		t.Fatalf("reply_to lost: %+v", row)
	}
	if got := row.toLedger(); !got.IsBot() {
		t.Errorf("message with reply_to should read back as the bot message")
	}
}

func TestTableNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{(messageRow{}).TableName(), "messages"},
		{(invoiceRow{}).TableName(), "invoices"},
		{(transactionRow{}).TableName(), "transactions"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("TableName() = %q, want %q", tt.got, tt.want)
		}
	}
}
