package gormstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/dvloznov/ledger-assistant/internal/ledger"
)

const insertBatchSize = 100

// tx runs every statement on the transaction handle given by gorm.
type tx struct {
	db *gorm.DB
}

var _ ledger.Tx = (*tx)(nil)

func (t *tx) InsertInvoice(ctx context.Context, inv *ledger.Invoice) error {
	row := toInvoiceRow(inv)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return insertErr("invoice", err)
	}
	return nil
}

func (t *tx) InsertMessages(ctx context.Context, msgs []*ledger.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]messageRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, toMessageRow(m))
	}
	if err := t.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return insertErr("messages", err)
	}
	return nil
}

func (t *tx) InsertTransactions(ctx context.Context, txs []ledger.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([]transactionRow, 0, len(txs))
	for _, x := range txs {
		rows = append(rows, toTransactionRow(x))
	}
	if err := t.db.WithContext(ctx).CreateInBatches(&rows, insertBatchSize).Error; err != nil {
		return insertErr("transactions", err)
	}
	return nil
}

func (t *tx) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.db.WithContext(ctx).Where("id IN ?", ids).Delete(&messageRow{}).Error; err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	return nil
}

func (t *tx) DeleteInvoice(ctx context.Context, id string) error {
	if err := t.db.WithContext(ctx).Where("id = ?", id).Delete(&invoiceRow{}).Error; err != nil {
		return fmt.Errorf("deleting invoice: %w", err)
	}
	return nil
}

func (t *tx) DeleteTransactions(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Delete(&transactionRow{}).Error
	if err != nil {
		return fmt.Errorf("deleting transactions: %w", err)
	}
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, x ledger.Transaction) error {
	row := toTransactionRow(x)
	res := t.db.WithContext(ctx).
		Model(&transactionRow{}).
		Where("id = ? AND user_id = ?", x.ID, x.UserID).
		Updates(map[string]any{
			"title":       row.Title,
			"amount":      row.Amount,
			"currency":    row.Currency,
			"category_id": row.CategoryID,
			"type":        row.Type,
			"unit":        row.Unit,
			"quantity":    row.Quantity,
			"issued_at":   row.IssuedAt,
			"updated_at":  row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("updating transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
