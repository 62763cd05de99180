// Package export renders a user's transactions as a spreadsheet.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/ledger-assistant/internal/catalog"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
)

// SheetName is the worksheet holding the transactions.
const SheetName = "Transactions"

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headers = []string{"Date", "Title", "Amount", "Currency", "Category", "Type", "Quantity", "Unit"}

// WriteTransactions writes txs as an xlsx workbook to w.
func WriteTransactions(w io.Writer, txs []ledger.Transaction) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("WriteTransactions: rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return fmt.Errorf("WriteTransactions: header: %w", err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(SheetName, 1, 1, bold)
	}
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	if err != nil {
		return fmt.Errorf("WriteTransactions: date style: %w", err)
	}

	for i, tx := range txs {
		row := i + 2
		values := []interface{}{
			tx.IssuedAt.UTC(),
			tx.Title,
			tx.Amount,
			tx.Currency,
			categoryName(tx.CategoryID),
			string(tx.Type),
			tx.Quantity,
			deref(tx.Unit),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("WriteTransactions: row %d: %w", row, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, dateStyle); err != nil {
			return fmt.Errorf("WriteTransactions: row %d style: %w", row, err)
		}
	}

	if err := f.SetColWidth(SheetName, "A", "A", 12); err != nil {
		return fmt.Errorf("WriteTransactions: column width: %w", err)
	}
	if err := f.SetColWidth(SheetName, "B", "B", 32); err != nil {
		return fmt.Errorf("WriteTransactions: column width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("WriteTransactions: write: %w", err)
	}
	return nil
}

func categoryName(id string) string {
	if c, ok := catalog.Lookup(id); ok {
		return c.Name
	}
	return id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
