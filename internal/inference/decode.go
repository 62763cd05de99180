package inference

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/dvloznov/ledger-assistant/internal/normalize"
)

// flexAmount accepts a JSON number or a string such as "40k".
type flexAmount float64

func (a *flexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = flexAmount(normalize.Amount(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = flexAmount(f)
	return nil
}

// flexString accepts a JSON string or number (card digits come back as both).
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type rawCategory struct {
	Category string `json:"category"`
	Type     string `json:"type"`
}

type rawTransaction struct {
	Title    string     `json:"title"`
	Currency string     `json:"currency"`
	Amount   flexAmount `json:"amount"`
	Quantity *float64   `json:"quantity"`
	Unit     *string    `json:"unit"`
	Date     *string    `json:"date"`
}

type rawPurchasedItem struct {
	Title    string     `json:"title"`
	Quantity *float64   `json:"quantity"`
	Amount   flexAmount `json:"amount"`
	Unit     *string    `json:"unit"`
}

type rawDiscount struct {
	DiscountForItem string     `json:"discount_for_item"`
	DiscountRate    float64    `json:"discount_rate"`
	DiscountAmount  flexAmount `json:"discount_amount"`
}

type rawTax struct {
	TaxRate   float64    `json:"tax_rate"`
	TaxAmount flexAmount `json:"tax_amount"`
}

type rawInvoice struct {
	Timestamp      *string            `json:"timestamp"`
	PurchasedItems []rawPurchasedItem `json:"purchased_items"`
	Discounts      []rawDiscount      `json:"discounts"`
	Taxes          []rawTax           `json:"taxes"`
	Subtotal       *flexAmount        `json:"subtotal"`
	Total          flexAmount         `json:"total"`
	Currency       string             `json:"currency"`
	CardNumber     *flexString        `json:"card_number"`
}

func decodeCategory(args string) (CategoryResult, error) {
	var raw rawCategory
	if err := json.Unmarshal([]byte(cleanArguments(args)), &raw); err != nil {
		return CategoryResult{}, err
	}
	return CategoryResult{CategoryID: raw.Category, Type: TransactionType(raw.Type)}, nil
}

func decodeTransaction(args string, now time.Time) (TransactionResult, error) {
	var raw rawTransaction
	if err := json.Unmarshal([]byte(cleanArguments(args)), &raw); err != nil {
		return TransactionResult{}, err
	}

	def := DefaultCategory()
	tx := TransactionResult{
		Title:      raw.Title,
		Amount:     float64(raw.Amount),
		Currency:   raw.Currency,
		CategoryID: def.CategoryID,
		Type:       def.Type,
		Quantity:   1,
		Unit:       raw.Unit,
		IssuedAt:   now,
	}
	if raw.Quantity != nil {
		tx.Quantity = *raw.Quantity
	}
	if raw.Date != nil {
		tx.IssuedAt = normalize.Date(now, *raw.Date)
	}
	return tx, nil
}

func decodeInvoice(args string, now time.Time, fallbackCurrency string) (*InvoiceResult, error) {
	var raw rawInvoice
	if err := json.Unmarshal([]byte(cleanArguments(args)), &raw); err != nil {
		return nil, err
	}

	currency := raw.Currency
	if currency == "" {
		currency = fallbackCurrency
	}

	inv := &InvoiceResult{
		IssuedAt:     now,
		Transactions: make([]TransactionResult, 0, len(raw.PurchasedItems)),
		Taxes:        []TaxResult{},
		Discounts:    []DiscountResult{},
		Total:        float64(raw.Total),
		Currency:     currency,
	}
	if raw.Timestamp != nil {
		inv.IssuedAt = normalize.Date(now, *raw.Timestamp)
	}
	if raw.Subtotal != nil {
		v := float64(*raw.Subtotal)
		inv.Subtotal = &v
	}
	if raw.CardNumber != nil && *raw.CardNumber != "" {
		v := string(*raw.CardNumber)
		inv.CardNumber = &v
	}

	def := DefaultCategory()
	for _, item := range raw.PurchasedItems {
		tx := TransactionResult{
			Title:      item.Title,
			Amount:     float64(item.Amount),
			Currency:   currency,
			CategoryID: def.CategoryID,
			Type:       def.Type,
			Quantity:   1,
			Unit:       item.Unit,
			IssuedAt:   inv.IssuedAt,
		}
		if item.Quantity != nil {
			tx.Quantity = *item.Quantity
		}
		inv.Transactions = append(inv.Transactions, tx)
	}

	for _, d := range raw.Discounts {
		if d.DiscountAmount == 0 {
			continue
		}
		inv.Discounts = append(inv.Discounts, DiscountResult{
			Name:   d.DiscountForItem,
			Rate:   d.DiscountRate,
			Amount: float64(d.DiscountAmount),
		})
	}
	for _, t := range raw.Taxes {
		if t.TaxAmount == 0 {
			continue
		}
		inv.Taxes = append(inv.Taxes, TaxResult{Rate: t.TaxRate, Amount: float64(t.TaxAmount)})
	}

	return inv, nil
}

// cleanArguments strips Markdown fences some models wrap around JSON.
func cleanArguments(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	if start := strings.Index(s, "{"); start > 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
