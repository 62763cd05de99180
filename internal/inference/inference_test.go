package inference

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/catalog"
)

// mockProvider answers per tool name and records the calls it received.
type mockProvider struct {
	mu        sync.Mutex
	calls     []string
	prompts   map[string]string
	responses map[string][]string
	errs      map[string]error
	CallFunc  func(ctx context.Context, prompt string, tool Tool) ([]string, string, error)
}

func (m *mockProvider) Call(ctx context.Context, prompt string, tool Tool) ([]string, string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, tool.Name)
	if m.prompts == nil {
		m.prompts = map[string]string{}
	}
	m.prompts[tool.Name] = prompt
	m.mu.Unlock()

	if m.CallFunc != nil {
		return m.CallFunc(ctx, prompt, tool)
	}
	if err := m.errs[tool.Name]; err != nil {
		return nil, "", err
	}
	return m.responses[tool.Name], "completion:" + tool.Name, nil
}

func (m *mockProvider) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == name {
			n++
		}
	}
	return n
}

var fixedNow = time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(p Provider) *Orchestrator {
	return NewOrchestrator(p, zerolog.Nop(), WithClock(func() time.Time { return fixedNow }))
}

func testOptions() Options {
	return Options{Currencies: []string{"USD"}, Categories: catalog.Categories()}
}

func TestMergeClassifications(t *testing.T) {
	placeholder := TransactionResult{Currency: "USD", Quantity: 1, IssuedAt: fixedNow}
	tx := func(title string) TransactionResult {
		return TransactionResult{Title: title, Amount: 1, Currency: "USD", CategoryID: "unknown", Type: TypeOutcome, Quantity: 1}
	}
	cat := func(id string, typ TransactionType) CategoryResult {
		return CategoryResult{CategoryID: id, Type: typ}
	}

	tests := []struct {
		name       string
		txs        []TransactionResult
		categories []CategoryResult
		want       []TransactionResult
	}{
		{
			name:       "equal lengths",
			txs:        []TransactionResult{tx("coffee"), tx("salary")},
			categories: []CategoryResult{cat("dining_out", TypeOutcome), cat("miscellaneous", TypeIncome)},
			want: []TransactionResult{
				{Title: "coffee", Amount: 1, Currency: "USD", CategoryID: "dining_out", Type: TypeOutcome, Quantity: 1},
				{Title: "salary", Amount: 1, Currency: "USD", CategoryID: "miscellaneous", Type: TypeIncome, Quantity: 1},
			},
		},
		{
			name:       "more transactions",
			txs:        []TransactionResult{tx("coffee"), tx("bus")},
			categories: []CategoryResult{cat("dining_out", TypeOutcome)},
			want: []TransactionResult{
				{Title: "coffee", Amount: 1, Currency: "USD", CategoryID: "dining_out", Type: TypeOutcome, Quantity: 1},
				tx("bus"),
			},
		},
		{
			name:       "more classifications",
			txs:        []TransactionResult{tx("coffee")},
			categories: []CategoryResult{cat("dining_out", TypeOutcome), cat("travel", TypeDebt)},
			want: []TransactionResult{
				{Title: "coffee", Amount: 1, Currency: "USD", CategoryID: "dining_out", Type: TypeOutcome, Quantity: 1},
				{Currency: "USD", Quantity: 1, IssuedAt: fixedNow, CategoryID: "travel", Type: TypeDebt},
			},
		},
		{
			name:       "no classifications",
			txs:        []TransactionResult{tx("coffee")},
			categories: nil,
			want:       []TransactionResult{tx("coffee")},
		},
		{
			name:       "nothing",
			txs:        nil,
			categories: nil,
			want:       []TransactionResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeClassifications(tt.txs, tt.categories, placeholder)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Title != tt.want[i].Title ||
					got[i].CategoryID != tt.want[i].CategoryID ||
					got[i].Type != tt.want[i].Type ||
					got[i].Amount != tt.want[i].Amount ||
					got[i].Currency != tt.want[i].Currency ||
					got[i].Quantity != tt.want[i].Quantity ||
					!got[i].IssuedAt.Equal(tt.want[i].IssuedAt) {
					t.Errorf("entry %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMergeClassifications_LengthIsMax(t *testing.T) {
	for n := 0; n < 4; n++ {
		for m := 0; m < 4; m++ {
			txs := make([]TransactionResult, n)
			cats := make([]CategoryResult, m)
			got := mergeClassifications(txs, cats, TransactionResult{})
			want := n
			if m > n {
				want = m
			}
			if len(got) != want {
				t.Errorf("merge(%d, %d) len = %d, want %d", n, m, len(got), want)
			}
		}
	}
}

func TestTextInference_Coffee(t *testing.T) {
	p := &mockProvider{responses: map[string][]string{
		TransactionsToolName: {`{"title":"Buy a cup of coffee","currency":"USD","amount":"5"}`},
		CategoryToolName:     {`{"category":"dining_out","type":"outcome"}`},
	}}

	result, completion, err := newTestOrchestrator(p).Infer(context.Background(), ModeText, "Buy a cup of coffee 5 USD", testOptions())
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	if completion != "completion:"+TransactionsToolName {
		t.Errorf("completion = %q, want the extraction completion", completion)
	}
	if len(result.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(result.Transactions))
	}
	tx := result.Transactions[0]
	if tx.Amount != 5 || tx.Currency != "USD" || tx.CategoryID != "dining_out" || tx.Type != TypeOutcome {
		t.Errorf("unexpected transaction: %+v", tx)
	}
	if result.Total != 5 || result.Subtotal == nil || *result.Subtotal != 5 {
		t.Errorf("unexpected totals: total=%v subtotal=%v", result.Total, result.Subtotal)
	}
	if !tx.IssuedAt.Equal(fixedNow) {
		t.Errorf("issued_at = %s, want %s", tx.IssuedAt, fixedNow)
	}
	if p.callCount(TransactionsToolName) != 1 || p.callCount(CategoryToolName) != 1 {
		t.Errorf("unexpected calls: %v", p.calls)
	}
}

func TestTextInference_NormalisesAmountsAndDates(t *testing.T) {
	p := &mockProvider{responses: map[string][]string{
		TransactionsToolName: {
			`{"title":"Rent","currency":"VND","amount":"3.5tr","date":"last month"}`,
			`{"title":"Lunch","currency":"VND","amount":"40k","quantity":2,"unit":"set","date":"yesterday"}`,
			`not json`,
		},
	}}

	opts := Options{Currencies: []string{"VND"}}
	result, _, err := newTestOrchestrator(p).Infer(context.Background(), ModeText, "rent 3.5tr last month, 2 lunch sets 40k yesterday", opts)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	if len(result.Transactions) != 2 {
		t.Fatalf("expected undecodable result to be dropped, got %d transactions", len(result.Transactions))
	}
	if result.Transactions[0].Amount != 3_500_000 {
		t.Errorf("rent amount = %v", result.Transactions[0].Amount)
	}
	if want := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC); !result.Transactions[0].IssuedAt.Equal(want) {
		t.Errorf("rent issued_at = %s, want %s", result.Transactions[0].IssuedAt, want)
	}
	lunch := result.Transactions[1]
	if lunch.Amount != 40_000 || lunch.Quantity != 2 || lunch.Unit == nil || *lunch.Unit != "set" {
		t.Errorf("unexpected lunch: %+v", lunch)
	}
	if lunch.CategoryID != catalog.UnknownCategoryID || lunch.Type != TypeOutcome {
		t.Errorf("lunch should keep the default category, got %s/%s", lunch.CategoryID, lunch.Type)
	}
	if result.Total != 3_540_000 {
		t.Errorf("total = %v, want 3540000", result.Total)
	}
	if result.Currency != "VND" || !result.IssuedAt.Equal(result.Transactions[0].IssuedAt) {
		t.Errorf("wrapper should follow the first transaction, got %s at %s", result.Currency, result.IssuedAt)
	}
	// No categories supplied means no classification call.
	if p.callCount(CategoryToolName) != 0 {
		t.Errorf("classifier should not be called without categories")
	}
}

func TestTextInference_NoTransactionsUsesDefaults(t *testing.T) {
	p := &mockProvider{responses: map[string][]string{
		CategoryToolName: {`{"category":"groceries","type":"outcome"}`},
	}}

	result, _, err := newTestOrchestrator(p).Infer(context.Background(), ModeText, "hello", Options{Categories: catalog.Categories()})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if result.Currency != DefaultCurrency || !result.IssuedAt.Equal(fixedNow) {
		t.Errorf("expected default currency and now, got %s at %s", result.Currency, result.IssuedAt)
	}
	if len(result.Transactions) != 1 || result.Transactions[0].CategoryID != "groceries" || result.Transactions[0].Title != "" {
		t.Errorf("expected one placeholder transaction, got %+v", result.Transactions)
	}
}

func TestTextInference_ProviderFailureAbortsBoth(t *testing.T) {
	boom := errors.New("rate limited")
	p := &mockProvider{}
	p.CallFunc = func(ctx context.Context, prompt string, tool Tool) ([]string, string, error) {
		if tool.Name == CategoryToolName {
			return nil, "", boom
		}
		<-ctx.Done()
		return nil, "", ctx.Err()
	}

	_, _, err := newTestOrchestrator(p).Infer(context.Background(), ModeText, "coffee 5", testOptions())
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Tool != CategoryToolName {
		t.Errorf("expected ProviderError for %s, got %v", CategoryToolName, err)
	}
}

func TestInference_EmptyPrompt(t *testing.T) {
	for _, mode := range []Mode{ModeText, ModeInvoice} {
		t.Run(string(mode), func(t *testing.T) {
			p := &mockProvider{}
			_, _, err := newTestOrchestrator(p).Infer(context.Background(), mode, "   ", testOptions())
			if !errors.Is(err, ErrEmptyPrompt) {
				t.Fatalf("expected ErrEmptyPrompt, got %v", err)
			}
			if len(p.calls) != 0 {
				t.Errorf("expected no provider calls, got %v", p.calls)
			}
		})
	}
}

func TestInvoiceInference(t *testing.T) {
	invoiceArgs := `{
		"timestamp": "2024-02-01T09:30:00Z",
		"purchased_items": [
			{"title": "Milk", "amount": 2.5, "quantity": 2, "unit": "liter"},
			{"title": "Bread", "amount": 1.2}
		],
		"discounts": [
			{"discount_for_item": "Milk", "discount_rate": 10, "discount_amount": 0.25},
			{"discount_for_item": "Bread", "discount_rate": 0, "discount_amount": 0}
		],
		"taxes": [{"tax_rate": 8, "tax_amount": 0.3}, {"tax_rate": 0, "tax_amount": 0}],
		"subtotal": 3.7,
		"total": 4.0,
		"currency": "EUR",
		"card_number": 4242
	}`
	p := &mockProvider{responses: map[string][]string{
		InvoiceToolName:  {invoiceArgs},
		CategoryToolName: {`{"category":"groceries","type":"outcome"}`},
	}}

	opts := Options{Currencies: []string{"EUR"}, Categories: catalog.Categories()}
	result, completion, err := newTestOrchestrator(p).Infer(context.Background(), ModeInvoice, "MILK 2x 2.50 BREAD 1.20", opts)
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}

	if completion != "completion:"+InvoiceToolName {
		t.Errorf("unexpected completion %q", completion)
	}
	if p.prompts[CategoryToolName] != "Milk" {
		t.Errorf("classifier should be seeded with the first title, got %q", p.prompts[CategoryToolName])
	}
	if want := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC); !result.IssuedAt.Equal(want) {
		t.Errorf("issued_at = %s, want %s", result.IssuedAt, want)
	}
	if len(result.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(result.Transactions))
	}
	for _, tx := range result.Transactions {
		if tx.CategoryID != "groceries" || tx.Currency != "EUR" {
			t.Errorf("line item %q: category %s currency %s", tx.Title, tx.CategoryID, tx.Currency)
		}
	}
	if result.Transactions[0].Quantity != 2 || result.Transactions[1].Quantity != 1 {
		t.Errorf("unexpected quantities: %v, %v", result.Transactions[0].Quantity, result.Transactions[1].Quantity)
	}
	if len(result.Discounts) != 1 || result.Discounts[0].Name != "Milk" {
		t.Errorf("zero-amount discounts should be dropped, got %+v", result.Discounts)
	}
	if len(result.Taxes) != 1 || result.Taxes[0].Amount != 0.3 {
		t.Errorf("zero-amount taxes should be dropped, got %+v", result.Taxes)
	}
	if result.CardNumber == nil || *result.CardNumber != "4242" {
		t.Errorf("card number = %v", result.CardNumber)
	}
	if result.Subtotal == nil || *result.Subtotal != 3.7 || result.Total != 4.0 {
		t.Errorf("unexpected totals %v / %v", result.Subtotal, result.Total)
	}
	if p.callCount(TransactionsToolName) != 0 {
		t.Errorf("invoice mode must not run the text extractor")
	}
}

func TestInvoiceInference_Failures(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"no result", nil, ErrNoInvoice},
		{"no items", []string{`{"purchased_items": [], "total": 0}`}, ErrNoTransactions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{responses: map[string][]string{InvoiceToolName: tt.args}}
			_, _, err := newTestOrchestrator(p).Infer(context.Background(), ModeInvoice, "receipt", testOptions())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if p.callCount(CategoryToolName) != 0 {
				t.Errorf("classifier should not run after a failed extraction")
			}
		})
	}
}

func TestInvoiceInference_UnclassifiedKeepsDefault(t *testing.T) {
	p := &mockProvider{responses: map[string][]string{
		InvoiceToolName: {`{"purchased_items": [{"title": "Widget", "amount": "1.5k"}], "total": 1500}`},
	}}

	result, _, err := newTestOrchestrator(p).Infer(context.Background(), ModeInvoice, "WIDGET 1.5k", testOptions())
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	tx := result.Transactions[0]
	if tx.CategoryID != catalog.UnknownCategoryID || tx.Type != TypeOutcome {
		t.Errorf("expected default category, got %s/%s", tx.CategoryID, tx.Type)
	}
	if tx.Amount != 1500 {
		t.Errorf("string amounts should be normalised, got %v", tx.Amount)
	}
	if result.Currency != "USD" {
		t.Errorf("missing currency should fall back to the first allowed, got %q", result.Currency)
	}
}

func TestClassifier_SkipsEmptyInput(t *testing.T) {
	p := &mockProvider{}
	c := NewClassifier(p, zerolog.Nop())

	if res, err := c.Classify(context.Background(), "", catalog.Categories()); err != nil || res != nil {
		t.Errorf("empty description: got %v, %v", res, err)
	}
	if res, err := c.Classify(context.Background(), "coffee", nil); err != nil || res != nil {
		t.Errorf("empty categories: got %v, %v", res, err)
	}
	if len(p.calls) != 0 {
		t.Errorf("expected no provider calls, got %v", p.calls)
	}
}

func TestClassifier_DropsBadItems(t *testing.T) {
	p := &mockProvider{responses: map[string][]string{
		CategoryToolName: {"```json\n{\"category\":\"travel\",\"type\":\"outcome\"}\n```", `{"category":`, `{"category":"pets","type":"other"}`},
	}}

	res, err := NewClassifier(p, zerolog.Nop()).Classify(context.Background(), "flight and cat food", catalog.Categories())
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(res) != 2 || res[0].CategoryID != "travel" || res[1].CategoryID != "pets" || res[1].Type != TypeOther {
		t.Errorf("unexpected results: %+v", res)
	}
}

func TestToolSchemas(t *testing.T) {
	required := func(tool Tool) []string {
		return tool.Parameters["required"].([]string)
	}
	enumOf := func(tool Tool, field string) []string {
		props := tool.Parameters["properties"].(map[string]any)
		return props[field].(map[string]any)["enum"].([]string)
	}

	cat := CategoryTool([]string{"housing", "unknown"})
	if cat.Name != "infer_transactions_category" {
		t.Errorf("category tool name = %q", cat.Name)
	}
	if got := required(cat); len(got) != 2 || got[0] != "category" || got[1] != "type" {
		t.Errorf("category required = %v", got)
	}
	if got := enumOf(cat, "type"); len(got) != 4 || got[0] != "income" || got[3] != "other" {
		t.Errorf("type enum = %v", got)
	}

	inv := InvoiceTool([]string{"EUR"})
	if got := required(inv); len(got) != 2 || got[0] != "purchased_items" || got[1] != "total" {
		t.Errorf("invoice required = %v", got)
	}
	if got := enumOf(inv, "currency"); len(got) != 1 || got[0] != "EUR" {
		t.Errorf("invoice currency enum = %v", got)
	}

	txs := TransactionsTool(nil)
	if got := required(txs); len(got) != 3 || got[2] != "amount" {
		t.Errorf("transactions required = %v", got)
	}

	// The wire schema encodes an empty enum as [] and stays stable.
	data, err := json.Marshal(txs.Parameters["properties"].(map[string]any)["currency"])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"description":"Currency to infer transactions for","enum":[],"type":"string"}`
	if string(data) != want {
		t.Errorf("currency schema = %s, want %s", data, want)
	}
}

func TestParseModeAndKind(t *testing.T) {
	if m, err := ParseMode("invoice"); err != nil || m != ModeInvoice {
		t.Errorf("ParseMode(invoice) = %v, %v", m, err)
	}
	if _, err := ParseMode("voice"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if k, err := ParseKind("anthropic"); err != nil || k != KindAnthropic {
		t.Errorf("ParseKind(anthropic) = %v, %v", k, err)
	}
	if _, err := ParseKind("llama"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
