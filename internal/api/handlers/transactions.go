package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/export"
	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
)

// TransactionsHandler handles transaction edits and export.
type TransactionsHandler struct {
	ledger Ledger
	now    func() time.Time
	log    zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(l Ledger, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		ledger: l,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log,
	}
}

type transactionPatchRequest struct {
	ID         string     `json:"id" validate:"required"`
	Title      *string    `json:"title" validate:"omitempty,max=255"`
	Amount     *float64   `json:"amount"`
	Currency   *string    `json:"currency" validate:"omitempty,known_currency"`
	CategoryID *string    `json:"category_id" validate:"omitempty,known_category"`
	Type       *string    `json:"type" validate:"omitempty,oneof=income outcome debt other"`
	Unit       *string    `json:"unit" validate:"omitempty,max=32"`
	Quantity   *float64   `json:"quantity" validate:"omitempty,gt=0"`
	IssuedAt   *time.Time `json:"issued_at"`
}

func (p transactionPatchRequest) toPatch() ledger.TransactionPatch {
	patch := ledger.TransactionPatch{
		ID:         p.ID,
		Title:      p.Title,
		Amount:     p.Amount,
		Currency:   p.Currency,
		CategoryID: p.CategoryID,
		Unit:       p.Unit,
		Quantity:   p.Quantity,
		IssuedAt:   p.IssuedAt,
	}
	if p.Type != nil {
		t := inference.TransactionType(*p.Type)
		patch.Type = &t
	}
	return patch
}

type updateTransactionsRequest struct {
	Transactions []transactionPatchRequest `json:"transactions" validate:"required,min=1,max=500,dive"`
}

type deleteTransactionsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required"`
}

// UpdateTransactions handles PATCH /api/transactions
func (h *TransactionsHandler) UpdateTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req updateTransactionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid transaction update")
		return
	}

	patches := make([]ledger.TransactionPatch, 0, len(req.Transactions))
	for _, p := range req.Transactions {
		patches = append(patches, p.toPatch())
	}

	if err := h.ledger.UpdateTransactions(r.Context(), user.ID, patches); err != nil {
		writeError(w, h.log, err, "Failed to update transactions")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteTransactions handles DELETE /api/transactions
func (h *TransactionsHandler) DeleteTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req deleteTransactionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid transaction delete")
		return
	}

	if err := h.ledger.DeleteTransactions(r.Context(), user.ID, req.IDs); err != nil {
		writeError(w, h.log, err, "Failed to delete transactions")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportTransactions handles GET /api/transactions/export
func (h *TransactionsHandler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.log, err, "Failed to list transactions")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteTransactions(&buf, txs); err != nil {
		writeError(w, h.log, err, "Failed to export transactions")
		return
	}

	filename := fmt.Sprintf("transactions-%s.xlsx", h.now().Format("2006-01-02"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
