package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/api/middleware"
	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
	"github.com/dvloznov/ledger-assistant/internal/media"
)

// MaxListLimit caps the page size of GET /api/messages.
const MaxListLimit = 100

// MessagesHandler handles the user's thread.
type MessagesHandler struct {
	ledger Ledger
	turns  *Turns
	log    zerolog.Logger
}

// NewMessagesHandler creates a new messages handler.
func NewMessagesHandler(l Ledger, turns *Turns, log zerolog.Logger) *MessagesHandler {
	return &MessagesHandler{ledger: l, turns: turns, log: log}
}

type createMessageRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
}

// ListMessages handles GET /api/messages?after=&limit=
// after is the created_at of the oldest message already loaded.
func (h *MessagesHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	opts := ledger.ListOptions{}
	limit, set, err := queryInt(r, "limit")
	if err == nil && set && (limit < 1 || limit > MaxListLimit) {
		err = &ValidationError{Fields: []string{"limit (range)"}}
	}
	if err != nil {
		writeError(w, h.log, err, "Invalid limit")
		return
	}
	opts.Limit = limit

	if after := r.URL.Query().Get("after"); after != "" {
		ts, perr := time.Parse(time.RFC3339Nano, after)
		if perr != nil {
			writeError(w, h.log, &ValidationError{Fields: []string{"after (rfc3339)"}}, "Invalid cursor")
			return
		}
		opts.Before = &ts
	}

	msgs, err := h.ledger.ListMessages(r.Context(), user.ID, opts)
	if err != nil {
		writeError(w, h.log, err, "Failed to list messages")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// CreateMessage handles POST /api/messages
func (h *MessagesHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err, "Invalid message")
		return
	}

	h.turns.serve(w, r, user, inference.ModeText, func(context.Context) (string, *media.Uploaded, error) {
		return req.Prompt, nil, nil
	})
}

// DeleteMessage handles DELETE /api/messages/{id}
func (h *MessagesHandler) DeleteMessage(w http.ResponseWriter, r *http.Request, messageID string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	deleted, err := h.ledger.Delete(r.Context(), messageID, user.ID)
	if err == nil && !deleted {
		err = ledger.ErrNotFound
	}
	if err != nil {
		writeError(w, h.log.With().Str("message_id", messageID).Logger(), err, "Failed to delete message")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMessageTransactions handles GET /api/messages/{id}/transactions
func (h *MessagesHandler) ListMessageTransactions(w http.ResponseWriter, r *http.Request, messageID string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	txs, err := h.ledger.ListMessageTransactions(r.Context(), messageID, user.ID)
	if err != nil {
		writeError(w, h.log.With().Str("message_id", messageID).Logger(), err, "Failed to list transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}
