package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/api/middleware"
	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/media"
	"github.com/dvloznov/ledger-assistant/internal/storage"
)

// MaxUploadSize limits invoice images.
const MaxUploadSize = 10 << 20

// ImageField is the multipart field carrying the invoice image.
const ImageField = "image"

// Ingestor stores an image and returns its OCR text.
type Ingestor interface {
	Ingest(ctx context.Context, userID string, data []byte, contentType string) (*media.Uploaded, error)
}

// Presigner produces temporary read URLs for stored images.
type Presigner interface {
	PresignGet(ctx context.Context, storedPath string) (string, error)
}

// InvoicesHandler handles invoice image turns.
type InvoicesHandler struct {
	ingestor  Ingestor
	presigner Presigner
	ledger    Ledger
	turns     *Turns
	log       zerolog.Logger
}

// NewInvoicesHandler creates a new invoices handler.
func NewInvoicesHandler(ingestor Ingestor, presigner Presigner, l Ledger, turns *Turns, log zerolog.Logger) *InvoicesHandler {
	return &InvoicesHandler{
		ingestor:  ingestor,
		presigner: presigner,
		ledger:    l,
		turns:     turns,
		log:       log,
	}
}

// UploadInvoice handles POST /api/invoices/upload
func (h *InvoicesHandler) UploadInvoice(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Image is too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile(ImageField)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "image is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read image")
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), data)

	h.turns.serve(w, r, user, inference.ModeInvoice, func(ctx context.Context) (string, *media.Uploaded, error) {
		up, err := h.ingestor.Ingest(ctx, user.ID, data, contentType)
		if err != nil {
			return "", nil, err
		}
		return up.Content, up, nil
	})
}

// GetPresignedURL handles GET /api/invoices/{id}/presigned
func (h *InvoicesHandler) GetPresignedURL(w http.ResponseWriter, r *http.Request, invoiceID string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	log := h.log.With().Str("invoice_id", invoiceID).Logger()

	path, err := h.ledger.InvoiceMedia(r.Context(), invoiceID, user.ID)
	if err != nil {
		writeError(w, log, err, "Failed to find invoice media")
		return
	}

	url, err := h.presigner.PresignGet(r.Context(), path)
	if err != nil {
		writeError(w, log, err, "Failed to presign invoice media")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"url":        url,
		"expires_in": int(storage.PresignExpiry.Seconds()),
	})
}

// detectContentType trusts the part header unless it is missing or generic.
func detectContentType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
