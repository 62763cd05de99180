package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/api/handlers"
	"github.com/dvloznov/ledger-assistant/internal/api/middleware"
)

type routeHandlers struct {
	messages     *handlers.MessagesHandler
	invoices     *handlers.InvoicesHandler
	transactions *handlers.TransactionsHandler
	categories   *handlers.CategoriesHandler
	jobs         *handlers.JobsHandler
	// media serves locally stored invoice images; nil when images live in GCS.
	media        http.Handler
}

const mediaPrefix = "/media/"

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func newRouter(h routeHandlers) *http.ServeMux {
	mux := http.NewServeMux()

	// Messages endpoints
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.messages.ListMessages(w, r)
		case http.MethodPost:
			h.messages.CreateMessage(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/messages/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/messages/")
		if id, ok := strings.CutSuffix(rest, "/transactions"); ok {
			if id == "" || strings.Contains(id, "/") {
				middleware.WriteError(w, http.StatusBadRequest, "Message ID is required")
				return
			}
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.messages.ListMessageTransactions(w, r, id)
			return
		}

		if rest == "" || strings.Contains(rest, "/") {
			middleware.WriteError(w, http.StatusBadRequest, "Message ID is required")
			return
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		h.messages.DeleteMessage(w, r, rest)
	})

	// Invoices endpoints
	mux.HandleFunc("/api/invoices/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.invoices.UploadInvoice(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/invoices/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/invoices/")
		id, ok := strings.CutSuffix(rest, "/presigned")
		if !ok || id == "" || strings.Contains(id, "/") {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.invoices.GetPresignedURL(w, r, id)
	})

	// Transactions endpoints
	mux.HandleFunc("/api/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			h.transactions.UpdateTransactions(w, r)
		case http.MethodDelete:
			h.transactions.DeleteTransactions(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/transactions/export", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.transactions.ExportTransactions(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	// Categories endpoints
	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.categories.ListCategories(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.jobs.ListJobs(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.jobs.GetJob(w, r, jobID)
	})

	if h.media != nil {
		mux.Handle(mediaPrefix, http.StripPrefix(mediaPrefix, h.media))
	}

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}

// withMiddleware wraps mux in the standard chain. Auth runs innermost so
// every log line carries the request id. Media skips bearer auth because
// the store checks the presigned URL's signature itself.
func withMiddleware(mux http.Handler, secret []byte, log zerolog.Logger) http.Handler {
	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(middleware.AuthConfig{
						Secret:      secret,
						PublicPaths: []string{"/health", mediaPrefix},
					})(mux),
				),
			),
		),
	)
}
