// Package handlers implements the HTTP endpoints of the ledger service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/api/middleware"
	"github.com/dvloznov/ledger-assistant/internal/catalog"
	"github.com/dvloznov/ledger-assistant/internal/idempotency"
	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/jobs"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
	"github.com/dvloznov/ledger-assistant/internal/media"
	"github.com/dvloznov/ledger-assistant/internal/storage"
)

// Inferrer runs one inference. *inference.Orchestrator implements it.
type Inferrer interface {
	Infer(ctx context.Context, mode inference.Mode, prompt string, opts inference.Options) (*inference.InvoiceResult, string, error)
}

// Ledger is the subset of *ledger.Coordinator used by the handlers.
type Ledger interface {
	Create(ctx context.Context, in ledger.CreateInput) ([]*ledger.Message, error)
	Delete(ctx context.Context, messageID, userID string) (bool, error)
	ListMessages(ctx context.Context, userID string, opts ledger.ListOptions) ([]ledger.Message, error)
	ListMessageTransactions(ctx context.Context, messageID, userID string) ([]ledger.Transaction, error)
	ListTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error)
	UpdateTransactions(ctx context.Context, userID string, patches []ledger.TransactionPatch) error
	DeleteTransactions(ctx context.Context, userID string, ids []string) error
	InvoiceMedia(ctx context.Context, invoiceID, userID string) (string, error)
}

var _ Ledger = (*ledger.Coordinator)(nil)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("known_currency", func(fl validator.FieldLevel) bool {
		return catalog.IsCurrency(fl.Field().String())
	})
	_ = v.RegisterValidation("known_category", func(fl validator.FieldLevel) bool {
		_, ok := catalog.Lookup(fl.Field().String())
		return ok
	})
	return v
}

// ValidationError is a request that failed field validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid fields: " + strings.Join(e.Fields, ", ")
}

// validateRequest runs struct validation and flattens field errors.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return &ValidationError{Fields: fields}
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadRequest
	}
	return validateRequest(dst)
}

var errBadRequest = errors.New("invalid request body")

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		verr *ValidationError
		perr *inference.ProviderError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &verr),
		errors.Is(err, inference.ErrEmptyPrompt),
		errors.Is(err, inference.ErrNoTransactions),
		errors.Is(err, inference.ErrNoInvoice),
		errors.Is(err, media.ErrUnsupportedContentType),
		errors.Is(err, media.ErrEmptyImage),
		errors.Is(err, ledger.ErrNoMedia):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.As(err, &perr):
		return http.StatusBadGateway
	case errors.Is(err, idempotency.ErrBusy), errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, middleware.ErrUnauthenticated):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError logs err and writes the mapped status. Server errors hide the
// cause behind msg.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := statusFor(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.Error().Err(err).Int("status", status).Msg(msg)
		if status == http.StatusBadGateway {
			msg = "Inference provider failed"
		}
		middleware.WriteError(w, status, msg)
	default:
		log.Warn().Err(err).Int("status", status).Msg(msg)
		middleware.WriteError(w, status, clientMessage(err))
	}
}

func clientMessage(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, errBadRequest):
		return errBadRequest.Error()
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return "Not found"
	case errors.Is(err, idempotency.ErrBusy):
		return idempotency.ErrBusy.Error()
	case errors.Is(err, idempotency.ErrInProgress):
		return idempotency.ErrInProgress.Error()
	case errors.Is(err, middleware.ErrUnauthenticated):
		return "Unauthorized"
	}
	// Inference and media sentinels are safe to show as-is.
	for _, sentinel := range []error{
		inference.ErrEmptyPrompt, inference.ErrNoTransactions, inference.ErrNoInvoice,
		media.ErrUnsupportedContentType, media.ErrEmptyImage, ledger.ErrNoMedia,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Request failed"
}

// requireUser returns the authenticated user or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (middleware.User, bool) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return middleware.User{}, false
	}
	return user, true
}

func queryInt(r *http.Request, key string) (int, bool, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, &ValidationError{Fields: []string{key + " (numeric)"}}
	}
	return n, true, nil
}

// CategoriesHandler serves the static categories and currencies.
type CategoriesHandler struct {
	log zerolog.Logger
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(log zerolog.Logger) *CategoriesHandler {
	return &CategoriesHandler{log: log}
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories := catalog.Categories()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"currencies": catalog.Currencies(),
		"count":      len(categories),
	})
}

// JobsHandler serves the status of audit jobs.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err == nil && job.UserID != user.ID {
		err = jobs.ErrJobNotFound
	}
	if err != nil {
		writeError(w, h.log.With().Str("job_id", jobID).Logger(), err, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	filter := jobs.JobFilter{
		UserID: user.ID,
		Status: jobs.JobStatus(r.URL.Query().Get("status")),
	}
	var err error
	if filter.Limit, _, err = queryInt(r, "limit"); err != nil {
		writeError(w, h.log, err, "Invalid limit")
		return
	}
	if filter.Offset, _, err = queryInt(r, "offset"); err != nil {
		writeError(w, h.log, err, "Invalid offset")
		return
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, h.log, err, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
