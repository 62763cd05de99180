package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-assistant/internal/api/middleware"
	"github.com/dvloznov/ledger-assistant/internal/catalog"
	"github.com/dvloznov/ledger-assistant/internal/idempotency"
	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/jobs"
	"github.com/dvloznov/ledger-assistant/internal/ledger"
	"github.com/dvloznov/ledger-assistant/internal/logger"
	"github.com/dvloznov/ledger-assistant/internal/media"
)

// IdempotencyKeyHeader carries the client's retry key on create requests.
const IdempotencyKeyHeader = "Idempotency-Key"

const auditPublishTimeout = 5 * time.Second

// TurnSettings are fixed per deployment.
type TurnSettings struct {
	// Provider names the inference backend in audit records.
	Provider string
	// DefaultCurrency is offered first when the user has no preference.
	DefaultCurrency string
}

// Turns runs one user turn: inference, atomic create and the audit job.
// Creates for one user are serialised by the guard.
type Turns struct {
	inferrer  Inferrer
	ledger    Ledger
	guard     *idempotency.Guard
	publisher jobs.Publisher
	settings  TurnSettings
	log       zerolog.Logger
}

// NewTurns creates the turn runner. publisher may be nil to skip auditing.
func NewTurns(inferrer Inferrer, l Ledger, guard *idempotency.Guard, publisher jobs.Publisher, settings TurnSettings, log zerolog.Logger) *Turns {
	if settings.DefaultCurrency == "" {
		settings.DefaultCurrency = inference.DefaultCurrency
	}
	return &Turns{
		inferrer:  inferrer,
		ledger:    l,
		guard:     guard,
		publisher: publisher,
		settings:  settings,
		log:       log,
	}
}

// turnInput produces the prompt, plus the stored image for invoice turns.
type turnInput func(ctx context.Context) (string, *media.Uploaded, error)

// serve runs the turn under the user's lock and writes the [bot, user] pair.
// A repeated Idempotency-Key replays the first successful response.
func (t *Turns) serve(w http.ResponseWriter, r *http.Request, user middleware.User, mode inference.Mode, input turnInput) {
	log := logger.WithUser(logger.FromContext(r.Context()), user.ID).With().Str("mode", string(mode)).Logger()

	resp, replayed, err := t.guard.Do(r.Context(), user.ID, r.Header.Get(IdempotencyKeyHeader), func(ctx context.Context) (*idempotency.Response, error) {
		prompt, upload, err := input(ctx)
		if err != nil {
			return nil, err
		}
		msgs, err := t.run(ctx, user, mode, prompt, upload)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(map[string]interface{}{"messages": msgs})
		if err != nil {
			return nil, err
		}
		return &idempotency.Response{Status: http.StatusCreated, ContentType: "application/json", Body: body}, nil
	})
	if err != nil {
		writeError(w, log, err, "Failed to create turn")
		return
	}

	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		log.Info().Msg("Replayed idempotent response")
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func (t *Turns) run(ctx context.Context, user middleware.User, mode inference.Mode, prompt string, upload *media.Uploaded) ([]*ledger.Message, error) {
	opts := inference.Options{
		Currencies: t.currencies(user),
		Categories: catalog.Categories(),
	}
	result, completion, err := t.inferrer.Infer(ctx, mode, prompt, opts)
	if err != nil {
		return nil, err
	}

	in := ledger.CreateInput{
		Prompt:     prompt,
		UserID:     user.ID,
		Result:     result,
		Completion: completion,
	}
	if upload != nil {
		path, contentType := upload.Path, upload.ContentType
		in.MediaPath = &path
		in.MediaType = &contentType
	}

	msgs, err := t.ledger.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	t.audit(ctx, user.ID, mode, prompt, completion, msgs)
	return msgs, nil
}

// audit publishes the completion record. Failures are logged only.
func (t *Turns) audit(ctx context.Context, userID string, mode inference.Mode, prompt, completion string, msgs []*ledger.Message) {
	if t.publisher == nil || len(msgs) == 0 {
		return
	}
	bot := msgs[0]

	job := &jobs.AuditCompletionJob{
		UserID:           userID,
		MessageID:        bot.ID,
		Mode:             string(mode),
		Provider:         t.settings.Provider,
		Prompt:           prompt,
		Completion:       completion,
		TransactionCount: len(bot.Transactions),
		TurnCreatedAt:    bot.CreatedAt,
	}
	if inv := bot.Invoice; inv != nil {
		job.InvoiceID = inv.ID
		job.Total = inv.Total
		job.Currency = inv.Currency
		job.IssuedAt = inv.IssuedAt
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditPublishTimeout)
	defer cancel()
	if err := t.publisher.PublishAuditCompletion(pctx, job); err != nil {
		t.log.Warn().Err(err).Str("user_id", userID).Str("message_id", bot.ID).Msg("Failed to publish audit job")
	}
}

// currencies puts the user's currency first, then every other known one.
func (t *Turns) currencies(user middleware.User) []string {
	preferred := t.settings.DefaultCurrency
	if catalog.IsCurrency(user.Currency) {
		preferred = user.Currency
	}
	out := []string{preferred}
	for _, c := range catalog.Currencies() {
		if c != preferred {
			out = append(out, c)
		}
	}
	return out
}
