package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"memberpay/internal/core"
	"memberpay/internal/metrics"
	"memberpay/internal/types"
	"memberpay/internal/webhook"
)

// defaultWebhookBodyLimit applies when no limit is configured.
const defaultWebhookBodyLimit = 64 << 10

// Applier runs a classified delivery through the reconciliation engine.
type Applier interface {
	Apply(ctx context.Context, p webhook.Provider, env *webhook.Envelope, outcome webhook.Outcome) (webhook.Result, error)
}

// EventRecorder appends deliveries to the audit log. It returns false for a
// replayed event id.
type EventRecorder interface {
	Record(ctx context.Context, ev *types.WebhookEvent) (bool, error)
}

// WebhookHandler serves POST /webhooks/{provider} for every configured
// provider.
//
// Status codes: 400 for signature or decode failure, 500 when the
// subscription store fails, 200 for everything else. A 200 for an event the
// engine ignored stops the provider from retrying a delivery that will never
// succeed.
type WebhookHandler struct {
	providers map[types.ProviderTag]webhook.Provider
	engine    Applier
	events    EventRecorder
	metrics   metrics.WebhookMetrics
	maxBody   int64
	logger    *slog.Logger
	now       func() time.Time
}

// WebhookHandlerConfig bundles the WebhookHandler collaborators. Events and
// Metrics are optional.
type WebhookHandlerConfig struct {
	Providers    []webhook.Provider
	Engine       Applier
	Events       EventRecorder
	Metrics      metrics.WebhookMetrics
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(cfg WebhookHandlerConfig) *WebhookHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultWebhookBodyLimit
	}

	providers := make(map[types.ProviderTag]webhook.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Tag()] = p
	}

	return &WebhookHandler{
		providers: providers,
		engine:    cfg.Engine,
		events:    cfg.Events,
		metrics:   m,
		maxBody:   maxBody,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterRoutes mounts the webhook endpoint. It is a public route: the
// signature is the authentication.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.Handle)
}

// Handle verifies, decodes, classifies and applies one delivery.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := h.now()

	tag := types.ProviderTag(chi.URLParam(r, "provider"))
	p, ok := h.providers[tag]
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationUnknownProvider, "unknown webhook provider", nil))
		return
	}
	log := h.logger.With("provider", string(tag))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.metrics.RecordWebhook(ctx, string(tag), "", "decode_failed")
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationWebhookPayload, "failed to read request body", err))
		return
	}

	if err := p.Verify(body, r.Header.Get(p.SignatureHeader())); err != nil {
		log.WarnContext(ctx, "webhook signature verification failed", "error", err)
		h.metrics.RecordWebhook(ctx, string(tag), "", "signature_invalid")
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "invalid webhook signature", err))
		return
	}

	env, err := p.Decode(body)
	if err != nil {
		log.WarnContext(ctx, "failed to decode webhook payload", "error", err)
		h.metrics.RecordWebhook(ctx, string(tag), "", "decode_failed")
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationWebhookPayload, "invalid webhook payload", err))
		return
	}

	outcome := p.Classify(env)
	log = log.With("event_id", env.EventID, "event_type", env.EventType)

	h.record(ctx, log, tag, env, outcome, body)

	res, err := h.engine.Apply(ctx, p, env, outcome)
	if err != nil {
		log.ErrorContext(ctx, "failed to apply webhook event", "outcome", string(outcome), "error", err)
		h.metrics.RecordWebhook(ctx, string(tag), string(outcome), "error")
		h.metrics.RecordLatency(ctx, string(tag), h.now().Sub(start))

		var appErr *types.AppError
		if errors.As(err, &appErr) {
			core.Error(w, r, err)
			return
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalDB, "failed to process webhook event", err))
		return
	}

	h.metrics.RecordWebhook(ctx, string(tag), string(outcome), string(res.Action))
	h.metrics.RecordLatency(ctx, string(tag), h.now().Sub(start))

	core.JSON(w, r, http.StatusOK, map[string]bool{"success": true})
}

// record appends the delivery to the audit log. Failures are logged only;
// the subscription write is the source of truth.
func (h *WebhookHandler) record(ctx context.Context, log *slog.Logger, tag types.ProviderTag, env *webhook.Envelope, outcome webhook.Outcome, body []byte) {
	if h.events == nil {
		return
	}

	inserted, err := h.events.Record(ctx, &types.WebhookEvent{
		Provider:        tag,
		ProviderEventID: env.EventID,
		EventType:       env.EventType,
		ResourceID:      env.ResourceID,
		Outcome:         string(outcome),
		Payload:         body,
		ReceivedAt:      h.now().UTC(),
	})
	if err != nil {
		log.WarnContext(ctx, "failed to record webhook event", "error", err)
		return
	}
	if !inserted {
		log.InfoContext(ctx, "webhook replay received")
	}
}
