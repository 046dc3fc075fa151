package webhook

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kabisa/timesync/internal/observability"
	"github.com/kabisa/timesync/internal/platform/httpx"
)

// signatureHeader carries the shared secret Clockify configures per webhook.
const signatureHeader = "clockify-signature"

// maxBodyBytes caps webhook payload size; hydrated time entries are small.
const maxBodyBytes = 1 << 20

// Enqueuer hands accepted deliveries to the queue.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, event string, body []byte) error
}

// Handler terminates Clockify webhook deliveries. It verifies the per-event
// shared secret, acknowledges fast, and defers all processing to the queue.
type Handler struct {
	logger  *slog.Logger
	secrets map[string]string
	queue   Enqueuer
	metrics *observability.Metrics
}

// NewHandler builds Handler instance. secrets maps lifecycle event names to
// their shared secret; metrics may be nil.
func NewHandler(logger *slog.Logger, secrets map[string]string, queue Enqueuer, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, secrets: secrets, queue: queue, metrics: metrics}
}

// MountRoutes registers one POST route per known lifecycle event.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{event}", h.receive)
}

// ack is the body Clockify expects back from a webhook endpoint.
type ack struct {
	Accepted bool `json:"Accepted"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	event := chi.URLParam(r, "event")
	secret, ok := h.secrets[event]
	if !ok {
		h.observe(event, "unknown_event")
		httpx.JSON(w, http.StatusNotFound, ack{Accepted: false})
		return
	}

	signature := r.Header.Get(signatureHeader)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(secret)) != 1 {
		h.logger.Warn("webhook signature mismatch", slog.String("event", event))
		h.observe(event, "unauthorized")
		httpx.JSON(w, http.StatusUnauthorized, ack{Accepted: false})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook body read failed", slog.String("event", event), slog.Any("error", err))
		h.observe(event, "read_failed")
		httpx.JSON(w, http.StatusBadRequest, ack{Accepted: false})
		return
	}

	if err := h.queue.EnqueueReconcile(r.Context(), event, body); err != nil {
		// Refusing the delivery makes Clockify retry it later.
		h.logger.Error("webhook enqueue failed", slog.String("event", event), slog.Any("error", err))
		h.observe(event, "enqueue_failed")
		httpx.JSON(w, http.StatusInternalServerError, ack{Accepted: false})
		return
	}

	h.observe(event, "accepted")
	httpx.JSON(w, http.StatusOK, ack{Accepted: true})
}

func (h *Handler) observe(event, outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveWebhook(event, outcome)
	}
}
