// Package webhook receives license vendor deliveries, verifies their
// signature, and applies them idempotently to the license store.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilohq/vigilo/internal/licensing"
	"github.com/vigilohq/vigilo/internal/licensing/licmetrics"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Processor applies one decoded event. Satisfied by *Ingestor.
type Processor interface {
	Process(ctx context.Context, ev licensing.Event) error
}

// Handler handles incoming license vendor webhook deliveries.
type Handler struct {
	secret    string
	vendor    string
	processor Processor
	tolerance time.Duration
	now       func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// NewHandler creates the vendor webhook HTTP handler. vendor names the
// signature header prefix, e.g. "keygen" -> "Keygen-Signature".
func NewHandler(secret, vendor string, processor Processor) *Handler {
	return &Handler{
		secret:    secret,
		vendor:    vendor,
		processor: processor,
		tolerance: DefaultTolerance,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SignatureHeader returns the header name carrying the vendor signature.
func (h *Handler) SignatureHeader() string {
	if h.vendor == "" {
		return "Vendor-Signature"
	}
	return http.CanonicalHeaderKey(h.vendor + "-Signature")
}

// ServeHTTP verifies the signature and dispatches the event. Response
// contract: 200 for every durably-acknowledged outcome including no-ops,
// 401 only for signature failures, 400 for structurally invalid payloads,
// 5xx when persistence failed so the vendor retries.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		licmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		licmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, errorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "failed to read request body"})
		return
	}

	if err := verifySignature(h.secret, r.Header.Get(h.SignatureHeader()), payload, h.now(), h.tolerance); err != nil {
		status = http.StatusUnauthorized
		writeJSON(w, status, errorResponse{Error: "invalid webhook signature"})
		return
	}

	ev, err := DecodeEvent(payload)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "malformed payload"})
		return
	}
	eventType = string(ev.Type())

	if err := h.processor.Process(r.Context(), ev); err != nil {
		log.Error().Err(err).
			Str("event_type", eventType).
			Str("license_id", ev.LicenseID()).
			Msg("Webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, errorResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, receivedResponse{Received: true})
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("licensing.webhook: encode response")
	}
}
