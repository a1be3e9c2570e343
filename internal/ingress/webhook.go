package ingress

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pilot-net/alert-relay/internal/metrics"
	"github.com/pilot-net/alert-relay/internal/normalize"
	"github.com/pilot-net/alert-relay/internal/types"
)

// AlertProcessor is the subset of processor.Processor the webhook
// handler depends on.
type AlertProcessor interface {
	Process(ctx context.Context, alert types.CanonicalAlert) error
}

// submitTimeout bounds how long the handler waits for a free worker
// slot before dropping an alert and logging it, rather than blocking
// the HTTP response indefinitely.
const submitTimeout = 2 * time.Second

// Webhook is the POST /alerts handler: parse, enqueue, acknowledge.
// Processing happens off the request goroutine on the bounded pool, so
// the handler always returns quickly regardless of downstream latency.
type Webhook struct {
	pool           *Pool
	processor      AlertProcessor
	rules          normalize.RuleLookup
	defaultChannel string
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewWebhook builds a Webhook handler.
func NewWebhook(pool *Pool, processor AlertProcessor, rules normalize.RuleLookup, defaultChannel string, m *metrics.Metrics, logger *slog.Logger) *Webhook {
	return &Webhook{
		pool:           pool,
		processor:      processor,
		rules:          rules,
		defaultChannel: defaultChannel,
		metrics:        m,
		logger:         logger.With("component", "ingress_webhook"),
	}
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	alerts, err := normalize.Webhook(body, h.rules, h.defaultChannel)
	if err != nil {
		// A malformed payload is a ParseError: logged and dropped, never
		// surfaced as a non-200 so the source doesn't retry-poison us.
		h.logger.Warn("dropping malformed webhook payload", "error", err)
		writeReceived(w)
		return
	}

	for _, alert := range alerts {
		alert := alert
		accepted := h.pool.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.processor.Process(ctx, alert); err != nil {
				h.logger.Error("process alert failed", "alert_id", alert.AlertID, "error", err)
			}
		}, submitTimeout)
		if !accepted {
			h.logger.Error("dropping alert, worker pool saturated", "alert_id", alert.AlertID)
		}
	}

	writeReceived(w)
}

func writeReceived(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
