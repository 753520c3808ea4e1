package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/inwcommunity/market-api/internal/platform/httpx"
	"github.com/inwcommunity/market-api/internal/platform/observability"
	"github.com/inwcommunity/market-api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives payment provider callbacks. Stripe retries failed
// deliveries, so payment confirmation must be idempotent end to end.
type WebhookHandlers struct {
	orders        services.OrderService
	webhookSecret string
	limiter       rateLimiter
}

// WebhookOption customises webhook handler construction.
type WebhookOption func(*WebhookHandlers)

// WithWebhookRateLimit caps deliveries per remote address within the window.
func WithWebhookRateLimit(limit int, window time.Duration) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, nil)
	}
}

// NewWebhookHandlers constructs handlers verifying Stripe signatures with the
// given endpoint secret.
func NewWebhookHandlers(orders services.OrderService, webhookSecret string, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		orders:        orders,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the webhook endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if h.orders == nil || h.webhookSecret == "" {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		logger.Warn("stripe webhook signature verification failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	intentID, err := paymentIntentIDFromEvent(event)
	if err != nil {
		logger.Warn("stripe webhook payload could not be decoded",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}
	if intentID == "" {
		// Unhandled event types are acknowledged so Stripe stops retrying.
		logger.Debug("stripe webhook event ignored", zap.String("event_type", string(event.Type)))
		writeJSONResponse(w, http.StatusOK, webhookAckPayload{Received: true})
		return
	}

	orders, err := h.orders.MarkPaidByIntent(ctx, intentID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			// The intent may belong to another environment or arrive before
			// the order write is visible; a 404 tells Stripe to retry later.
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no orders for payment intent", http.StatusNotFound))
		case errors.Is(err, services.ErrOrderUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		default:
			logger.Error("stripe webhook processing failed",
				zap.String("event_type", string(event.Type)),
				zap.String("payment_intent_id", observability.SanitizePaymentRef(intentID)),
				zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "webhook processing failed", http.StatusInternalServerError))
		}
		return
	}

	orderIDs := make([]string, 0, len(orders))
	for _, order := range orders {
		orderIDs = append(orderIDs, order.ID)
	}
	logger.Info("stripe payment confirmed",
		zap.String("event_type", string(event.Type)),
		zap.String("payment_intent_id", observability.SanitizePaymentRef(intentID)),
		zap.Strings("order_ids", orderIDs))

	writeJSONResponse(w, http.StatusOK, webhookAckPayload{Received: true, OrderIDs: orderIDs})
}

// paymentIntentIDFromEvent extracts the payment intent behind the events this
// service settles on. Other event types return an empty ID.
func paymentIntentIDFromEvent(event stripe.Event) (string, error) {
	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return "", err
		}
		return intent.ID, nil
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", err
		}
		if session.PaymentIntent != nil {
			return session.PaymentIntent.ID, nil
		}
		return "", nil
	default:
		return "", nil
	}
}

type webhookAckPayload struct {
	Received bool     `json:"received"`
	OrderIDs []string `json:"order_ids,omitempty"`
}
