package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inwcommunity/market-api/internal/platform/auth"
	"github.com/inwcommunity/market-api/internal/platform/httpx"
	"github.com/inwcommunity/market-api/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers places orders for the current user's cart. POST /checkout
// runs both legs (cash first, then card); the cash and card variants run a
// single leg each.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	cashEnabled bool
}

// CheckoutOption customises checkout handler construction.
type CheckoutOption func(*CheckoutHandlers)

// WithCashCheckout toggles the dedicated cash-only endpoint.
func WithCashCheckout(enabled bool) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.cashEnabled = enabled
	}
}

// NewCheckoutHandlers constructs handlers backed by the checkout service.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:       authn,
		checkout:    checkout,
		cashEnabled: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.checkoutAll)
	if h.cashEnabled {
		r.Post("/cash", h.checkoutCash)
	}
	r.Post("/card", h.checkoutCard)
}

func (h *CheckoutHandlers) checkoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.parseCommand(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	payload := checkoutResponse{}
	if result.Cash != nil {
		payload.Cash = buildCashLegPayload(result.Cash)
	}
	if result.Card != nil {
		payload.Card = buildCardLegPayload(result.Card)
	}

	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *CheckoutHandlers) checkoutCash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.parseCommand(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.checkout.CheckoutCash(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{Cash: buildCashLegPayload(result)})
}

func (h *CheckoutHandlers) checkoutCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := h.parseCommand(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.checkout.CheckoutCard(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{Card: buildCardLegPayload(result)})
}

func (h *CheckoutHandlers) parseCommand(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.CheckoutCommand, bool) {
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return services.CheckoutCommand{}, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.CheckoutCommand{}, false
	}

	cmd := services.CheckoutCommand{UserID: identity.UID}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			// All checkout fields are optional; an empty body is a valid
			// "place everything with current choices" request.
			return cmd, true
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return services.CheckoutCommand{}, false
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return services.CheckoutCommand{}, false
		}
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return services.CheckoutCommand{}, false
	}

	cmd.SuccessURL = strings.TrimSpace(req.SuccessURL)
	cmd.CancelURL = strings.TrimSpace(req.CancelURL)
	cmd.CashOrderIDs = req.CashOrderIDs
	if len(req.PaymentChoices) > 0 {
		cmd.PaymentChoices = make(map[string]services.PaymentChoice, len(req.PaymentChoices))
		for lineID, choice := range req.PaymentChoices {
			cmd.PaymentChoices[lineID] = services.PaymentChoice(strings.TrimSpace(choice))
		}
	}

	return cmd, true
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var cardErr *services.CardLegError
	if errors.As(err, &cardErr) {
		// The cash leg already created orders; report partial success so the
		// buyer knows which commitments went through.
		writeJSONResponse(w, http.StatusBadGateway, cardLegFailurePayload{
			Error:        "card_leg_failed",
			Message:      "card payment could not be started; cash orders were placed",
			CashOrderIDs: cardErr.CashOrderIDs,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrCheckoutNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_ready", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutEmptyGroup):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_empty_group", "no cart lines match the requested payment method", http.StatusBadRequest))
	case errors.Is(err, services.ErrCashLegFailed):
		httpx.WriteError(ctx, w, httpx.NewError("cash_leg_failed", "orders could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout failed", http.StatusInternalServerError))
	}
}

func buildCashLegPayload(result *services.CashLegResult) *cashLegPayload {
	if result == nil {
		return nil
	}
	return &cashLegPayload{OrderIDs: result.OrderIDs}
}

func buildCardLegPayload(result *services.CardLegResult) *cardLegPayload {
	if result == nil {
		return nil
	}
	return &cardLegPayload{
		OrderIDs:     result.OrderIDs,
		RedirectURL:  result.RedirectURL,
		ClientSecret: result.ClientSecret,
		Summary:      buildTotalsPayload(result.Summary),
		SuccessURL:   result.SuccessURL,
	}
}

type checkoutRequest struct {
	PaymentChoices map[string]string `json:"payment_choices"`
	SuccessURL     string            `json:"success_url"`
	CancelURL      string            `json:"cancel_url"`
	CashOrderIDs   []string          `json:"cash_order_ids"`
}

type checkoutResponse struct {
	Cash *cashLegPayload `json:"cash,omitempty"`
	Card *cardLegPayload `json:"card,omitempty"`
}

type cashLegPayload struct {
	OrderIDs []string `json:"order_ids"`
}

type cardLegPayload struct {
	OrderIDs     []string      `json:"order_ids"`
	RedirectURL  string        `json:"redirect_url,omitempty"`
	ClientSecret string        `json:"client_secret,omitempty"`
	Summary      totalsPayload `json:"summary"`
	SuccessURL   string        `json:"success_url,omitempty"`
}

type cardLegFailurePayload struct {
	Error        string   `json:"error"`
	Message      string   `json:"message"`
	CashOrderIDs []string `json:"cash_order_ids"`
}
