package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inwcommunity/market-api/internal/platform/auth"
	"github.com/inwcommunity/market-api/internal/platform/httpx"
	"github.com/inwcommunity/market-api/internal/platform/pagination"
	"github.com/inwcommunity/market-api/internal/services"
)

const (
	orderPageSize    = 20
	orderMaxPageSize = 100
)

// OrderHandlers exposes the buyer's order history.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs handlers backed by the order service.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: orderPageSize,
		MaxPageSize:     orderMaxPageSize,
	})
	if err != nil {
		switch {
		case errors.Is(err, pagination.ErrInvalidPageSize):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
		case errors.Is(err, pagination.ErrInvalidPageToken):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_token is malformed", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid pagination parameters", http.StatusBadRequest))
		}
		return
	}

	cmd := services.ListOrdersCommand{
		UserID: uid,
		Page: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}

	page, err := h.orders.ListOrders(ctx, cmd)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	payload := orderListResponse{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, uid, orderID)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		SellerID:        order.SellerID,
		Status:          string(order.Status),
		PaymentChoice:   string(order.PaymentChoice),
		Lines:           make([]orderLinePayload, 0, len(order.Lines)),
		Totals:          buildTotalsPayload(order.Totals),
		CashOrderRefs:   order.CashOrderRefs,
		PaymentIntentID: order.PaymentIntentID,
		Metadata:        cloneMap(order.Metadata),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ItemID:          line.ItemID,
			ItemName:        line.ItemName,
			SellerID:        line.SellerID,
			Quantity:        line.Quantity,
			UnitPriceCents:  line.UnitPriceCents,
			Variant:         line.Variant,
			FulfillmentType: string(line.FulfillmentType),
			FeeCents:        line.FeeCents,
		})
	}
	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if order.LocalDelivery != nil {
		details := buildDeliveryPayload(*order.LocalDelivery)
		payload.LocalDelivery = &details
	}
	if order.Pickup != nil {
		details := buildPickupPayload(*order.Pickup)
		payload.Pickup = &details
	}
	if order.PaidAt != nil {
		payload.PaidAt = formatTime(*order.PaidAt)
	}
	if order.FulfilledAt != nil {
		payload.FulfilledAt = formatTime(*order.FulfilledAt)
	}
	return payload
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                  `json:"id"`
	OrderNumber     string                  `json:"order_number"`
	UserID          string                  `json:"user_id"`
	SellerID        string                  `json:"seller_id"`
	Status          string                  `json:"status"`
	PaymentChoice   string                  `json:"payment_choice"`
	Lines           []orderLinePayload      `json:"lines"`
	Totals          totalsPayload           `json:"totals"`
	ShippingAddress *addressPayload         `json:"shipping_address,omitempty"`
	LocalDelivery   *deliveryDetailsPayload `json:"local_delivery,omitempty"`
	Pickup          *pickupDetailsPayload   `json:"pickup,omitempty"`
	CashOrderRefs   []string                `json:"cash_order_refs,omitempty"`
	PaymentIntentID string                  `json:"payment_intent_id,omitempty"`
	Metadata        map[string]any          `json:"metadata,omitempty"`
	CreatedAt       string                  `json:"created_at"`
	UpdatedAt       string                  `json:"updated_at"`
	PaidAt          string                  `json:"paid_at,omitempty"`
	FulfilledAt     string                  `json:"fulfilled_at,omitempty"`
}

type orderLinePayload struct {
	ItemID          string            `json:"item_id"`
	ItemName        string            `json:"item_name"`
	SellerID        string            `json:"seller_id"`
	Quantity        int               `json:"quantity"`
	UnitPriceCents  int64             `json:"unit_price_cents"`
	Variant         map[string]string `json:"variant,omitempty"`
	FulfillmentType string            `json:"fulfillment_type"`
	FeeCents        int64             `json:"fee_cents"`
}
