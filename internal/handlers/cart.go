package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inwcommunity/market-api/internal/platform/auth"
	"github.com/inwcommunity/market-api/internal/platform/httpx"
	"github.com/inwcommunity/market-api/internal/platform/textutil"
	"github.com/inwcommunity/market-api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Patch("/", h.patchCart)
	r.Post("/lines", h.addLine)
	r.Patch("/lines/{lineId}", h.updateLine)
	r.Delete("/lines/{lineId}", h.removeLine)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, uid)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

func (h *CartHandlers) patchCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, ok := h.readBody(ctx, w, r)
	if !ok {
		return
	}

	var req patchCartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return
	}

	cart, err := h.carts.SetShippingAddress(ctx, services.SetShippingAddressCommand{
		UserID:  uid,
		Address: req.ShippingAddress.toDomain(),
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

func (h *CartHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, ok := h.readBody(ctx, w, r)
	if !ok {
		return
	}

	var req cartLineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item_id is required", http.StatusBadRequest))
		return
	}

	cmd := services.AddLineCommand{
		UserID:        uid,
		ItemID:        strings.TrimSpace(req.ItemID),
		Quantity:      1,
		Variant:       textutil.NormalizeStringMap(req.Variant),
		LocalDelivery: req.LocalDelivery.toDomain(),
		Pickup:        req.Pickup.toDomain(),
	}
	if req.Quantity != nil {
		cmd.Quantity = *req.Quantity
	}
	if req.FulfillmentType != nil {
		ft := services.FulfillmentType(strings.TrimSpace(*req.FulfillmentType))
		cmd.FulfillmentType = &ft
	}
	if req.PaymentChoice != nil {
		pc := services.PaymentChoice(strings.TrimSpace(*req.PaymentChoice))
		cmd.PaymentChoice = &pc
	}

	cart, err := h.carts.AddLine(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildCartResponse(cart))
}

func (h *CartHandlers) updateLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	lineID := strings.TrimSpace(chi.URLParam(r, "lineId"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	body, ok := h.readBody(ctx, w, r)
	if !ok {
		return
	}

	var req cartLineRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return
	}

	cmd := services.UpdateLineCommand{
		UserID:        uid,
		LineID:        lineID,
		Quantity:      req.Quantity,
		LocalDelivery: req.LocalDelivery.toDomain(),
		Pickup:        req.Pickup.toDomain(),
	}
	if req.Variant != nil {
		cmd.Variant = textutil.NormalizeStringMap(req.Variant)
		if cmd.Variant == nil {
			cmd.Variant = map[string]string{}
		}
	}
	if req.FulfillmentType != nil {
		ft := services.FulfillmentType(strings.TrimSpace(*req.FulfillmentType))
		cmd.FulfillmentType = &ft
	}
	if req.PaymentChoice != nil {
		pc := services.PaymentChoice(strings.TrimSpace(*req.PaymentChoice))
		cmd.PaymentChoice = &pc
	}

	cart, err := h.carts.UpdateLine(ctx, cmd)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

func (h *CartHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	lineID := strings.TrimSpace(chi.URLParam(r, "lineId"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveLine(ctx, services.RemoveLineCommand{UserID: uid, LineID: lineID})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCartResponse(cart))
}

func (h *CartHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func (h *CartHandlers) readBody(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return nil, false
	}
	return body, true
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "cart line not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

// buildCartResponse hydrates the cart with per-line completion, the checkout
// gate verdict, and totals for the whole cart plus the cash and card groups.
func buildCartResponse(cart services.Cart) cartResponse {
	completion := services.EvaluateCart(cart)
	group := services.SplitCart(cart.Lines, nil)
	totals := services.ComputeTotals(cart.Lines)

	reasonsByLine := make(map[string][]services.CompletionReason, len(completion.Lines))
	for _, line := range completion.Lines {
		reasonsByLine[line.LineID] = line.Reasons
	}

	payload := cartPayload{
		ID:          strings.TrimSpace(cart.ID),
		UserID:      strings.TrimSpace(cart.UserID),
		Lines:       make([]cartLinePayload, 0, len(cart.Lines)),
		CanCheckout: completion.CanCheckout,
		Totals: cartTotalsPayload{
			All:  buildTotalsPayload(totals),
			Cash: buildTotalsPayload(group.CashTotals),
			Card: buildTotalsPayload(group.CardTotals),
		},
		Metadata: cloneMap(cart.Metadata),
	}

	for _, line := range cart.Lines {
		payload.Lines = append(payload.Lines, buildCartLinePayload(line, reasonsByLine[line.ID]))
	}
	if cart.ShippingAddress != nil {
		addr := buildAddressPayload(*cart.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}

	return cartResponse{Cart: payload}
}

func buildCartLinePayload(line services.CartLine, reasons []services.CompletionReason) cartLinePayload {
	payload := cartLinePayload{
		ID:              strings.TrimSpace(line.ID),
		ItemID:          strings.TrimSpace(line.ItemID),
		Item:            buildItemPayload(line.Item),
		Quantity:        line.Quantity,
		Variant:         line.Variant,
		FulfillmentType: string(line.FulfillmentType),
		PaymentChoice:   string(line.PaymentChoice),
		Complete:        len(reasons) == 0,
	}
	for _, reason := range reasons {
		payload.IncompleteReasons = append(payload.IncompleteReasons, incompleteReasonPayload{
			Code:    string(reason),
			Message: reason.Message(),
		})
	}
	if line.LocalDelivery != nil {
		details := buildDeliveryPayload(*line.LocalDelivery)
		payload.LocalDelivery = &details
	}
	if line.Pickup != nil {
		details := buildPickupPayload(*line.Pickup)
		payload.Pickup = &details
	}
	if !line.AddedAt.IsZero() {
		payload.AddedAt = formatTime(line.AddedAt)
	}
	if line.UpdatedAt != nil && !line.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(*line.UpdatedAt)
	}
	return payload
}

func buildTotalsPayload(totals services.Totals) totalsPayload {
	return totalsPayload{
		SubtotalCents:      totals.SubtotalCents,
		ShippingCents:      totals.ShippingCents,
		LocalDeliveryCents: totals.LocalDeliveryCents,
		TotalCents:         totals.TotalCents,
	}
}

func buildAddressPayload(addr services.ShippingAddress) addressPayload {
	return addressPayload{
		Name:   addr.Name,
		Street: addr.Street,
		City:   addr.City,
		State:  addr.State,
		Zip:    addr.Zip,
	}
}

func buildDeliveryPayload(details services.LocalDeliveryDetails) deliveryDetailsPayload {
	payload := deliveryDetailsPayload{
		FirstName: details.FirstName,
		LastName:  details.LastName,
		Phone:     details.Phone,
		Street:    details.Street,
		City:      details.City,
		State:     details.State,
		Zip:       details.Zip,
		Note:      details.Note,
	}
	if details.TermsAcceptedAt != nil {
		payload.TermsAcceptedAt = formatTime(*details.TermsAcceptedAt)
	}
	return payload
}

func buildPickupPayload(details services.PickupDetails) pickupDetailsPayload {
	payload := pickupDetailsPayload{
		FirstName:     details.FirstName,
		LastName:      details.LastName,
		Phone:         details.Phone,
		Email:         details.Email,
		PreferredTime: details.PreferredTime,
		Note:          details.Note,
	}
	if details.TermsAcceptedAt != nil {
		payload.TermsAcceptedAt = formatTime(*details.TermsAcceptedAt)
	}
	return payload
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Lines           []cartLinePayload `json:"lines"`
	ShippingAddress *addressPayload   `json:"shipping_address,omitempty"`
	CanCheckout     bool              `json:"can_checkout"`
	Totals          cartTotalsPayload `json:"totals"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	UpdatedAt       string            `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	ID                string                    `json:"id"`
	ItemID            string                    `json:"item_id"`
	Item              itemPayload               `json:"item"`
	Quantity          int                       `json:"quantity"`
	Variant           map[string]string         `json:"variant,omitempty"`
	FulfillmentType   string                    `json:"fulfillment_type"`
	PaymentChoice     string                    `json:"payment_choice"`
	LocalDelivery     *deliveryDetailsPayload   `json:"local_delivery,omitempty"`
	Pickup            *pickupDetailsPayload     `json:"pickup,omitempty"`
	Complete          bool                      `json:"complete"`
	IncompleteReasons []incompleteReasonPayload `json:"incomplete_reasons,omitempty"`
	AddedAt           string                    `json:"added_at,omitempty"`
	UpdatedAt         string                    `json:"updated_at,omitempty"`
}

type incompleteReasonPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type cartTotalsPayload struct {
	All  totalsPayload `json:"all"`
	Cash totalsPayload `json:"cash"`
	Card totalsPayload `json:"card"`
}

type totalsPayload struct {
	SubtotalCents      int64 `json:"subtotal_cents"`
	ShippingCents      int64 `json:"shipping_cents"`
	LocalDeliveryCents int64 `json:"local_delivery_cents"`
	TotalCents         int64 `json:"total_cents"`
}

type addressPayload struct {
	Name   string `json:"name"`
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

type deliveryDetailsPayload struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Phone           string `json:"phone"`
	Street          string `json:"street"`
	City            string `json:"city"`
	State           string `json:"state"`
	Zip             string `json:"zip"`
	Note            string `json:"note,omitempty"`
	TermsAcceptedAt string `json:"terms_accepted_at,omitempty"`
}

type pickupDetailsPayload struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Phone           string `json:"phone"`
	Email           string `json:"email,omitempty"`
	PreferredTime   string `json:"preferred_time,omitempty"`
	Note            string `json:"note,omitempty"`
	TermsAcceptedAt string `json:"terms_accepted_at,omitempty"`
}

type patchCartRequest struct {
	ShippingAddress *addressRequest `json:"shipping_address"`
}

type addressRequest struct {
	Name   string `json:"name"`
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

func (a *addressRequest) toDomain() *services.ShippingAddress {
	if a == nil {
		return nil
	}
	return &services.ShippingAddress{
		Name:   strings.TrimSpace(a.Name),
		Street: strings.TrimSpace(a.Street),
		City:   strings.TrimSpace(a.City),
		State:  strings.TrimSpace(a.State),
		Zip:    strings.TrimSpace(a.Zip),
	}
}

type cartLineRequest struct {
	ItemID          string                  `json:"item_id"`
	Quantity        *int                    `json:"quantity"`
	Variant         map[string]string       `json:"variant"`
	FulfillmentType *string                 `json:"fulfillment_type"`
	PaymentChoice   *string                 `json:"payment_choice"`
	LocalDelivery   *deliveryDetailsRequest `json:"local_delivery"`
	Pickup          *pickupDetailsRequest   `json:"pickup"`
}

type deliveryDetailsRequest struct {
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Phone           string     `json:"phone"`
	Street          string     `json:"street"`
	City            string     `json:"city"`
	State           string     `json:"state"`
	Zip             string     `json:"zip"`
	Note            string     `json:"note"`
	TermsAcceptedAt *time.Time `json:"terms_accepted_at"`
}

func (d *deliveryDetailsRequest) toDomain() *services.LocalDeliveryDetails {
	if d == nil {
		return nil
	}
	return &services.LocalDeliveryDetails{
		FirstName:       textutil.FoldWidth(d.FirstName),
		LastName:        textutil.FoldWidth(d.LastName),
		Phone:           textutil.FoldWidth(d.Phone),
		Street:          strings.TrimSpace(d.Street),
		City:            strings.TrimSpace(d.City),
		State:           strings.TrimSpace(d.State),
		Zip:             textutil.FoldWidth(d.Zip),
		Note:            strings.TrimSpace(d.Note),
		TermsAcceptedAt: d.TermsAcceptedAt,
	}
}

type pickupDetailsRequest struct {
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email"`
	PreferredTime   string     `json:"preferred_time"`
	Note            string     `json:"note"`
	TermsAcceptedAt *time.Time `json:"terms_accepted_at"`
}

func (p *pickupDetailsRequest) toDomain() *services.PickupDetails {
	if p == nil {
		return nil
	}
	return &services.PickupDetails{
		FirstName:       textutil.FoldWidth(p.FirstName),
		LastName:        textutil.FoldWidth(p.LastName),
		Phone:           textutil.FoldWidth(p.Phone),
		Email:           strings.TrimSpace(p.Email),
		PreferredTime:   strings.TrimSpace(p.PreferredTime),
		Note:            strings.TrimSpace(p.Note),
		TermsAcceptedAt: p.TermsAcceptedAt,
	}
}
