package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/inwcommunity/market-api/internal/platform/httpx"
	"github.com/inwcommunity/market-api/internal/services"
)

// ItemHandlers exposes the public catalog read endpoints.
type ItemHandlers struct {
	catalog services.CatalogService
}

// NewItemHandlers constructs handlers over the catalog service.
func NewItemHandlers(catalog services.CatalogService) *ItemHandlers {
	return &ItemHandlers{catalog: catalog}
}

// Routes wires the /items endpoints onto the provided router.
func (h *ItemHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{itemId}", h.getItem)
}

func (h *ItemHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	item, err := h.catalog.GetItem(ctx, itemID)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, itemResponse{Item: buildItemPayload(item)})
}

func (h *ItemHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load item", http.StatusInternalServerError))
	}
}

func buildItemPayload(item services.CatalogItem) itemPayload {
	payload := itemPayload{
		ID:                item.ID,
		SellerID:          item.SellerID,
		Name:              item.Name,
		PriceCents:        item.PriceCents,
		QuantityAvailable: item.QuantityAvailable,
		Fulfillment: itemFulfillmentPayload{
			Ship:          !item.ShippingDisabled,
			LocalDelivery: item.LocalDeliveryAvailable,
			Pickup:        item.InStorePickupAvailable,
		},
		ShippingCostCents:     item.ShippingCostCents,
		LocalDeliveryFeeCents: item.LocalDeliveryFeeCents,
		AcceptCash:            item.AcceptCash,
		LocalDeliveryPolicy:   item.LocalDeliveryPolicy,
		PickupPolicy:          item.PickupPolicy,
	}
	if len(item.OptionGroups) > 0 {
		payload.OptionGroups = make([]optionGroupPayload, 0, len(item.OptionGroups))
		for _, group := range item.OptionGroups {
			values := make([]string, len(group.Values))
			copy(values, group.Values)
			payload.OptionGroups = append(payload.OptionGroups, optionGroupPayload{
				Name:   group.Name,
				Values: values,
			})
		}
	}
	if !item.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(item.UpdatedAt)
	}
	return payload
}

type itemResponse struct {
	Item itemPayload `json:"item"`
}

type itemPayload struct {
	ID                    string                 `json:"id"`
	SellerID              string                 `json:"seller_id"`
	Name                  string                 `json:"name"`
	PriceCents            int64                  `json:"price_cents"`
	QuantityAvailable     int                    `json:"quantity_available"`
	Fulfillment           itemFulfillmentPayload `json:"fulfillment"`
	ShippingCostCents     *int64                 `json:"shipping_cost_cents,omitempty"`
	LocalDeliveryFeeCents *int64                 `json:"local_delivery_fee_cents,omitempty"`
	AcceptCash            bool                   `json:"accept_cash"`
	LocalDeliveryPolicy   string                 `json:"local_delivery_policy,omitempty"`
	PickupPolicy          string                 `json:"pickup_policy,omitempty"`
	OptionGroups          []optionGroupPayload   `json:"option_groups,omitempty"`
	UpdatedAt             string                 `json:"updated_at,omitempty"`
}

type itemFulfillmentPayload struct {
	Ship          bool `json:"ship"`
	LocalDelivery bool `json:"local_delivery"`
	Pickup        bool `json:"pickup"`
}

type optionGroupPayload struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}
