package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/inwcommunity/market-api/internal/platform/auth"
	"github.com/inwcommunity/market-api/internal/services"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCartHandlersGetCartSuccess(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	terms := now.Add(-time.Hour)

	service := &stubCartService{
		getFunc: func(ctx context.Context, userID string) (services.Cart, error) {
			if userID != "user-7" {
				t.Fatalf("unexpected user id %q", userID)
			}
			return services.Cart{
				ID:     "user-7",
				UserID: "user-7",
				Lines: []services.CartLine{
					{
						ID:     "line-1",
						ItemID: "item-1",
						Item: services.CatalogItem{
							ID:                     "item-1",
							SellerID:               "seller-1",
							Name:                   "Walnut board",
							PriceCents:             4500,
							QuantityAvailable:      3,
							InStorePickupAvailable: true,
							AcceptCash:             true,
							PickupPolicy:           "Pick up weekdays after 5pm.",
						},
						Quantity:        1,
						FulfillmentType: services.FulfillmentPickup,
						PaymentChoice:   services.PaymentCash,
						Pickup: &services.PickupDetails{
							FirstName:       "Ada",
							LastName:        "Nguyen",
							Phone:           "555-0101",
							TermsAcceptedAt: &terms,
						},
						AddedAt: now,
					},
				},
				UpdatedAt: now,
			}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-7"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.ID != "user-7" {
		t.Fatalf("expected cart id user-7, got %q", resp.Cart.ID)
	}
	if len(resp.Cart.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(resp.Cart.Lines))
	}
	line := resp.Cart.Lines[0]
	if !line.Complete {
		t.Fatalf("expected line complete, reasons %#v", line.IncompleteReasons)
	}
	if !resp.Cart.CanCheckout {
		t.Fatalf("expected cart checkoutable")
	}
	if resp.Cart.Totals.All.TotalCents != 4500 {
		t.Fatalf("expected total 4500, got %d", resp.Cart.Totals.All.TotalCents)
	}
	if resp.Cart.Totals.Cash.TotalCents != 4500 || resp.Cart.Totals.Card.TotalCents != 0 {
		t.Fatalf("expected cash/card split 4500/0, got %d/%d",
			resp.Cart.Totals.Cash.TotalCents, resp.Cart.Totals.Card.TotalCents)
	}
}

func TestCartHandlersGetCartReportsIncompleteLines(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	service := &stubCartService{
		getFunc: func(ctx context.Context, userID string) (services.Cart, error) {
			return services.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []services.CartLine{
					{
						ID:     "line-1",
						ItemID: "item-1",
						Item: services.CatalogItem{
							ID:                "item-1",
							SellerID:          "seller-1",
							Name:              "Ceramic mug",
							PriceCents:        1800,
							QuantityAvailable: 5,
							ShippingCostCents: int64Ptr(600),
						},
						Quantity:        1,
						FulfillmentType: services.FulfillmentShip,
						PaymentChoice:   services.PaymentCard,
						AddedAt:         now,
					},
				},
				UpdatedAt: now,
			}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-3"}))
	rr := httptest.NewRecorder()
	handler.getCart(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.CanCheckout {
		t.Fatalf("expected cart blocked without shipping address")
	}
	line := resp.Cart.Lines[0]
	if line.Complete || len(line.IncompleteReasons) == 0 {
		t.Fatalf("expected incomplete reasons, got %#v", line)
	}
	if line.IncompleteReasons[0].Code != string(services.ReasonMissingShippingAddress) {
		t.Fatalf("unexpected reason %q", line.IncompleteReasons[0].Code)
	}
}

func TestCartHandlersGetCartServiceUnavailable(t *testing.T) {
	handler := NewCartHandlers(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.getCart(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersGetCartUnauthenticated(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	handler.getCart(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersPatchCartSetsShippingAddress(t *testing.T) {
	service := &stubCartService{
		setAddressFunc: func(ctx context.Context, cmd services.SetShippingAddressCommand) (services.Cart, error) {
			if cmd.UserID != "user-22" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if cmd.Address == nil || cmd.Address.Street != "12 Elm St" || cmd.Address.Zip != "97202" {
				t.Fatalf("unexpected address %#v", cmd.Address)
			}
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID, ShippingAddress: cmd.Address}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	body := `{"shipping_address":{"name":"Ada Nguyen","street":"12 Elm St","city":"Portland","state":"OR","zip":"97202"}}`
	req := httptest.NewRequest(http.MethodPatch, "/cart", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-22"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.ShippingAddress == nil || resp.Cart.ShippingAddress.Street != "12 Elm St" {
		t.Fatalf("expected shipping address in response, got %#v", resp.Cart.ShippingAddress)
	}
}

func TestCartHandlersPatchCartClearsShippingAddress(t *testing.T) {
	service := &stubCartService{
		setAddressFunc: func(ctx context.Context, cmd services.SetShippingAddressCommand) (services.Cart, error) {
			if cmd.Address != nil {
				t.Fatalf("expected nil address, got %#v", cmd.Address)
			}
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	req := httptest.NewRequest(http.MethodPatch, "/cart", strings.NewReader(`{"shipping_address":null}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-22"}))
	rr := httptest.NewRecorder()
	handler.patchCart(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestCartHandlersPatchCartConflict(t *testing.T) {
	service := &stubCartService{
		setAddressFunc: func(ctx context.Context, cmd services.SetShippingAddressCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartConflict
		},
	}

	handler := NewCartHandlers(nil, service)
	req := httptest.NewRequest(http.MethodPatch, "/cart", strings.NewReader(`{"shipping_address":null}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.patchCart(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCartHandlersAddLineSuccess(t *testing.T) {
	service := &stubCartService{
		addFunc: func(ctx context.Context, cmd services.AddLineCommand) (services.Cart, error) {
			if cmd.UserID != "user-9" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if cmd.ItemID != "item-4" {
				t.Fatalf("unexpected item id %q", cmd.ItemID)
			}
			if cmd.Quantity != 2 {
				t.Fatalf("expected quantity 2, got %d", cmd.Quantity)
			}
			if cmd.FulfillmentType == nil || *cmd.FulfillmentType != services.FulfillmentLocalDelivery {
				t.Fatalf("expected local_delivery fulfillment, got %#v", cmd.FulfillmentType)
			}
			if cmd.PaymentChoice == nil || *cmd.PaymentChoice != services.PaymentCash {
				t.Fatalf("expected cash payment, got %#v", cmd.PaymentChoice)
			}
			if cmd.Variant["size"] != "large" {
				t.Fatalf("expected variant size=large, got %#v", cmd.Variant)
			}
			if cmd.LocalDelivery == nil || cmd.LocalDelivery.Street != "12 Elm St" {
				t.Fatalf("expected delivery details, got %#v", cmd.LocalDelivery)
			}
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	body := `{
		"item_id": "item-4",
		"quantity": 2,
		"variant": {"size": "large"},
		"fulfillment_type": "local_delivery",
		"payment_choice": "cash",
		"local_delivery": {
			"first_name": "Ada",
			"last_name": "Nguyen",
			"phone": "555-0101",
			"street": "12 Elm St",
			"city": "Portland",
			"state": "OR",
			"zip": "97202",
			"terms_accepted_at": "2026-03-14T09:00:00Z"
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/cart/lines", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-9"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddLineDefaultsQuantity(t *testing.T) {
	service := &stubCartService{
		addFunc: func(ctx context.Context, cmd services.AddLineCommand) (services.Cart, error) {
			if cmd.Quantity != 1 {
				t.Fatalf("expected default quantity 1, got %d", cmd.Quantity)
			}
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	req := httptest.NewRequest(http.MethodPost, "/cart/lines", strings.NewReader(`{"item_id":"item-1"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.addLine(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
}

func TestCartHandlersAddLineMissingItemID(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	req := httptest.NewRequest(http.MethodPost, "/cart/lines", strings.NewReader(`{"quantity":1}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.addLine(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersAddLineItemNotFound(t *testing.T) {
	service := &stubCartService{
		addFunc: func(ctx context.Context, cmd services.AddLineCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCatalogItemNotFound
		},
	}

	handler := NewCartHandlers(nil, service)
	req := httptest.NewRequest(http.MethodPost, "/cart/lines", strings.NewReader(`{"item_id":"missing"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	handler.addLine(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateLinePatchSemantics(t *testing.T) {
	service := &stubCartService{
		updateFunc: func(ctx context.Context, cmd services.UpdateLineCommand) (services.Cart, error) {
			if cmd.LineID != "line-5" {
				t.Fatalf("unexpected line id %q", cmd.LineID)
			}
			if cmd.Quantity == nil || *cmd.Quantity != 3 {
				t.Fatalf("expected quantity pointer 3, got %#v", cmd.Quantity)
			}
			if cmd.FulfillmentType != nil {
				t.Fatalf("expected fulfillment untouched, got %#v", cmd.FulfillmentType)
			}
			if cmd.PaymentChoice == nil || *cmd.PaymentChoice != services.PaymentCard {
				t.Fatalf("expected card payment pointer, got %#v", cmd.PaymentChoice)
			}
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	body := `{"quantity":3,"payment_choice":"card"}`
	req := httptest.NewRequest(http.MethodPatch, "/cart/lines/line-5", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-2"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersUpdateLineNotFound(t *testing.T) {
	service := &stubCartService{
		updateFunc: func(ctx context.Context, cmd services.UpdateLineCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartLineNotFound
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodPatch, "/cart/lines/missing", strings.NewReader(`{"quantity":2}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-2"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveLine(t *testing.T) {
	removed := false
	service := &stubCartService{
		removeFunc: func(ctx context.Context, cmd services.RemoveLineCommand) (services.Cart, error) {
			if cmd.LineID != "line-9" {
				t.Fatalf("unexpected line id %q", cmd.LineID)
			}
			removed = true
			return services.Cart{ID: cmd.UserID, UserID: cmd.UserID}, nil
		},
	}

	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)

	req := httptest.NewRequest(http.MethodDelete, "/cart/lines/line-9", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-2"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !removed {
		t.Fatalf("expected remove to be invoked")
	}
}

type stubCartService struct {
	getFunc        func(ctx context.Context, userID string) (services.Cart, error)
	addFunc        func(ctx context.Context, cmd services.AddLineCommand) (services.Cart, error)
	updateFunc     func(ctx context.Context, cmd services.UpdateLineCommand) (services.Cart, error)
	removeFunc     func(ctx context.Context, cmd services.RemoveLineCommand) (services.Cart, error)
	setAddressFunc func(ctx context.Context, cmd services.SetShippingAddressCommand) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return services.Cart{}, services.ErrCartUnavailable
}

func (s *stubCartService) AddLine(ctx context.Context, cmd services.AddLineCommand) (services.Cart, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) UpdateLine(ctx context.Context, cmd services.UpdateLineCommand) (services.Cart, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) RemoveLine(ctx context.Context, cmd services.RemoveLineCommand) (services.Cart, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) SetShippingAddress(ctx context.Context, cmd services.SetShippingAddressCommand) (services.Cart, error) {
	if s.setAddressFunc != nil {
		return s.setAddressFunc(ctx, cmd)
	}
	return services.Cart{}, errors.New("not implemented")
}
