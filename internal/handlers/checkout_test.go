package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/inwcommunity/market-api/internal/platform/auth"
	"github.com/inwcommunity/market-api/internal/services"
)

func TestCheckoutHandlersMixedCheckout(t *testing.T) {
	service := &stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			if cmd.UserID != "user-5" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if cmd.PaymentChoices["line-1"] != services.PaymentCash {
				t.Fatalf("expected line-1 override to cash, got %#v", cmd.PaymentChoices)
			}
			if cmd.SuccessURL != "https://shop.example/success" {
				t.Fatalf("unexpected success url %q", cmd.SuccessURL)
			}
			return services.CheckoutResult{
				Cash: &services.CashLegResult{OrderIDs: []string{"order-1"}},
				Card: &services.CardLegResult{
					OrderIDs:    []string{"order-2"},
					RedirectURL: "https://pay.example/session",
					Summary:     services.Totals{SubtotalCents: 2000, ShippingCents: 500, TotalCents: 2500},
				},
			}, nil
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	body := `{"payment_choices":{"line-1":"cash"},"success_url":"https://shop.example/success","cancel_url":"https://shop.example/cart"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cash == nil || len(resp.Cash.OrderIDs) != 1 || resp.Cash.OrderIDs[0] != "order-1" {
		t.Fatalf("unexpected cash leg %#v", resp.Cash)
	}
	if resp.Card == nil || resp.Card.RedirectURL != "https://pay.example/session" {
		t.Fatalf("unexpected card leg %#v", resp.Card)
	}
	if resp.Card.Summary.TotalCents != 2500 {
		t.Fatalf("expected card summary 2500, got %d", resp.Card.Summary.TotalCents)
	}
}

func TestCheckoutHandlersEmptyBodyAllowed(t *testing.T) {
	service := &stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			if cmd.PaymentChoices != nil {
				t.Fatalf("expected nil overrides, got %#v", cmd.PaymentChoices)
			}
			return services.CheckoutResult{Cash: &services.CashLegResult{OrderIDs: []string{"order-1"}}}, nil
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))
	rr := httptest.NewRecorder()
	handler.checkoutAll(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlersNotReady(t *testing.T) {
	service := &stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, services.ErrCheckoutNotReady
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))
	rr := httptest.NewRecorder()
	handler.checkoutAll(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCheckoutHandlersCardLegFailureReportsCashOrders(t *testing.T) {
	service := &stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, &services.CardLegError{
				CashOrderIDs: []string{"order-1", "order-2"},
				Err:          errors.New("session create failed"),
			}
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))
	rr := httptest.NewRecorder()
	handler.checkoutAll(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}

	var resp cardLegFailurePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != "card_leg_failed" {
		t.Fatalf("unexpected error code %q", resp.Error)
	}
	if len(resp.CashOrderIDs) != 2 || resp.CashOrderIDs[0] != "order-1" {
		t.Fatalf("expected cash order ids in response, got %#v", resp.CashOrderIDs)
	}
}

func TestCheckoutHandlersCashLeg(t *testing.T) {
	service := &stubCheckoutService{
		cashFunc: func(ctx context.Context, cmd services.CheckoutCommand) (*services.CashLegResult, error) {
			return &services.CashLegResult{OrderIDs: []string{"order-3"}}, nil
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/checkout/cash", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cash == nil || resp.Cash.OrderIDs[0] != "order-3" {
		t.Fatalf("unexpected cash leg %#v", resp.Cash)
	}
	if resp.Card != nil {
		t.Fatalf("expected no card leg, got %#v", resp.Card)
	}
}

func TestCheckoutHandlersCardLegEmbedded(t *testing.T) {
	service := &stubCheckoutService{
		cardFunc: func(ctx context.Context, cmd services.CheckoutCommand) (*services.CardLegResult, error) {
			return &services.CardLegResult{
				OrderIDs:     []string{"order-4"},
				ClientSecret: "pi_123_secret_456",
				Summary:      services.Totals{SubtotalCents: 900, TotalCents: 900},
			}, nil
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/checkout/card", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	var resp checkoutResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Card == nil || resp.Card.ClientSecret != "pi_123_secret_456" {
		t.Fatalf("unexpected card leg %#v", resp.Card)
	}
}

func TestCheckoutHandlersCardLegForwardsCashOrderIDs(t *testing.T) {
	var got services.CheckoutCommand
	service := &stubCheckoutService{
		cardFunc: func(ctx context.Context, cmd services.CheckoutCommand) (*services.CardLegResult, error) {
			got = cmd
			return &services.CardLegResult{OrderIDs: []string{"order-4"}}, nil
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	body := `{"cash_order_ids":["order-1","order-2"]}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/card", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(got.CashOrderIDs) != 2 || got.CashOrderIDs[0] != "order-1" || got.CashOrderIDs[1] != "order-2" {
		t.Fatalf("expected cash order ids forwarded to the service, got %#v", got.CashOrderIDs)
	}
}

func TestCheckoutHandlersEmptyGroup(t *testing.T) {
	service := &stubCheckoutService{
		cashFunc: func(ctx context.Context, cmd services.CheckoutCommand) (*services.CashLegResult, error) {
			return nil, services.ErrCheckoutEmptyGroup
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	req := httptest.NewRequest(http.MethodPost, "/checkout/cash", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))
	rr := httptest.NewRecorder()
	handler.checkoutCash(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersCashRouteDisabled(t *testing.T) {
	handler := NewCheckoutHandlers(nil, &stubCheckoutService{}, WithCashCheckout(false))
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	req := httptest.NewRequest(http.MethodPost, "/checkout/cash", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-5"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected cash route unregistered, got %d", rr.Code)
	}
}

func TestCheckoutHandlersUnauthenticated(t *testing.T) {
	handler := NewCheckoutHandlers(nil, &stubCheckoutService{})
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	rr := httptest.NewRecorder()
	handler.checkoutAll(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

type stubCheckoutService struct {
	checkoutFunc func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
	cashFunc     func(ctx context.Context, cmd services.CheckoutCommand) (*services.CashLegResult, error)
	cardFunc     func(ctx context.Context, cmd services.CheckoutCommand) (*services.CardLegResult, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.checkoutFunc != nil {
		return s.checkoutFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, errors.New("not implemented")
}

func (s *stubCheckoutService) CheckoutCash(ctx context.Context, cmd services.CheckoutCommand) (*services.CashLegResult, error) {
	if s.cashFunc != nil {
		return s.cashFunc(ctx, cmd)
	}
	return nil, errors.New("not implemented")
}

func (s *stubCheckoutService) CheckoutCard(ctx context.Context, cmd services.CheckoutCommand) (*services.CardLegResult, error) {
	if s.cardFunc != nil {
		return s.cardFunc(ctx, cmd)
	}
	return nil, errors.New("not implemented")
}
