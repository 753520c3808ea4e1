package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inwcommunity/market-api/internal/payments"
)

// ErrCheckoutNotReady indicates the cart failed the completeness gate.
var ErrCheckoutNotReady = errors.New("checkout service: cart not ready")

// ErrCheckoutEmptyGroup indicates the requested leg has no matching lines.
var ErrCheckoutEmptyGroup = errors.New("checkout service: no lines in payment group")

// ErrCashLegFailed indicates the cash leg failed before creating anything.
var ErrCashLegFailed = errors.New("checkout service: cash leg failed")

// ErrCheckoutUnavailable indicates a downstream dependency cannot be reached.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

// CardLegError reports a card leg failure that happened after the cash leg
// already created orders. The cash orders are real seller commitments and are
// never rolled back; callers surface the IDs so the buyer sees what went
// through.
type CardLegError struct {
	CashOrderIDs []string
	Err          error
}

func (e *CardLegError) Error() string {
	return fmt.Sprintf("checkout service: card leg failed after %d cash orders: %v", len(e.CashOrderIDs), e.Err)
}

func (e *CardLegError) Unwrap() error { return e.Err }

// PaymentGateway is the slice of the payments manager the checkout flow uses.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentIntentRequest) (payments.PaymentIntent, error)
}

// CheckoutServiceDeps wires the collaborators for checkout orchestration.
type CheckoutServiceDeps struct {
	Cart     CartService
	Orders   OrderService
	Payments PaymentGateway

	// Currency is the ISO 4217 settlement currency, e.g. "USD".
	Currency string
	// PublishableKey switches the card leg to the embedded variant when set.
	PublishableKey string
	// SuccessURL and CancelURL are the storefront return pages for the
	// redirect variant; a command may override them per call.
	SuccessURL string
	CancelURL  string

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	cart           CartService
	orders         OrderService
	payments       PaymentGateway
	currency       string
	publishableKey string
	successURL     string
	cancelURL      string
	now            func() time.Time
	logger         func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Cart == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		cart:           deps.Cart,
		orders:         deps.Orders,
		payments:       deps.Payments,
		currency:       currency,
		publishableKey: strings.TrimSpace(deps.PublishableKey),
		successURL:     strings.TrimSpace(deps.SuccessURL),
		cancelURL:      strings.TrimSpace(deps.CancelURL),
		now:            func() time.Time { return clock().UTC() },
		logger:         logger,
	}, nil
}

// Checkout runs both legs: cash orders first, then the card payment carrying
// the cash order IDs in its metadata. The cash leg is never reverted when the
// card leg fails.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	cart, group, err := s.prepare(ctx, cmd)
	if err != nil {
		return CheckoutResult{}, err
	}

	result := CheckoutResult{}

	if len(group.CashLines) > 0 {
		cash, err := s.runCashLeg(ctx, cmd.UserID, group.CashLines)
		if err != nil {
			return CheckoutResult{}, err
		}
		result.Cash = cash
	}

	if len(group.CardLines) > 0 {
		var cashOrderIDs []string
		if result.Cash != nil {
			cashOrderIDs = result.Cash.OrderIDs
		}
		card, err := s.runCardLeg(ctx, cmd, cart, group, cashOrderIDs)
		if err != nil {
			if result.Cash != nil {
				return result, &CardLegError{CashOrderIDs: result.Cash.OrderIDs, Err: err}
			}
			return CheckoutResult{}, err
		}
		result.Card = card
	}

	if result.Cash == nil && result.Card == nil {
		return CheckoutResult{}, ErrCheckoutNotReady
	}
	return result, nil
}

// CheckoutCash runs only the cash leg.
func (s *checkoutService) CheckoutCash(ctx context.Context, cmd CheckoutCommand) (*CashLegResult, error) {
	_, group, err := s.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if len(group.CashLines) == 0 {
		return nil, ErrCheckoutEmptyGroup
	}
	return s.runCashLeg(ctx, cmd.UserID, group.CashLines)
}

// CheckoutCard runs only the card leg. Previously created cash order IDs may
// be threaded through cmd for metadata continuity.
func (s *checkoutService) CheckoutCard(ctx context.Context, cmd CheckoutCommand) (*CardLegResult, error) {
	cart, group, err := s.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if len(group.CardLines) == 0 {
		return nil, ErrCheckoutEmptyGroup
	}
	return s.runCardLeg(ctx, cmd, cart, group, trimmedOrderIDs(cmd.CashOrderIDs))
}

func (s *checkoutService) prepare(ctx context.Context, cmd CheckoutCommand) (Cart, CheckoutGroup, error) {
	if s == nil || s.cart == nil {
		return Cart{}, CheckoutGroup{}, ErrCheckoutUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, CheckoutGroup{}, fmt.Errorf("%w: user id is required", ErrCheckoutNotReady)
	}

	cart, err := s.cart.GetCart(ctx, userID)
	if err != nil {
		return Cart{}, CheckoutGroup{}, s.translateCartError(err)
	}

	completion := EvaluateCart(cart)
	if !completion.CanCheckout {
		reason := completion.FirstReason()
		if reason == "" {
			return Cart{}, CheckoutGroup{}, ErrCheckoutNotReady
		}
		return Cart{}, CheckoutGroup{}, fmt.Errorf("%w: %s", ErrCheckoutNotReady, reason.Message())
	}

	group := SplitCart(cart.Lines, cmd.PaymentChoices)
	return cart, group, nil
}

func (s *checkoutService) runCashLeg(ctx context.Context, userID string, lines []CartLine) (*CashLegResult, error) {
	orders, err := s.orders.CreateCashOrders(ctx, CreateCashOrdersCommand{
		UserID: strings.TrimSpace(userID),
		Lines:  lines,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCashLegFailed, err)
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	s.logger(ctx, "checkout.cash_leg_completed", map[string]any{
		"userID":   userID,
		"orderIDs": ids,
	})
	return &CashLegResult{OrderIDs: ids}, nil
}

func (s *checkoutService) runCardLeg(ctx context.Context, cmd CheckoutCommand, cart Cart, group CheckoutGroup, cashOrderIDs []string) (*CardLegResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	successURL := firstNonEmpty(strings.TrimSpace(cmd.SuccessURL), s.successURL)
	cancelURL := firstNonEmpty(strings.TrimSpace(cmd.CancelURL), s.cancelURL)

	metadata := s.buildPaymentMetadata(userID, cashOrderIDs)

	var (
		intentID  string
		sessionID string
		redirect  string
		secret    string
	)

	if s.publishableKey != "" {
		intent, err := s.payments.CreatePaymentIntent(ctx, payments.PaymentContext{Currency: s.currency}, payments.PaymentIntentRequest{
			Amount:      group.CardTotals.TotalCents,
			Currency:    s.currency,
			Description: cardLegDescription(group.CardLines),
			Metadata:    metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		intentID = intent.ID
		secret = intent.ClientSecret
	} else {
		session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: s.currency}, payments.CheckoutSessionRequest{
			Amount:     group.CardTotals.TotalCents,
			Currency:   s.currency,
			SuccessURL: successURL,
			CancelURL:  cancelURL,
			Metadata:   metadata,
			Items:      cardLegLineItems(group.CardLines, s.currency),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		intentID = session.IntentID
		sessionID = session.ID
		redirect = session.RedirectURL
	}

	orders, err := s.orders.CreateCardOrders(ctx, CreateCardOrdersCommand{
		UserID:          userID,
		Lines:           group.CardLines,
		ShippingAddress: cart.ShippingAddress,
		PaymentIntentID: intentID,
		SessionID:       sessionID,
		CashOrderIDs:    cashOrderIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	s.logger(ctx, "checkout.card_leg_completed", map[string]any{
		"userID":        userID,
		"orderIDs":      ids,
		"paymentIntent": intentID,
		"embedded":      secret != "",
	})

	return &CardLegResult{
		OrderIDs:     ids,
		RedirectURL:  redirect,
		ClientSecret: secret,
		Summary:      group.CardTotals,
		SuccessURL:   successURL,
	}, nil
}

func (s *checkoutService) buildPaymentMetadata(userID string, cashOrderIDs []string) map[string]string {
	metadata := map[string]string{
		"userId": userID,
	}
	if len(cashOrderIDs) > 0 {
		metadata["cashOrderIds"] = strings.Join(cashOrderIDs, ",")
	}
	return metadata
}

func (s *checkoutService) translateCartError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartInvalidInput):
		return fmt.Errorf("%w: %v", ErrCheckoutNotReady, err)
	case errors.Is(err, ErrCartUnavailable):
		return ErrCheckoutUnavailable
	default:
		return ErrCheckoutUnavailable
	}
}

func trimmedOrderIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cardLegDescription(lines []CartLine) string {
	names := make([]string, 0, len(lines))
	for _, line := range lines {
		if name := strings.TrimSpace(line.Item.Name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "Order"
	}
	const maxLen = 200
	joined := strings.Join(names, ", ")
	if len(joined) > maxLen {
		joined = joined[:maxLen]
	}
	return joined
}

func cardLegLineItems(lines []CartLine, currency string) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(lines)+1)
	var feeCents int64
	for _, line := range lines {
		items = append(items, payments.CheckoutLineItem{
			Name:     line.Item.Name,
			SKU:      line.ItemID,
			Quantity: int64(line.Quantity),
			Amount:   line.Item.PriceCents,
			Currency: currency,
		})
		feeCents += lineFeeCents(line)
	}
	if feeCents > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Shipping & delivery",
			Quantity: 1,
			Amount:   feeCents,
			Currency: currency,
		})
	}
	return items
}
