package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/inwcommunity/market-api/internal/domain"
	"github.com/inwcommunity/market-api/internal/repositories"
)

const orderNumberCounter = "orders"

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the requested order does not exist or belongs to
// another buyer.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderUnavailable indicates the order backend cannot be reached.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// OrderServiceDeps wires persistence and eventing for order flows.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Carts       repositories.CartRepository
	Events      OrderEventPublisher
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

type orderService struct {
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	carts    repositories.CartRepository
	events   OrderEventPublisher
	newID    func() string
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &orderService{
		orders:   deps.Orders,
		counters: deps.Counters,
		carts:    deps.Carts,
		events:   deps.Events,
		newID:    idGen,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// CreateCashOrders creates one awaiting-fulfillment order per seller from the
// cash group, then removes the consumed cart lines one at a time. Line
// removal failures are logged, not returned: the orders are already real
// seller commitments and are never reverted.
func (s *orderService) CreateCashOrders(ctx context.Context, cmd CreateCashOrdersCommand) ([]Order, error) {
	if s == nil || s.orders == nil {
		return nil, ErrOrderUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" || len(cmd.Lines) == 0 {
		return nil, ErrOrderInvalidInput
	}
	for _, line := range cmd.Lines {
		if line.FulfillmentType == FulfillmentShip {
			return nil, fmt.Errorf("%w: ship lines cannot settle in cash", ErrOrderInvalidInput)
		}
	}

	now := s.now()
	orders := make([]Order, 0, len(cmd.Lines))
	for _, group := range groupLinesBySeller(cmd.Lines) {
		order, err := s.buildOrder(ctx, userID, group, domain.PaymentCash, now)
		if err != nil {
			return nil, err
		}
		order.Status = domain.OrderStatusAwaitingFulfillment
		if details := firstDeliveryDetails(group); details != nil {
			order.LocalDelivery = cloneDeliveryDetails(details)
		}
		if details := firstPickupDetails(group); details != nil {
			order.Pickup = clonePickupDetails(details)
		}

		saved, err := s.orders.Insert(ctx, order)
		if err != nil {
			return nil, s.translateRepoError(err)
		}
		orders = append(orders, saved)
		s.publishEvent(ctx, "order.cash_created", saved)
	}

	for _, line := range cmd.Lines {
		if _, err := s.carts.RemoveLine(ctx, userID, line.ID); err != nil {
			s.logger(ctx, "order.cart_line_removal_failed", map[string]any{
				"userID": userID,
				"lineID": line.ID,
				"error":  err.Error(),
			})
		}
	}

	return orders, nil
}

// CreateCardOrders creates pending-payment orders for the card group. Cart
// lines stay in place until the payment confirmation arrives.
func (s *orderService) CreateCardOrders(ctx context.Context, cmd CreateCardOrdersCommand) ([]Order, error) {
	if s == nil || s.orders == nil {
		return nil, ErrOrderUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" || len(cmd.Lines) == 0 {
		return nil, ErrOrderInvalidInput
	}

	now := s.now()
	orders := make([]Order, 0, len(cmd.Lines))
	for _, group := range groupLinesBySeller(cmd.Lines) {
		order, err := s.buildOrder(ctx, userID, group, domain.PaymentCard, now)
		if err != nil {
			return nil, err
		}
		order.Status = domain.OrderStatusPendingPayment
		order.ShippingAddress = cloneShippingAddress(cmd.ShippingAddress)
		order.PaymentIntentID = strings.TrimSpace(cmd.PaymentIntentID)
		order.CashOrderRefs = append([]string(nil), cmd.CashOrderIDs...)
		if sessionID := strings.TrimSpace(cmd.SessionID); sessionID != "" {
			order.Metadata["checkoutSessionId"] = sessionID
		}

		saved, err := s.orders.Insert(ctx, order)
		if err != nil {
			return nil, s.translateRepoError(err)
		}
		orders = append(orders, saved)
		s.publishEvent(ctx, "order.card_created", saved)
	}

	return orders, nil
}

// MarkPaidByIntent transitions every order referencing the payment intent to
// paid and clears their consumed cart lines.
func (s *orderService) MarkPaidByIntent(ctx context.Context, intentID string) ([]Order, error) {
	if s == nil || s.orders == nil {
		return nil, ErrOrderUnavailable
	}

	id := strings.TrimSpace(intentID)
	if id == "" {
		return nil, ErrOrderInvalidInput
	}

	orders, err := s.orders.FindByPaymentIntent(ctx, id)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}

	now := s.now()
	updated := make([]Order, 0, len(orders))
	for _, order := range orders {
		if order.Status != domain.OrderStatusPendingPayment {
			// Webhook retries deliver the same intent more than once.
			updated = append(updated, order)
			continue
		}
		saved, err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPaid, now)
		if err != nil {
			return nil, s.translateRepoError(err)
		}
		updated = append(updated, saved)
		s.publishEvent(ctx, "order.paid", saved)

		for _, lineID := range cartLineIDs(saved) {
			if _, err := s.carts.RemoveLine(ctx, saved.UserID, lineID); err != nil && !isRepoNotFound(err) {
				s.logger(ctx, "order.cart_line_removal_failed", map[string]any{
					"userID":  saved.UserID,
					"orderID": saved.ID,
					"lineID":  lineID,
					"error":   err.Error(),
				})
			}
		}
	}

	return updated, nil
}

// ListOrders returns the buyer's order history, newest first.
func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, ErrOrderInvalidInput
	}

	page, err := s.orders.ListByUser(ctx, repositories.OrderListFilter{
		UserID: userID,
		Page:   cmd.Page,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// GetOrder loads a single order, enforcing buyer ownership.
func (s *orderService) GetOrder(ctx context.Context, userID string, orderID string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}

	uid := strings.TrimSpace(userID)
	oid := strings.TrimSpace(orderID)
	if uid == "" || oid == "" {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, oid)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if !strings.EqualFold(strings.TrimSpace(order.UserID), uid) {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

type sellerLineGroup struct {
	sellerID string
	lines    []CartLine
}

func groupLinesBySeller(lines []CartLine) []sellerLineGroup {
	byID := make(map[string][]CartLine)
	for _, line := range lines {
		sellerID := strings.TrimSpace(line.Item.SellerID)
		byID[sellerID] = append(byID[sellerID], line)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	groups := make([]sellerLineGroup, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, sellerLineGroup{sellerID: id, lines: byID[id]})
	}
	return groups
}

func (s *orderService) buildOrder(ctx context.Context, userID string, group sellerLineGroup, choice PaymentChoice, now time.Time) (Order, error) {
	number, err := s.nextOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	orderLines := make([]domain.OrderLine, 0, len(group.lines))
	lineIDs := make([]string, 0, len(group.lines))
	for _, line := range group.lines {
		orderLines = append(orderLines, domain.OrderLine{
			ItemID:          line.ItemID,
			ItemName:        line.Item.Name,
			SellerID:        line.Item.SellerID,
			Quantity:        line.Quantity,
			UnitPriceCents:  line.Item.PriceCents,
			Variant:         cloneStringMap(line.Variant),
			FulfillmentType: line.FulfillmentType,
			FeeCents:        lineFeeCents(line),
		})
		lineIDs = append(lineIDs, strings.TrimSpace(line.ID))
	}

	id := strings.TrimSpace(s.newID())
	if id == "" {
		id = fmt.Sprintf("order-%d", now.UnixNano())
	}

	return Order{
		ID:            id,
		OrderNumber:   number,
		UserID:        userID,
		SellerID:      group.sellerID,
		PaymentChoice: choice,
		Lines:         orderLines,
		Totals:        ComputeTotals(group.lines),
		Metadata:      map[string]any{"cartLineIds": lineIDs},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *orderService) nextOrderNumber(ctx context.Context) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter)
	if err != nil {
		return "", s.translateRepoError(err)
	}
	return fmt.Sprintf("ORD-%06d", seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order) {
	if s.events == nil {
		return
	}
	_, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		SellerID:      order.SellerID,
		PaymentChoice: string(order.PaymentChoice),
		TotalCents:    order.Totals.TotalCents,
		CashOrderRefs: order.CashOrderRefs,
	})
	if err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderID": order.ID,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderUnavailable
		}
	}
	return ErrOrderUnavailable
}

func lineFeeCents(line CartLine) int64 {
	switch line.FulfillmentType {
	case FulfillmentShip:
		if cost := line.Item.ShippingCostCents; cost != nil && *cost > 0 {
			return *cost * int64(line.Quantity)
		}
	case FulfillmentLocalDelivery:
		if fee := line.Item.LocalDeliveryFeeCents; fee != nil && *fee > 0 {
			return *fee * int64(line.Quantity)
		}
	}
	return 0
}

func firstDeliveryDetails(group sellerLineGroup) *LocalDeliveryDetails {
	for _, line := range group.lines {
		if line.LocalDelivery != nil {
			return line.LocalDelivery
		}
	}
	return nil
}

func firstPickupDetails(group sellerLineGroup) *PickupDetails {
	for _, line := range group.lines {
		if line.Pickup != nil {
			return line.Pickup
		}
	}
	return nil
}

func cartLineIDs(order Order) []string {
	switch ids := order.Metadata["cartLineIds"].(type) {
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, v := range ids {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
