package services

import (
	"context"

	domain "github.com/inwcommunity/market-api/internal/domain"
)

// Aliases keep service signatures terse while the canonical definitions live
// in the domain package.
type (
	Pagination           = domain.Pagination
	Cart                 = domain.Cart
	CartLine             = domain.CartLine
	CatalogItem          = domain.CatalogItem
	Seller               = domain.Seller
	OptionGroup          = domain.OptionGroup
	FulfillmentType      = domain.FulfillmentType
	PaymentChoice        = domain.PaymentChoice
	LocalDeliveryDetails = domain.LocalDeliveryDetails
	PickupDetails        = domain.PickupDetails
	ShippingAddress      = domain.ShippingAddress
	Totals               = domain.Totals
	CheckoutGroup        = domain.CheckoutGroup
	Order                = domain.Order
	OrderLine            = domain.OrderLine
	OrderStatus          = domain.OrderStatus
)

// Enum values re-exported for the frequent call sites in this package.
const (
	FulfillmentShip          = domain.FulfillmentShip
	FulfillmentLocalDelivery = domain.FulfillmentLocalDelivery
	FulfillmentPickup        = domain.FulfillmentPickup
	PaymentCard              = domain.PaymentCard
	PaymentCash              = domain.PaymentCash
)

// CartService owns cart line CRUD and cart-level shipping address capture.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddLine(ctx context.Context, cmd AddLineCommand) (Cart, error)
	UpdateLine(ctx context.Context, cmd UpdateLineCommand) (Cart, error)
	RemoveLine(ctx context.Context, cmd RemoveLineCommand) (Cart, error)
	SetShippingAddress(ctx context.Context, cmd SetShippingAddressCommand) (Cart, error)
}

// AddLineCommand creates a new cart line from a catalog item.
type AddLineCommand struct {
	UserID          string
	ItemID          string
	Quantity        int
	Variant         map[string]string
	FulfillmentType *FulfillmentType
	PaymentChoice   *PaymentChoice
	LocalDelivery   *LocalDeliveryDetails
	Pickup          *PickupDetails
}

// UpdateLineCommand patches an existing cart line. Nil fields are untouched.
type UpdateLineCommand struct {
	UserID          string
	LineID          string
	Quantity        *int
	Variant         map[string]string
	FulfillmentType *FulfillmentType
	PaymentChoice   *PaymentChoice
	LocalDelivery   *LocalDeliveryDetails
	Pickup          *PickupDetails
}

// RemoveLineCommand deletes a single cart line.
type RemoveLineCommand struct {
	UserID string
	LineID string
}

// SetShippingAddressCommand stores the cart-level shipping address. A nil
// address clears it.
type SetShippingAddressCommand struct {
	UserID  string
	Address *ShippingAddress
}

// CheckoutService orchestrates the two-leg cash/card checkout.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	CheckoutCash(ctx context.Context, cmd CheckoutCommand) (*CashLegResult, error)
	CheckoutCard(ctx context.Context, cmd CheckoutCommand) (*CardLegResult, error)
}

// CheckoutCommand carries the buyer's payment choices and redirect targets.
// PaymentChoices overrides the per-line stored choice by line ID; absent lines
// keep their stored (or defaulted) choice. CashOrderIDs references cash orders
// placed earlier in a split checkout; CheckoutCard copies them into the
// payment metadata and card orders, the combined Checkout ignores them.
type CheckoutCommand struct {
	UserID         string
	PaymentChoices map[string]PaymentChoice
	SuccessURL     string
	CancelURL      string
	CashOrderIDs   []string
}

// CashLegResult reports the orders created without an online charge.
type CashLegResult struct {
	OrderIDs []string
}

// CardLegResult reports the online payment hand-off for the card group.
// Exactly one of RedirectURL (redirect variant) or ClientSecret (embedded
// variant) is populated.
type CardLegResult struct {
	OrderIDs     []string
	RedirectURL  string
	ClientSecret string
	Summary      Totals
	SuccessURL   string
}

// CheckoutResult combines both legs of a mixed checkout. A nil leg means the
// corresponding group was empty.
type CheckoutResult struct {
	Cash *CashLegResult
	Card *CardLegResult
}

// OrderService creates and reads marketplace orders.
type OrderService interface {
	CreateCashOrders(ctx context.Context, cmd CreateCashOrdersCommand) ([]Order, error)
	CreateCardOrders(ctx context.Context, cmd CreateCardOrdersCommand) ([]Order, error)
	MarkPaidByIntent(ctx context.Context, intentID string) ([]Order, error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, userID string, orderID string) (Order, error)
}

// CreateCashOrdersCommand creates one awaiting-fulfillment order per seller
// from the cash group and removes the consumed cart lines.
type CreateCashOrdersCommand struct {
	UserID string
	Lines  []CartLine
}

// CreateCardOrdersCommand creates pending-payment orders for the card group.
// CashOrderIDs cross-references the cash leg created earlier in the same
// checkout, if any.
type CreateCardOrdersCommand struct {
	UserID          string
	Lines           []CartLine
	ShippingAddress *ShippingAddress
	PaymentIntentID string
	SessionID       string
	CashOrderIDs    []string
}

// ListOrdersCommand filters the buyer's order history.
type ListOrdersCommand struct {
	UserID string
	Page   Pagination
}

// CatalogService resolves catalog item snapshots with effective policies.
type CatalogService interface {
	GetItem(ctx context.Context, itemID string) (CatalogItem, error)
}

// OrderEventPublisher emits order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEventMessage) (string, error)
}

// OrderEventMessage is the payload published on order lifecycle transitions.
type OrderEventMessage struct {
	Type          string   `json:"type"`
	OrderID       string   `json:"orderId"`
	OrderNumber   string   `json:"orderNumber"`
	UserID        string   `json:"userId"`
	SellerID      string   `json:"sellerId"`
	PaymentChoice string   `json:"paymentChoice"`
	TotalCents    int64    `json:"totalCents"`
	CashOrderRefs []string `json:"cashOrderRefs,omitempty"`
}
