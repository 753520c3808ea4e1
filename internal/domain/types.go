package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// FulfillmentType enumerates how a cart line reaches the buyer.
type FulfillmentType string

const (
	// FulfillmentShip indicates the item is shipped via a carrier.
	FulfillmentShip FulfillmentType = "ship"
	// FulfillmentLocalDelivery indicates the seller delivers locally.
	FulfillmentLocalDelivery FulfillmentType = "local_delivery"
	// FulfillmentPickup indicates the buyer collects in person.
	FulfillmentPickup FulfillmentType = "pickup"
)

// Valid reports whether the value is one of the known fulfillment types.
func (t FulfillmentType) Valid() bool {
	switch t {
	case FulfillmentShip, FulfillmentLocalDelivery, FulfillmentPickup:
		return true
	}
	return false
}

// PaymentChoice enumerates the per-line payment selection.
type PaymentChoice string

const (
	// PaymentCard charges the line online at checkout.
	PaymentCard PaymentChoice = "card"
	// PaymentCash settles the line in person at pickup or delivery.
	PaymentCash PaymentChoice = "cash"
)

// OptionGroup declares a variant dimension on a catalog item (e.g. size).
type OptionGroup struct {
	Name   string
	Values []string
}

// CatalogItem is the read-only snapshot of a store item captured at cart time.
// Monetary fields are integer cents; nil fee pointers mean the mode is free.
type CatalogItem struct {
	ID                     string
	SellerID               string
	Name                   string
	PriceCents             int64
	QuantityAvailable      int
	ShippingDisabled       bool
	LocalDeliveryAvailable bool
	InStorePickupAvailable bool
	ShippingCostCents      *int64
	LocalDeliveryFeeCents  *int64
	AcceptCash             bool
	LocalDeliveryPolicy    string
	PickupPolicy           string
	OptionGroups           []OptionGroup
	Metadata               map[string]any
	UpdatedAt              time.Time
}

// Seller carries the seller profile fields the checkout path depends on.
type Seller struct {
	ID                          string
	DisplayName                 string
	AcceptCashForPickupDelivery bool
	LocalDeliveryPolicy         string
	PickupPolicy                string
}

// LocalDeliveryDetails captures buyer-supplied data for a local delivery line.
type LocalDeliveryDetails struct {
	FirstName       string
	LastName        string
	Phone           string
	Street          string
	City            string
	State           string
	Zip             string
	Note            string
	TermsAcceptedAt *time.Time
}

// PickupDetails captures buyer-supplied data for an in-store pickup line.
type PickupDetails struct {
	FirstName       string
	LastName        string
	Phone           string
	Email           string
	PreferredTime   string
	Note            string
	TermsAcceptedAt *time.Time
}

// ShippingAddress is captured once per cart, not per line.
type ShippingAddress struct {
	Name   string
	Street string
	City   string
	State  string
	Zip    string
}

// CartLine is one buyer-selected item, quantity, and fulfillment choice.
type CartLine struct {
	ID              string
	ItemID          string
	Item            CatalogItem
	Quantity        int
	Variant         map[string]string
	FulfillmentType FulfillmentType
	PaymentChoice   PaymentChoice
	LocalDelivery   *LocalDeliveryDetails
	Pickup          *PickupDetails
	AddedAt         time.Time
	UpdatedAt       *time.Time
}

// Cart aggregates a buyer's lines and the cart-level shipping address.
type Cart struct {
	ID              string
	UserID          string
	Lines           []CartLine
	ShippingAddress *ShippingAddress
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Totals summarises derived money amounts for a set of lines, in cents.
// TotalCents is always SubtotalCents + ShippingCents + LocalDeliveryCents.
type Totals struct {
	SubtotalCents      int64
	ShippingCents      int64
	LocalDeliveryCents int64
	TotalCents         int64
}

// CheckoutGroup partitions cart lines into the cash and card legs, each with
// its own Totals.
type CheckoutGroup struct {
	CashLines  []CartLine
	CardLines  []CartLine
	CashTotals Totals
	CardTotals Totals
}

// OrderStatus enumerates lifecycle states for marketplace orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates a card order awaiting PSP confirmation.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusAwaitingFulfillment indicates a cash order the seller still has to hand over.
	OrderStatusAwaitingFulfillment OrderStatus = "awaiting_fulfillment"
	// OrderStatusPaid indicates the card payment succeeded.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFulfilled indicates the order reached the buyer.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusCanceled indicates the order was canceled.
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderLine mirrors a cart line at the time the order was created.
type OrderLine struct {
	ItemID          string
	ItemName        string
	SellerID        string
	Quantity        int
	UnitPriceCents  int64
	Variant         map[string]string
	FulfillmentType FulfillmentType
	FeeCents        int64
}

// Order captures a placed order for either leg of a checkout.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	SellerID        string
	Status          OrderStatus
	PaymentChoice   PaymentChoice
	Lines           []OrderLine
	Totals          Totals
	ShippingAddress *ShippingAddress
	LocalDelivery   *LocalDeliveryDetails
	Pickup          *PickupDetails
	CashOrderRefs   []string
	PaymentIntentID string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	FulfilledAt     *time.Time
}
