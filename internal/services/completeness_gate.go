package services

import (
	"strings"
)

// CompletionReason identifies a single unmet checkout requirement on a line.
type CompletionReason string

const (
	// ReasonFulfillmentNotOffered flags a line whose selected fulfillment type
	// the item no longer offers.
	ReasonFulfillmentNotOffered CompletionReason = "fulfillment_not_offered"
	// ReasonNoFulfillment flags a line whose item offers no mode at all.
	ReasonNoFulfillment CompletionReason = "no_fulfillment_available"
	// ReasonMissingVariantSelection flags a declared option group without a choice.
	ReasonMissingVariantSelection CompletionReason = "missing_variant_selection"
	// ReasonQuantityOutOfRange flags a quantity below one or above availability.
	ReasonQuantityOutOfRange CompletionReason = "quantity_out_of_range"
	// ReasonMissingShippingAddress flags a ship line without a usable cart-level address.
	ReasonMissingShippingAddress CompletionReason = "missing_shipping_address"
	// ReasonMissingDeliveryDetails flags a local delivery line without contact details.
	ReasonMissingDeliveryDetails CompletionReason = "missing_delivery_details"
	// ReasonMissingPickupDetails flags a pickup line without contact details.
	ReasonMissingPickupDetails CompletionReason = "missing_pickup_details"
	// ReasonMissingPolicyAcceptance flags a line whose effective policy text
	// has not been accepted.
	ReasonMissingPolicyAcceptance CompletionReason = "missing_policy_acceptance"
)

// Message returns the user-facing description for the reason.
func (r CompletionReason) Message() string {
	switch r {
	case ReasonFulfillmentNotOffered:
		return "the selected fulfillment option is no longer available for this item"
	case ReasonNoFulfillment:
		return "this item cannot currently be fulfilled"
	case ReasonMissingVariantSelection:
		return "choose an option for every variant"
	case ReasonQuantityOutOfRange:
		return "the requested quantity is not available"
	case ReasonMissingShippingAddress:
		return "complete the shipping address"
	case ReasonMissingDeliveryDetails:
		return "complete the Local Delivery form"
	case ReasonMissingPickupDetails:
		return "complete the Pick Up form"
	case ReasonMissingPolicyAcceptance:
		return "accept the seller's policy to continue"
	}
	return "the cart line is incomplete"
}

// LineCompletion reports whether one line may check out and why not.
type LineCompletion struct {
	LineID   string
	Complete bool
	Reasons  []CompletionReason
}

// CartCompletion aggregates per-line completion into the checkout gate.
type CartCompletion struct {
	CanCheckout            bool
	Lines                  []LineCompletion
	MissingShippingAddress bool
}

// FirstReason returns the first unmet requirement across the cart, or "".
func (c CartCompletion) FirstReason() CompletionReason {
	for _, line := range c.Lines {
		if len(line.Reasons) > 0 {
			return line.Reasons[0]
		}
	}
	if c.MissingShippingAddress {
		return ReasonMissingShippingAddress
	}
	return ""
}

// EvaluateLine checks a single line against the item snapshot it references
// and the cart-level shipping address. The shipping address only matters for
// ship lines; detail requirements only for delivery and pickup lines. Policy
// acceptance is required exactly when the effective policy text is non-empty.
func EvaluateLine(line CartLine, shippingAddress *ShippingAddress) LineCompletion {
	completion := LineCompletion{LineID: line.ID}

	if !FulfillmentOffered(line.Item, line.FulfillmentType) {
		if _, err := ResolveDefaultFulfillment(line.Item); err != nil {
			completion.Reasons = append(completion.Reasons, ReasonNoFulfillment)
		} else {
			completion.Reasons = append(completion.Reasons, ReasonFulfillmentNotOffered)
		}
	}

	if line.Quantity < 1 || (line.Item.QuantityAvailable > 0 && line.Quantity > line.Item.QuantityAvailable) {
		completion.Reasons = append(completion.Reasons, ReasonQuantityOutOfRange)
	}

	if missingVariantSelection(line.Item.OptionGroups, line.Variant) {
		completion.Reasons = append(completion.Reasons, ReasonMissingVariantSelection)
	}

	switch line.FulfillmentType {
	case FulfillmentShip:
		if !ShippingAddressComplete(shippingAddress) {
			completion.Reasons = append(completion.Reasons, ReasonMissingShippingAddress)
		}
	case FulfillmentLocalDelivery:
		if !deliveryDetailsComplete(line.LocalDelivery) {
			completion.Reasons = append(completion.Reasons, ReasonMissingDeliveryDetails)
		} else if strings.TrimSpace(line.Item.LocalDeliveryPolicy) != "" && line.LocalDelivery.TermsAcceptedAt == nil {
			completion.Reasons = append(completion.Reasons, ReasonMissingPolicyAcceptance)
		}
	case FulfillmentPickup:
		if !pickupDetailsComplete(line.Pickup) {
			completion.Reasons = append(completion.Reasons, ReasonMissingPickupDetails)
		} else if strings.TrimSpace(line.Item.PickupPolicy) != "" && line.Pickup.TermsAcceptedAt == nil {
			completion.Reasons = append(completion.Reasons, ReasonMissingPolicyAcceptance)
		}
	}

	completion.Complete = len(completion.Reasons) == 0
	return completion
}

// EvaluateCart runs the gate over every line. Checkout is allowed only when
// every line is complete; the shipping address is required iff at least one
// line ships.
func EvaluateCart(cart Cart) CartCompletion {
	result := CartCompletion{
		Lines: make([]LineCompletion, 0, len(cart.Lines)),
	}

	allComplete := true
	hasShipLine := false
	for _, line := range cart.Lines {
		if line.FulfillmentType == FulfillmentShip {
			hasShipLine = true
		}
		completion := EvaluateLine(line, cart.ShippingAddress)
		if !completion.Complete {
			allComplete = false
		}
		result.Lines = append(result.Lines, completion)
	}

	result.MissingShippingAddress = hasShipLine && !ShippingAddressComplete(cart.ShippingAddress)
	result.CanCheckout = len(cart.Lines) > 0 && allComplete && !result.MissingShippingAddress
	return result
}

// ShippingAddressComplete reports whether the cart-level address carries the
// street, city, state, and zip checkout requires.
func ShippingAddressComplete(addr *ShippingAddress) bool {
	if addr == nil {
		return false
	}
	return strings.TrimSpace(addr.Street) != "" &&
		strings.TrimSpace(addr.City) != "" &&
		strings.TrimSpace(addr.State) != "" &&
		strings.TrimSpace(addr.Zip) != ""
}

func deliveryDetailsComplete(details *LocalDeliveryDetails) bool {
	if details == nil {
		return false
	}
	return strings.TrimSpace(details.FirstName) != "" &&
		strings.TrimSpace(details.LastName) != "" &&
		strings.TrimSpace(details.Phone) != ""
}

func pickupDetailsComplete(details *PickupDetails) bool {
	if details == nil {
		return false
	}
	return strings.TrimSpace(details.FirstName) != "" &&
		strings.TrimSpace(details.LastName) != "" &&
		strings.TrimSpace(details.Phone) != ""
}

func missingVariantSelection(groups []OptionGroup, variant map[string]string) bool {
	for _, group := range groups {
		name := strings.TrimSpace(group.Name)
		if name == "" {
			continue
		}
		if strings.TrimSpace(variant[name]) == "" {
			return true
		}
	}
	return false
}
