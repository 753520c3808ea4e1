package services

import (
	"errors"
)

// ErrNoFulfillment indicates an item offers no fulfillment mode at all. This
// is a catalog data error; lines pointing at such an item can never check out.
var ErrNoFulfillment = errors.New("fulfillment: item offers no fulfillment mode")

// ResolveDefaultFulfillment picks the fulfillment type a new line starts with:
// ship unless shipping is disabled, then local delivery, then pickup.
func ResolveDefaultFulfillment(item CatalogItem) (FulfillmentType, error) {
	switch {
	case !item.ShippingDisabled:
		return FulfillmentShip, nil
	case item.LocalDeliveryAvailable:
		return FulfillmentLocalDelivery, nil
	case item.InStorePickupAvailable:
		return FulfillmentPickup, nil
	}
	return "", ErrNoFulfillment
}

// FulfillmentOffered reports whether the item's capability flags allow the
// given fulfillment type.
func FulfillmentOffered(item CatalogItem, t FulfillmentType) bool {
	switch t {
	case FulfillmentShip:
		return !item.ShippingDisabled
	case FulfillmentLocalDelivery:
		return item.LocalDeliveryAvailable
	case FulfillmentPickup:
		return item.InStorePickupAvailable
	}
	return false
}

// ReResolveFulfillment returns the line's current fulfillment type when the
// item still offers it, or falls back to the default. Lines whose item stopped
// offering every mode surface ErrNoFulfillment.
func ReResolveFulfillment(line CartLine) (FulfillmentType, error) {
	if FulfillmentOffered(line.Item, line.FulfillmentType) {
		return line.FulfillmentType, nil
	}
	return ResolveDefaultFulfillment(line.Item)
}
