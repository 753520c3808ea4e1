package services

import (
	"testing"
	"time"
)

func completeAddress() *ShippingAddress {
	return &ShippingAddress{
		Name:   "Avery Buyer",
		Street: "12 Main St",
		City:   "Springfield",
		State:  "IL",
		Zip:    "62704",
	}
}

func TestEvaluateLineShipRequiresCartAddress(t *testing.T) {
	line := CartLine{
		ID:              "line-1",
		Quantity:        1,
		FulfillmentType: FulfillmentShip,
		Item:            CatalogItem{PriceCents: 1000},
	}

	completion := EvaluateLine(line, nil)
	if completion.Complete {
		t.Fatalf("ship line without address must be incomplete")
	}
	if completion.Reasons[0] != ReasonMissingShippingAddress {
		t.Fatalf("expected missing shipping address, got %s", completion.Reasons[0])
	}

	completion = EvaluateLine(line, completeAddress())
	if !completion.Complete {
		t.Fatalf("ship line with complete address must pass, reasons %v", completion.Reasons)
	}
}

func TestEvaluateLinePickupPolicyAcceptance(t *testing.T) {
	line := CartLine{
		ID:              "line-1",
		Quantity:        1,
		FulfillmentType: FulfillmentPickup,
		Item: CatalogItem{
			PriceCents:             1000,
			ShippingDisabled:       true,
			InStorePickupAvailable: true,
			PickupPolicy:           "Pick up within 3 days at the market stall.",
		},
		Pickup: &PickupDetails{
			FirstName: "Avery",
			LastName:  "Buyer",
			Phone:     "555-0101",
		},
	}

	completion := EvaluateLine(line, nil)
	if completion.Complete {
		t.Fatalf("unaccepted pickup policy must block the line")
	}
	if completion.Reasons[0] != ReasonMissingPolicyAcceptance {
		t.Fatalf("expected missing policy acceptance, got %s", completion.Reasons[0])
	}

	accepted := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	line.Pickup.TermsAcceptedAt = &accepted
	completion = EvaluateLine(line, nil)
	if !completion.Complete {
		t.Fatalf("accepted policy must pass, reasons %v", completion.Reasons)
	}
}

func TestEvaluateLineNoPolicyNoAcceptanceNeeded(t *testing.T) {
	line := CartLine{
		ID:              "line-1",
		Quantity:        1,
		FulfillmentType: FulfillmentPickup,
		Item: CatalogItem{
			ShippingDisabled:       true,
			InStorePickupAvailable: true,
		},
		Pickup: &PickupDetails{FirstName: "A", LastName: "B", Phone: "555"},
	}

	if completion := EvaluateLine(line, nil); !completion.Complete {
		t.Fatalf("empty policy must not require acceptance, reasons %v", completion.Reasons)
	}
}

func TestEvaluateLineDeliveryDetails(t *testing.T) {
	line := CartLine{
		ID:              "line-1",
		Quantity:        1,
		FulfillmentType: FulfillmentLocalDelivery,
		Item: CatalogItem{
			LocalDeliveryAvailable: true,
		},
	}

	completion := EvaluateLine(line, nil)
	if completion.Complete || completion.Reasons[0] != ReasonMissingDeliveryDetails {
		t.Fatalf("delivery line without details must report missing delivery details, got %v", completion.Reasons)
	}

	line.LocalDelivery = &LocalDeliveryDetails{FirstName: "Avery", LastName: "Buyer", Phone: "555-0101"}
	if completion := EvaluateLine(line, nil); !completion.Complete {
		t.Fatalf("complete delivery details must pass, reasons %v", completion.Reasons)
	}
}

func TestEvaluateLineVariantAndQuantity(t *testing.T) {
	line := CartLine{
		ID:              "line-1",
		Quantity:        5,
		FulfillmentType: FulfillmentShip,
		Item: CatalogItem{
			QuantityAvailable: 3,
			OptionGroups: []OptionGroup{
				{Name: "Size", Values: []string{"S", "M", "L"}},
			},
		},
	}

	completion := EvaluateLine(line, completeAddress())
	if completion.Complete {
		t.Fatalf("expected incomplete line")
	}
	if len(completion.Reasons) != 2 {
		t.Fatalf("expected quantity and variant reasons, got %v", completion.Reasons)
	}

	line.Quantity = 2
	line.Variant = map[string]string{"Size": "M"}
	if completion := EvaluateLine(line, completeAddress()); !completion.Complete {
		t.Fatalf("expected complete line, reasons %v", completion.Reasons)
	}
}

func TestEvaluateLineFulfillmentNoLongerOffered(t *testing.T) {
	line := CartLine{
		ID:              "line-1",
		Quantity:        1,
		FulfillmentType: FulfillmentLocalDelivery,
		Item:            CatalogItem{InStorePickupAvailable: true, ShippingDisabled: true},
		LocalDelivery:   &LocalDeliveryDetails{FirstName: "A", LastName: "B", Phone: "555"},
	}

	completion := EvaluateLine(line, nil)
	if completion.Complete || completion.Reasons[0] != ReasonFulfillmentNotOffered {
		t.Fatalf("expected fulfillment_not_offered, got %v", completion.Reasons)
	}
}

func TestEvaluateCartBlockedByOneLine(t *testing.T) {
	pickup := CartLine{
		ID:              "line-pickup",
		Quantity:        1,
		FulfillmentType: FulfillmentPickup,
		Item:            CatalogItem{ShippingDisabled: true, InStorePickupAvailable: true},
		Pickup:          &PickupDetails{FirstName: "A", LastName: "B", Phone: "555"},
	}
	delivery := CartLine{
		ID:              "line-delivery",
		Quantity:        1,
		FulfillmentType: FulfillmentLocalDelivery,
		Item:            CatalogItem{LocalDeliveryAvailable: true},
	}

	cart := Cart{UserID: "user-1", Lines: []CartLine{pickup, delivery}}
	completion := EvaluateCart(cart)
	if completion.CanCheckout {
		t.Fatalf("one incomplete line must block the cart")
	}
	if completion.FirstReason() != ReasonMissingDeliveryDetails {
		t.Fatalf("expected missing delivery details first, got %s", completion.FirstReason())
	}

	delivery.LocalDelivery = &LocalDeliveryDetails{FirstName: "A", LastName: "B", Phone: "555"}
	cart.Lines = []CartLine{pickup, delivery}
	if completion := EvaluateCart(cart); !completion.CanCheckout {
		t.Fatalf("all lines complete must allow checkout")
	}
}

func TestEvaluateCartEmptyCannotCheckout(t *testing.T) {
	if completion := EvaluateCart(Cart{UserID: "user-1"}); completion.CanCheckout {
		t.Fatalf("empty cart must not check out")
	}
}

func TestEvaluateCartShipLineRequiresAddress(t *testing.T) {
	ship := CartLine{
		ID:              "line-ship",
		Quantity:        1,
		FulfillmentType: FulfillmentShip,
		Item:            CatalogItem{},
	}

	cart := Cart{UserID: "user-1", Lines: []CartLine{ship}}
	completion := EvaluateCart(cart)
	if completion.CanCheckout {
		t.Fatalf("ship line without cart address must block checkout")
	}
	if !completion.MissingShippingAddress {
		t.Fatalf("expected MissingShippingAddress to be set")
	}

	cart.ShippingAddress = completeAddress()
	if completion := EvaluateCart(cart); !completion.CanCheckout {
		t.Fatalf("complete address must unblock the cart")
	}
}
