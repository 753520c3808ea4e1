package services

// ComputeTotals reduces a set of cart lines into derived money amounts. All
// arithmetic is integer cents. Shipping cost accrues only on ship lines with a
// positive configured cost; the local delivery fee only on local delivery
// lines with a positive fee. Nil or zero fees mean free. Pickup lines never
// contribute a fee.
func ComputeTotals(lines []CartLine) Totals {
	var totals Totals
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		qty := int64(line.Quantity)
		totals.SubtotalCents += line.Item.PriceCents * qty

		switch line.FulfillmentType {
		case FulfillmentShip:
			if cost := line.Item.ShippingCostCents; cost != nil && *cost > 0 {
				totals.ShippingCents += *cost * qty
			}
		case FulfillmentLocalDelivery:
			if fee := line.Item.LocalDeliveryFeeCents; fee != nil && *fee > 0 {
				totals.LocalDeliveryCents += *fee * qty
			}
		}
	}
	totals.TotalCents = totals.SubtotalCents + totals.ShippingCents + totals.LocalDeliveryCents
	return totals
}
