package services

import (
	"strings"
)

// CashEligible reports whether the line may settle in person: the line must be
// picked up or locally delivered and the item's seller must accept cash.
func CashEligible(line CartLine) bool {
	switch line.FulfillmentType {
	case FulfillmentPickup, FulfillmentLocalDelivery:
		return line.Item.AcceptCash
	}
	return false
}

// DefaultPaymentChoice is cash whenever the line is cash-eligible, otherwise
// card. The cash default is deliberate: sellers keep the full amount on
// in-person settlement.
func DefaultPaymentChoice(line CartLine) PaymentChoice {
	if CashEligible(line) {
		return PaymentCash
	}
	return PaymentCard
}

// SplitCart partitions lines into the cash and card legs. An explicit per-line
// choice wins for eligible lines; ineligible lines are always carded
// regardless of the choice. Each leg carries its own totals, so the sum of the
// two legs always reconciles with the whole cart.
func SplitCart(lines []CartLine, choices map[string]PaymentChoice) CheckoutGroup {
	group := CheckoutGroup{
		CashLines: []CartLine{},
		CardLines: []CartLine{},
	}

	for _, line := range lines {
		if resolvePaymentChoice(line, choices) == PaymentCash {
			group.CashLines = append(group.CashLines, line)
		} else {
			group.CardLines = append(group.CardLines, line)
		}
	}

	group.CashTotals = ComputeTotals(group.CashLines)
	group.CardTotals = ComputeTotals(group.CardLines)
	return group
}

func resolvePaymentChoice(line CartLine, choices map[string]PaymentChoice) PaymentChoice {
	if !CashEligible(line) {
		return PaymentCard
	}
	if choice, ok := choices[strings.TrimSpace(line.ID)]; ok {
		if choice == PaymentCard {
			return PaymentCard
		}
		return PaymentCash
	}
	if line.PaymentChoice == PaymentCard {
		return PaymentCard
	}
	return PaymentCash
}
