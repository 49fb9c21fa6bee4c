package inventory

import (
	"github.com/shopspring/decimal"
)

// moneyPlaces is the precision tax and refunds are rounded to.
const moneyPlaces = 2

// Totals is the server-side price breakdown of an order.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxRate   decimal.Decimal
	TaxAmount decimal.Decimal
	Discount  decimal.Decimal
	Shipping  decimal.Decimal
	Total     decimal.Decimal

	// Per-line shares of TaxAmount and Discount, in cart order.
	TaxShares      []decimal.Decimal
	DiscountShares []decimal.Decimal
}

// ComputeTotals prices a cart: subtotal = Σ prices, tax = subtotal × rate,
// total = subtotal + tax − discount + shipping.
func ComputeTotals(prices []decimal.Decimal, taxRate, discount, shipping decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, p := range prices {
		subtotal = subtotal.Add(p)
	}
	tax := subtotal.Mul(taxRate).Round(moneyPlaces)
	return Totals{
		Subtotal:  subtotal,
		TaxRate:   taxRate,
		TaxAmount: tax,
		Discount:  discount,
		Shipping:  shipping,
		Total:     subtotal.Add(tax).Sub(discount).Add(shipping),

		TaxShares:      allocate(prices, subtotal, tax),
		DiscountShares: allocate(prices, subtotal, discount),
	}
}

// allocate splits amount across lines in proportion to their prices. Each
// share is rounded to moneyPlaces and the last line takes the remainder, so
// the shares always sum to amount.
func allocate(prices []decimal.Decimal, subtotal, amount decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(prices))
	if len(prices) == 0 {
		return shares
	}
	rest := amount
	for i, p := range prices[:len(prices)-1] {
		share := decimal.Zero
		if subtotal.IsPositive() {
			share = amount.Mul(p).Div(subtotal).Round(moneyPlaces)
		}
		shares[i] = share
		rest = rest.Sub(share)
	}
	shares[len(prices)-1] = rest
	return shares
}

// validatePricingInput checks caller-supplied adjustments before any storage access.
func validatePricingInput(taxRate, discount, shipping decimal.Decimal) error {
	switch {
	case taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(1)):
		return &ValidationError{Code: CodeInvalidInput, Field: "tax_rate", Message: "tax rate must be between 0 and 1"}
	case discount.IsNegative():
		return &ValidationError{Code: CodeInvalidInput, Field: "discount_amount", Message: "discount cannot be negative"}
	case shipping.IsNegative():
		return &ValidationError{Code: CodeInvalidInput, Field: "shipping_amount", Message: "shipping cannot be negative"}
	}
	return nil
}

// settle checks the tendered amount against the total and returns the
// amount received and the change due.
func settle(method PaymentMethod, total, received decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if method != PaymentCash {
		return total, decimal.Zero, nil
	}
	if received.LessThan(total) {
		return decimal.Zero, decimal.Zero, &InsufficientPaymentError{
			Total:     total,
			Received:  received,
			Shortfall: total.Sub(received),
		}
	}
	return received, received.Sub(total), nil
}

// RefundFor is the refund owed for one returned unit: what the customer paid
// for its line, that is the claim-time price plus the line's tax share minus
// its discount share. Shipping is not refunded.
func RefundFor(u Unit, o SalesOrder) decimal.Decimal {
	for _, l := range o.Lines {
		if l.IMEI != u.IMEI {
			continue
		}
		paid := l.Price.Add(l.TaxShare).Sub(l.DiscountShare)
		if paid.IsNegative() {
			return decimal.Zero
		}
		return paid
	}
	return decimal.Zero
}
