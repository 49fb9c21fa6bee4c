package inventory

import "github.com/shopspring/decimal"

// TierThresholds are the minimum lifetime spend for each customer tier.
// A customer with no completed order stays new.
type TierThresholds struct {
	Regular  decimal.Decimal
	VIP      decimal.Decimal
	Platinum decimal.Decimal
}

var DefaultTierThresholds = TierThresholds{
	Regular:  decimal.Zero,
	VIP:      decimal.NewFromInt(100_000_000),
	Platinum: decimal.NewFromInt(200_000_000),
}

// TierFor derives the tier from lifetime totals.
func (t TierThresholds) TierFor(totalSpent decimal.Decimal, totalOrders int) CustomerTier {
	switch {
	case totalOrders <= 0 && totalSpent.IsZero():
		return TierNew
	case totalSpent.GreaterThanOrEqual(t.Platinum):
		return TierPlatinum
	case totalSpent.GreaterThanOrEqual(t.VIP):
		return TierVIP
	case totalSpent.GreaterThanOrEqual(t.Regular):
		return TierRegular
	}
	return TierNew
}
