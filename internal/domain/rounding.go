package domain

import "github.com/shopspring/decimal"

// RoundingMode selects how fractional currency amounts collapse to whole
// units. The default everywhere is banker's rounding so that repeated tax
// computations do not drift upward.
type RoundingMode string

const (
	RoundBankers RoundingMode = "bankers"
	RoundHalfUp  RoundingMode = "half_up"
	RoundFloor   RoundingMode = "floor"
	RoundCeiling RoundingMode = "ceiling"
)

// RoundAmount rounds a decimal currency amount to a whole unit.
func RoundAmount(value decimal.Decimal, mode RoundingMode) int64 {
	switch mode {
	case RoundHalfUp:
		return value.Round(0).IntPart()
	case RoundFloor:
		return value.RoundFloor(0).IntPart()
	case RoundCeiling:
		return value.RoundCeil(0).IntPart()
	default:
		return value.RoundBank(0).IntPart()
	}
}

// PercentageAmount computes rate% of base, rounded with the given mode.
// A 10% discount on 1005 with banker's rounding yields 100 (100.5 rounds to
// the even neighbour).
func PercentageAmount(base int64, rate float64, mode RoundingMode) int64 {
	amount := decimal.NewFromInt(base).
		Mul(decimal.NewFromFloat(rate)).
		Div(decimal.NewFromInt(100))
	return RoundAmount(amount, mode)
}

// ExternalTax computes the tax added on top of a tax-exclusive target amount.
func ExternalTax(target int64, rate float64, mode RoundingMode) int64 {
	tax := decimal.NewFromInt(target).
		Mul(decimal.NewFromFloat(rate)).
		Div(decimal.NewFromInt(100))
	return RoundAmount(tax, mode)
}

// InternalTax extracts the tax portion already contained in a tax-inclusive
// target amount: target * rate / (100 + rate).
func InternalTax(target int64, rate float64, mode RoundingMode) int64 {
	rateDec := decimal.NewFromFloat(rate)
	tax := decimal.NewFromInt(target).
		Mul(rateDec).
		Div(decimal.NewFromInt(100).Add(rateDec))
	return RoundAmount(tax, mode)
}

// AllocateProportionally splits total across weights in proportion, assigning
// any rounding remainder to the last non-zero weight so the parts always sum
// to total. Used to push a subtotal discount down onto line items before tax.
func AllocateProportionally(total int64, weights []int64) []int64 {
	parts := make([]int64, len(weights))
	var weightSum int64
	for _, w := range weights {
		weightSum += w
	}
	if weightSum == 0 {
		return parts
	}

	last := -1
	var allocated int64
	totalDec := decimal.NewFromInt(total)
	sumDec := decimal.NewFromInt(weightSum)
	for i, w := range weights {
		if w == 0 {
			continue
		}
		part := totalDec.Mul(decimal.NewFromInt(w)).Div(sumDec)
		parts[i] = RoundAmount(part, RoundBankers)
		allocated += parts[i]
		last = i
	}
	if last >= 0 {
		parts[last] += total - allocated
	}
	return parts
}
