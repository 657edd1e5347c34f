package domain

// CombinePremium computes a synthetic straddle premium from its two leg prices.
// The rule is a sum, not an average: the straddle costs what both legs cost.
func CombinePremium(legA, legB float64) float64 {
	return legA + legB
}

// CombineVolume picks the published volume for a combined tick.
// Leg volumes are independent trade tapes; summing would double-count liquidity,
// so the larger of the two tapes is reported.
func CombineVolume(volA, volB int64) int64 {
	if volA >= volB {
		return volA
	}
	return volB
}
