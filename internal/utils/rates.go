package utils

import "github.com/shopspring/decimal"

// Round2 rounds a rate to two decimal places, half away from zero
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// AddRound2 adds an offset to a rate and rounds the sum to two decimal places.
// The sum is taken in decimal so 6.74+0.12 yields 6.86, not 6.860000000000001.
func AddRound2(rate, offset float64) float64 {
	return decimal.NewFromFloat(rate).Add(decimal.NewFromFloat(offset)).Round(2).InexactFloat64()
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
