package domain

import "math"

// Round4 rounds x to four decimal places, halves away from zero. Every
// reported score and rate goes through it so equal inputs print equally.
func Round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
