package domain

import "math"

// NormalizeRating maps an upstream rating on an arbitrary scale onto the
// canonical 1..5 integer range. Out-of-range input clamps rather than errors:
// platforms occasionally report finer granularity than they document.
func NormalizeRating(value, scale float64) int {
	if scale <= 0 {
		scale = 5
	}
	n := int(math.Round(value * 5 / scale))
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return n
}
