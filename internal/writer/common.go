package writer

import "math"

// dollarsToMicros converts a dollar price to integer micro-dollars.
func dollarsToMicros(dollars float64) int64 {
	if math.IsNaN(dollars) || math.IsInf(dollars, 0) {
		return 0
	}
	// Round to avoid floating point errors (e.g., 0.07 * 1e6 = 70000.00000000001)
	return int64(math.Round(dollars * 1_000_000))
}
