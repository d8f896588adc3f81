// Package threshold computes reorder suggestions from a current count and a
// minimum-stock threshold. Pure arithmetic, no I/O.
package threshold

import "math"

// Policy selects the reorder formula. The zero value is the canonical
// policy: toOrder = max(0, minStock - currentCount).
//
// FloorToOne reproduces an older behavior of the staff check screen that
// forced at least one unit onto the order whenever the count was at or
// below threshold, even when the true deficit was zero. Keep it off unless
// a deployment depends on the old numbers.
type Policy struct {
	FloorToOne bool
}

// ToOrder returns the suggested order quantity. Negative or NaN inputs are
// treated as zero. The result is a suggestion only; explicit operator
// entries win and must never be recomputed over.
func (p Policy) ToOrder(currentCount float64, minStock float64) float64 {
	currentCount = sanitize(currentCount)
	minStock = sanitize(minStock)

	if p.FloorToOne {
		if currentCount > minStock {
			return 0
		}
		return math.Max(1, minStock-currentCount)
	}

	return math.Max(0, minStock-currentCount)
}

// IsLow reports whether a count is below its threshold. A count exactly
// equal to the minimum is not low.
func IsLow(currentCount float64, minStock float64) bool {
	return sanitize(currentCount) < sanitize(minStock)
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
