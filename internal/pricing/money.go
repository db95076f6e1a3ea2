package pricing

import (
	"math"
	"strconv"
)

// Round2 rounds to cents, halves going up.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// percentLabel renders a rate such as 0.12 as "12%".
func percentLabel(rate float64) string {
	return strconv.FormatFloat(Round2(rate*100), 'f', -1, 64) + "%"
}
