package pricing

// RefundPercentage maps days left before check-in to the share of the total refunded.
func RefundPercentage(daysUntilCheckIn int) int {
	switch {
	case daysUntilCheckIn >= 14:
		return 100
	case daysUntilCheckIn >= 7:
		return 50
	case daysUntilCheckIn >= 3:
		return 25
	default:
		return 0
	}
}

func Refund(totalAmount float64, daysUntilCheckIn int) float64 {
	return Round2(totalAmount * float64(RefundPercentage(daysUntilCheckIn)) / 100)
}
