// Package calendar works with stays as half-open ranges of calendar dates:
// the check-in night is included, the check-out date is not.
package calendar

import (
	"errors"
	"fmt"
	"math"
	"time"

	"hotelbook/internal/models"
)

var (
	ErrPastCheckIn  = errors.New("check-in date cannot be in the past")
	ErrInvalidRange = errors.New("check-out date must be after check-in date")
	ErrStayTooLong  = errors.New("stay exceeds the maximum number of nights")
	ErrInvalidDate  = errors.New("invalid date format, expected YYYY-MM-DD")
)

const day = 24 * time.Hour

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

func Format(t time.Time) string {
	return t.Format(models.DateLayout)
}

// Nights counts the nights between two dates, ignoring time of day.
func Nights(checkIn, checkOut time.Time) int {
	return int(Date(checkOut).Sub(Date(checkIn)) / day)
}

// ExpandNights lists every night of [checkIn, checkOut) in order.
func ExpandNights(checkIn, checkOut time.Time) ([]time.Time, error) {
	start, end := Date(checkIn), Date(checkOut)
	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	nights := make([]time.Time, 0, Nights(start, end))
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		nights = append(nights, d)
	}
	return nights, nil
}

// ValidateStay checks the stay against today and returns its length in nights.
func ValidateStay(checkIn, checkOut, today time.Time, maxNights int) (int, error) {
	if maxNights <= 0 {
		maxNights = models.MaxStayNights
	}

	start, end := Date(checkIn), Date(checkOut)
	if start.Before(Date(today)) {
		return 0, ErrPastCheckIn
	}
	if !end.After(start) {
		return 0, ErrInvalidRange
	}

	nights := Nights(start, end)
	if nights > maxNights {
		return 0, fmt.Errorf("%w: %d nights, maximum is %d", ErrStayTooLong, nights, maxNights)
	}
	return nights, nil
}

// DaysUntil rounds the time left until date up to whole days.
// It is negative once a full day has passed since date began.
func DaysUntil(date, now time.Time) int {
	return int(math.Ceil(Date(date).Sub(now).Hours() / 24))
}
