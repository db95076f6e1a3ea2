package domain

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid pagination token")

// EncodeCursor builds the opaque nextToken for booking listings ordered by
// (created_at DESC, booking_id DESC).
func EncodeCursor(createdAt time.Time, bookingID string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + bookingID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(token string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}

	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return time.Time{}, "", ErrInvalidCursor
	}

	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	return createdAt.UTC(), id, nil
}
