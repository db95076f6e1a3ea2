package service

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"hotelbook/internal/models"
)

var referenceAlphabetSize = big.NewInt(int64(len(models.ReferenceAlphabet)))

// NewReference draws a booking reference from an alphabet without look-alike characters.
func NewReference() (string, error) {
	buf := make([]byte, models.ReferenceLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, referenceAlphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to generate booking reference: %w", err)
		}
		buf[i] = models.ReferenceAlphabet[n.Int64()]
	}
	return string(buf), nil
}
