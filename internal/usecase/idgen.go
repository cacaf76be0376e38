package usecase

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// IDGenerator returns a fresh candidate signal id.
type IDGenerator func() (string, error)

// NumericID returns a generator of fixed-width decimal ids, e.g. "04217" for 5 digits.
func NumericID(digits int) IDGenerator {
	return func() (string, error) {
		var b strings.Builder
		b.Grow(digits)
		ten := big.NewInt(10)
		for i := 0; i < digits; i++ {
			n, err := rand.Int(rand.Reader, ten)
			if err != nil {
				return "", err
			}
			b.WriteByte(byte('0' + n.Int64()))
		}
		return b.String(), nil
	}
}
