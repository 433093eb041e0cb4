package services

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	upperAlnum   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// randomString draws n characters from alphabet.
// It panics if the system random source fails.
func randomString(alphabet string, n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}

// newBlacklistID returns the short id used for admin-created entries
func newBlacklistID() string {
	return randomString(alphanumeric, 6)
}

// newEscalationID returns the id used for Gate escalations
func newEscalationID() string {
	return "BL-" + randomString(upperAlnum, 8)
}

// tokenGenerator returns prefix + the first 10 characters of a UUIDv4
func tokenGenerator(prefix string) func() string {
	return func() string {
		return prefix + uuid.NewString()[:10]
	}
}
