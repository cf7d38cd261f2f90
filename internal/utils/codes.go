package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

const (
	authCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789!@#$%"
	authCodeLength   = 16

	invoiceSuffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	invoiceSuffixLength   = 6
)

// GenerateAuthCode returns a random EPP transfer code.
func GenerateAuthCode() (string, error) {
	return randomString(authCodeAlphabet, authCodeLength)
}

// GenerateInvoiceNumber returns an invoice number of the form INV-YYYYMMDD-XXXXXX.
// Uniqueness is best effort.
func GenerateInvoiceNumber(now time.Time) (string, error) {
	suffix, err := randomString(invoiceSuffixAlphabet, invoiceSuffixLength)
	if err != nil {
		return "", err
	}
	return "INV-" + now.UTC().Format("20060102") + "-" + suffix, nil
}

func randomString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}
