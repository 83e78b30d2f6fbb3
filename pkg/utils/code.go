package utils

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// PairingCodeLength is the length of codes created by GeneratePairingCode.
const PairingCodeLength = 8

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// GeneratePairingCode returns a random alphanumeric code used to rendezvous
// with a remote bridge session.
func GeneratePairingCode() (string, error) {
	result := make([]byte, PairingCodeLength)
	max := big.NewInt(int64(len(codeCharset)))

	for i := range result {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = codeCharset[num.Int64()]
	}

	return string(result), nil
}

// IsValidPairingCode validates that a code looks like one produced by
// GeneratePairingCode.
func IsValidPairingCode(code string) bool {
	return len(code) == PairingCodeLength && codePattern.MatchString(code)
}
