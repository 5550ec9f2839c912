package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateCode returns n random bytes as a hex string.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return hex.EncodeToString(byt), nil
}

// GenerateRequestID returns an opaque id for outbound provider requests.
func GenerateRequestID() (string, error) {
	code, err := GenerateCode(12)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("req_%s", code), nil
}
