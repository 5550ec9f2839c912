package replicate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hmac256 generates an HMAC-SHA256 hex digest.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifyWebhookSignature checks a webhook body against the signature header
// using the shared webhook secret.
func VerifyWebhookSignature(secret string, body []byte, receivedSig string) bool {
	expected := Hmac256(body, []byte(secret))
	return hmac.Equal([]byte(receivedSig), []byte(expected))
}

// HashToken hashes a shared webhook token for at-rest storage.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareToken reports whether token matches the stored bcrypt hash.
func CompareToken(storedHash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(token)) == nil
}
