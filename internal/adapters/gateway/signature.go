package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"syncbridge/internal/core/domain"
)

const signaturePrefix = "sha256="

// Sign returns the hex HMAC-SHA256 of body, as both platforms send it
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC compares a received signature against the body in constant time.
// An optional "sha256=" prefix is accepted.
func verifyHMAC(secret, received string, body []byte) error {
	received = strings.TrimPrefix(strings.TrimSpace(received), signaturePrefix)
	if secret == "" || received == "" {
		return domain.ErrInvalidSignature
	}

	got, err := hex.DecodeString(strings.ToLower(received))
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}
