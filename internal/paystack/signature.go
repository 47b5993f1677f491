package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the header Paystack signs webhook deliveries in.
const SignatureHeader = "X-Paystack-Signature"

// Sign returns the hex HMAC-SHA512 of payload keyed with the secret key.
func Sign(secretKey string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the valid signature of payload.
// The comparison is constant-time. An empty secret or signature never verifies.
func VerifySignature(secretKey string, payload []byte, signature string) bool {
	if secretKey == "" || signature == "" {
		return false
	}
	expected := Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
