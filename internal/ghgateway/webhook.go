package ghgateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifyWebhookSignature implements spec.md §4.2's `verify_webhook_signature`:
// HMAC-SHA256 of the raw body with the shared secret, compared in constant
// time. Grounded on the teacher's server/webhook.go verifyWebhookSignature.
func VerifyWebhookSignature(secret []byte, signatureHeader string, body []byte) bool {
	if len(secret) == 0 || signatureHeader == "" {
		return false
	}
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}

	expectedHex := strings.TrimPrefix(signatureHeader, signaturePrefix)
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	computed := mac.Sum(nil)

	return hmac.Equal(expected, computed)
}
