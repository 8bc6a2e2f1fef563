package ghgateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"action":"opened"}`)
	assert.True(t, VerifyWebhookSignature(secret, sign(secret, body), body))
}

func TestVerifyWebhookSignature_WrongSecret(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	assert.False(t, VerifyWebhookSignature([]byte("shh"), sign([]byte("other"), body), body))
}

func TestVerifyWebhookSignature_TamperedBody(t *testing.T) {
	secret := []byte("shh")
	body := []byte(`{"action":"opened"}`)
	sig := sign(secret, body)
	assert.False(t, VerifyWebhookSignature(secret, sig, []byte(`{"action":"closed"}`)))
}

func TestVerifyWebhookSignature_MissingPrefix(t *testing.T) {
	secret := []byte("shh")
	body := []byte("payload")
	assert.False(t, VerifyWebhookSignature(secret, "deadbeef", body))
}

func TestVerifyWebhookSignature_EmptySecret(t *testing.T) {
	assert.False(t, VerifyWebhookSignature(nil, "sha256=abc", []byte("x")))
}
