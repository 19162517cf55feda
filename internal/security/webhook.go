package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// DeriveWebhookSecret returns a stable path secret for the webhook URL,
// computed with HMAC-SHA256 keyed by the bot token. Every replica derives
// the same value, and the token itself never appears in the URL.
func DeriveWebhookSecret(botToken string) string {
	if botToken == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(botToken))
	mac.Write([]byte("telegram-webhook"))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// SecretsEqual compares two secrets in constant time
func SecretsEqual(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(got))
}
