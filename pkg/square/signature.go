package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
)

// SignatureHeader carries Square's HMAC-SHA256 webhook signature.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

// Sign returns the base64 HMAC-SHA256 of notificationURL+body keyed by secret.
func Sign(secret, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is Square's signature for body.
func VerifySignature(secret, notificationURL string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if secret == "" || header == "" {
		return false
	}
	expected := Sign(secret, notificationURL, body)
	return hmac.Equal([]byte(expected), []byte(header))
}

// Verifier checks deliveries against one signature key and notification URL.
type Verifier struct {
	secret string
	url    string
}

// NewVerifier requires the signature key; the URL must match what is
// registered in the Square dashboard byte for byte.
func NewVerifier(cfg config.SquareConfig) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("square: webhook signature key is required")
	}
	return &Verifier{secret: secret, url: strings.TrimSpace(cfg.WebhookURL)}, nil
}

func (v *Verifier) VerifySignature(body []byte, header string) bool {
	if v == nil {
		return false
	}
	return VerifySignature(v.secret, v.url, body, header)
}
