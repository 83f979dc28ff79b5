package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID       string
	Verification map[string]bool
	JTI          string
}

// AccessTokenClaims represents the identity token presented by callers.
// Verification carries flags such as email_verified asserted by the identity system.
type AccessTokenClaims struct {
	UserID       string          `json:"user_id"`
	Verification map[string]bool `json:"verification,omitempty"`
	jwt.RegisteredClaims
}

// Flag reports whether the named verification flag is set.
func (c *AccessTokenClaims) Flag(name string) bool {
	if c == nil {
		return false
	}
	return c.Verification[name]
}
