package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
)

// Leeway absorbs clock skew between the identity system and this service.
const Leeway = 30 * time.Second

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrNoSubject    = errors.New("auth: token carries no user id")
)

var signingMethod = jwt.SigningMethodHS256

// Verifier checks HS256 identity tokens against one issuer and secret.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	switch {
	case cfg.Secret == "":
		return nil, errors.New("auth: jwt secret is required")
	case cfg.Issuer == "":
		return nil, errors.New("auth: jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return nil, errors.New("auth: jwt expiration minutes must be positive")
	}
	return &Verifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(Leeway),
		),
	}, nil
}

// Verify parses raw and returns its claims. UserID falls back to sub.
func (v *Verifier) Verify(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		claims.UserID = claims.Subject
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}

// Issue signs a token for payload. Production tokens come from the identity
// system; this serves local tooling and tests.
func (v *Verifier) Issue(now time.Time, payload AccessTokenPayload) (string, error) {
	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		return "", ErrNoSubject
	}
	jti := payload.JTI
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID:       userID,
		Verification: payload.Verification,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// MintAccessToken is a one-shot Issue for callers without a Verifier.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	v, err := NewVerifier(cfg)
	if err != nil {
		return "", err
	}
	return v.Issue(now, payload)
}
