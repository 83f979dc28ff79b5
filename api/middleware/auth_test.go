package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/entitlements-backend/pkg/auth"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
)

func testVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10})
	require.NoError(t, err)
	return v
}

func serveAuth(tokens TokenVerifier, header string) (*httptest.ResponseRecorder, *Caller) {
	var seen *Caller
	h := Auth(tokens, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := CallerFromContext(r.Context())
		seen = &c
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"bearer":      {"Bearer abc", "abc", true},
		"lowercase":   {"bearer  abc ", "abc", true},
		"missing":     {"", "", false},
		"basic":       {"Basic dXNlcjpwYXNz", "", false},
		"scheme only": {"Bearer", "", false},
		"empty token": {"Bearer   ", "", false},
		"bare token":  {"abc", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := bearerToken(tc.header)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAuthRejects(t *testing.T) {
	v := testVerifier(t)
	expired, err := v.Issue(time.Now().Add(-time.Hour), auth.AccessTokenPayload{UserID: "u"})
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing": "",
		"invalid": "Bearer invalid",
		"expired": "Bearer " + expired,
	} {
		t.Run(name, func(t *testing.T) {
			rec, seen := serveAuth(v, header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, seen)
		})
	}
}

func TestAuthWithoutVerifier(t *testing.T) {
	rec, seen := serveAuth(nil, "Bearer x")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, seen)
}

func TestAuthSeedsCaller(t *testing.T) {
	v := testVerifier(t)
	token, err := v.Issue(time.Now(), auth.AccessTokenPayload{
		UserID:       "user-7",
		Verification: map[string]bool{"email_verified": true},
	})
	require.NoError(t, err)

	rec, seen := serveAuth(v, "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-7", seen.UserID)
	assert.True(t, seen.Verification["email_verified"])
}
