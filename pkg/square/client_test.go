package square

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "square-test", Output: io.Discard})
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, config.SquareConfig{AccessToken: "tok"}, nil)
	assert.ErrorIs(t, err, errNoLogger)
	_, err = New(ctx, config.SquareConfig{}, quietLogger())
	assert.ErrorIs(t, err, errNoToken)
	_, err = New(ctx, config.SquareConfig{AccessToken: "tok", Env: "staging"}, quietLogger())
	assert.ErrorIs(t, err, errBadEnv)

	c, err := New(ctx, config.SquareConfig{AccessToken: "tok", Env: " PRODUCTION "}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment())
}

// fakeSquare serves canned bodies keyed by request path.
func fakeSquare(t *testing.T, routes map[string]struct {
	status int
	body   string
}) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		for path, resp := range routes {
			if strings.HasSuffix(r.URL.Path, path) {
				w.WriteHeader(resp.status)
				_, _ = io.WriteString(w, resp.body)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND"}]}`)
	}))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), config.SquareConfig{AccessToken: "tok"}, quietLogger(), sqoption.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return c
}

func TestGetSubscription(t *testing.T) {
	c := fakeSquare(t, map[string]struct {
		status int
		body   string
	}{
		"/v2/subscriptions/sub-1": {http.StatusOK, `{"subscription":{"id":"sub-1","status":"ACTIVE","customer_id":"cus-1"}}`},
		"/v2/subscriptions/sub-2": {http.StatusUnauthorized, `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`},
	})

	sub, err := c.GetSubscription(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", *sub.GetID())
	assert.Equal(t, sq.SubscriptionStatusActive, *sub.GetStatus())

	_, err = c.GetSubscription(context.Background(), "sub-2")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "%v", err)

	_, err = c.GetSubscription(context.Background(), "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "%v", err)
}

func TestGetCustomer(t *testing.T) {
	c := fakeSquare(t, map[string]struct {
		status int
		body   string
	}{
		"/v2/customers/cus-1": {http.StatusOK, `{"customer":{"id":"cus-1","reference_id":"user-1"}}`},
		"/v2/customers/cus-2": {http.StatusOK, `{}`},
	})

	customer, err := c.GetCustomer(context.Background(), "cus-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", *customer.GetReferenceID())

	_, err = c.GetCustomer(context.Background(), "cus-2")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "%v", err)
}

func TestNilClient(t *testing.T) {
	var c *Client
	_, err := c.GetCustomer(context.Background(), "cus-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Empty(t, c.Environment())
}

func TestMapError(t *testing.T) {
	cases := map[string]struct {
		err  error
		want pkgerrors.Code
	}{
		"auth category wins": {
			sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`)),
			pkgerrors.CodeUnauthorized,
		},
		"idempotency reuse": {
			sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`)),
			pkgerrors.CodeIdempotency,
		},
		"rate limited":      {sqcore.NewAPIError(http.StatusTooManyRequests, errors.New(`not json`)), pkgerrors.CodeRateLimit},
		"unlisted 4xx":      {sqcore.NewAPIError(http.StatusGone, errors.New(`{}`)), pkgerrors.CodeValidation},
		"unprocessable":     {sqcore.NewAPIError(http.StatusUnprocessableEntity, errors.New(`{}`)), pkgerrors.CodeStateConflict},
		"provider outage":   {sqcore.NewAPIError(http.StatusServiceUnavailable, errors.New(`{}`)), pkgerrors.CodeDependency},
		"transport failure": {errors.New("dial tcp: timeout"), pkgerrors.CodeDependency},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			mapped := pkgerrors.As(mapError(tc.err, "get_customer"))
			require.NotNil(t, mapped)
			assert.Equal(t, tc.want, mapped.Code())
		})
	}
}
