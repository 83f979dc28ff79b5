// Package square is the read side of the Square integration: subscription
// and customer lookups used to reconcile billing state, plus webhook
// signature checks.
package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

var (
	errNoToken   = errors.New("square: access token is required")
	errBadEnv    = errors.New(`square: environment must be "sandbox" or "production"`)
	errNoLogger  = errors.New("square: logger is required")
	errEmptyBody = errors.New("square: empty response")
)

var endpoints = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

// statusCodes maps HTTP statuses Square returns to domain codes. Anything
// else in the 4xx range is a validation failure; the rest are dependency errors.
var statusCodes = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
}

type Client struct {
	sdk  *sqclient.Client
	env  string
	logg *logger.Logger
}

// New builds a client for the configured environment. opts are applied after
// the environment base URL and token, so tests can point it elsewhere.
func New(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger, opts ...sqoption.RequestOption) (*Client, error) {
	if logg == nil {
		return nil, errNoLogger
	}
	env := cfg.Environment()
	baseURL, ok := endpoints[env]
	if !ok {
		return nil, errBadEnv
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errNoToken
	}

	all := append([]sqoption.RequestOption{sqoption.WithBaseURL(baseURL), sqoption.WithToken(token)}, opts...)
	c := &Client{sdk: sqclient.NewClient(all...), env: env, logg: logg}
	logg.Info(logg.WithField(ctx, "environment", env), "square client initialized")
	return c, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.env
}

// GetSubscription reads the live subscription from Square.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error) {
	return call(ctx, c, "get_subscription", subscriptionID, func(ctx context.Context) (*sq.Subscription, error) {
		resp, err := c.sdk.Subscriptions.Get(ctx, &sq.GetSubscriptionsRequest{SubscriptionID: subscriptionID})
		if err != nil {
			return nil, err
		}
		return resp.GetSubscription(), nil
	})
}

// GetCustomer reads a customer, whose reference_id carries our user id.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*sq.Customer, error) {
	return call(ctx, c, "get_customer", customerID, func(ctx context.Context) (*sq.Customer, error) {
		resp, err := c.sdk.Customers.Get(ctx, &sq.GetCustomersRequest{CustomerID: customerID})
		if err != nil {
			return nil, err
		}
		return resp.GetCustomer(), nil
	})
}

// call runs one SDK request with timing logs and domain error mapping. A nil
// result without an error is treated as a provider fault.
func call[T any](ctx context.Context, c *Client, op, id string, fn func(context.Context) (*T, error)) (*T, error) {
	if c == nil || c.sdk == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square client not configured")
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{"operation": op, "resource_id": id})
	started := time.Now()

	out, err := fn(ctx)
	elapsed := time.Since(started).Milliseconds()
	if err == nil && out == nil {
		err = errEmptyBody
	}
	if err != nil {
		mapped := mapError(err, op)
		c.logg.Warn(c.logg.WithFields(logCtx, map[string]any{"duration_ms": elapsed, "error": err.Error()}), "square request failed")
		return nil, mapped
	}
	c.logg.Debug(c.logg.WithField(logCtx, "duration_ms", elapsed), "square request ok")
	return out, nil
}

func mapError(err error, op string) error {
	msg := fmt.Sprintf("square %s failed", strings.ReplaceAll(op, "_", " "))
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	return pkgerrors.Wrap(codeFor(apiErr.StatusCode, providerErrors(apiErr)), err, msg)
}

func codeFor(status int, details []*sq.Error) pkgerrors.Code {
	for _, d := range details {
		switch {
		case d == nil:
		case d.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.CodeIdempotency
		case d.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.CodeUnauthorized
		}
	}
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

// providerErrors decodes the {"errors": [...]} body Square attaches to failures.
func providerErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(inner.Error()), &body); err != nil {
		return nil
	}
	return body.Errors
}
