package middleware

import (
	"context"
	"maps"
)

type ctxKey int

const callerKey ctxKey = 0

// Caller is the authenticated identity attached to a request.
type Caller struct {
	UserID       string
	Verification map[string]bool
}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller and whether Auth ran.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

func UserIDFromContext(ctx context.Context) string {
	c, _ := CallerFromContext(ctx)
	return c.UserID
}

// VerificationFromContext returns a copy of the caller's verification flags.
func VerificationFromContext(ctx context.Context) map[string]bool {
	c, _ := CallerFromContext(ctx)
	return maps.Clone(c.Verification)
}

// WithUserID sets the caller's user id, keeping any verification flags.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c, _ := CallerFromContext(ctx)
	c.UserID = userID
	return withCaller(ctx, c)
}

// WithVerification sets the caller's verification flags.
func WithVerification(ctx context.Context, flags map[string]bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c, _ := CallerFromContext(ctx)
	c.Verification = flags
	return withCaller(ctx, c)
}
