// Package responses renders the JSON bodies every HTTP handler returns:
// {"data": ...} on success and {"error": {...}} on failure.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// Seconds advertised in Retry-After on retryable 503s.
const retryAfter = 5

type success struct {
	Data any `json:"data"`
}

type failure struct {
	Error Fault `json:"error"`
}

// Fault is the public shape of an error.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func OK(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, success{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, success{Data: data})
}

// Fail renders err. Errors without a code are reported as INTERNAL_ERROR and
// their text never reaches the client. 5xx outcomes log at error level, the
// rest at warn.
func Fail(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	coded := pkgerrors.As(err)
	if coded == nil {
		coded = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(coded.Code())

	fault := Fault{Code: string(coded.Code()), Message: coded.PublicMessage()}
	if meta.DetailsAllowed {
		fault.Details = coded.Details()
	}
	if logg != nil {
		logFailure(ctx, logg, meta.HTTPStatus, coded, err)
	}
	if meta.Retryable && meta.HTTPStatus == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	write(w, meta.HTTPStatus, failure{Error: fault})
}

func logFailure(ctx context.Context, logg *logger.Logger, status int, coded *pkgerrors.Error, err error) {
	ctx = logg.WithFields(ctx, pkgerrors.LogFields(coded))
	ctx = logg.WithField(ctx, "status", status)
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request failed", err)
		return
	}
	logg.Warn(logg.WithField(ctx, "error", err.Error()), "request rejected")
}

func write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zlog.Error().Err(err).Int("status", status).Msg("encode response")
	}
}
