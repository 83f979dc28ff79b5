package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/internal/billing"
	squarewebhook "github.com/angelmondragon/entitlements-backend/internal/webhooks/square"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/square"
)

// SquareConsumer scopes webhook idempotency keys.
const SquareConsumer = "square-webhook"

const maxWebhookBody = 1 << 20

type SquareWebhookService interface {
	HandleEvent(ctx context.Context, event *squarewebhook.SquareWebhookEvent) (*billing.Result, error)
}

type signatureVerifier interface {
	VerifySignature(body []byte, header string) bool
}

type processedGuard interface {
	Seen(ctx context.Context, consumer, eventID string) (bool, error)
	Confirm(ctx context.Context, consumer, eventID string) error
}

type squareWebhookResponse struct {
	EventID   string                    `json:"eventId"`
	Type      string                    `json:"type,omitempty"`
	Duplicate bool                      `json:"duplicate,omitempty"`
	Ignored   bool                      `json:"ignored,omitempty"`
	Outcome   enums.BillingEventOutcome `json:"outcome,omitempty"`
	Status    enums.SubscriptionStatus  `json:"status,omitempty"`
	Detail    string                    `json:"detail,omitempty"`
}

// SquareWebhook verifies, de-duplicates and applies Square subscription events.
func SquareWebhook(svc SquareWebhookService, verifier signatureVerifier, guard processedGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "square client unavailable"))
			return
		}
		if guard == nil {
			responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.Fail(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get(square.SignatureHeader)
		if sigHeader == "" {
			responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "square signature missing"))
			return
		}
		if !verifier.VerifySignature(payload, sigHeader) {
			responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature"))
			return
		}

		var event squarewebhook.SquareWebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.Fail(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		eventID := squarewebhook.EventID(&event)
		if eventID == "" {
			responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id missing"))
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"square_event_id": eventID, "square_event_type": event.Type})
		}

		// Reconciliation is idempotent, so the marker is only written once an
		// event has been applied. A failed or abandoned delivery stays unmarked.
		seen, err := guard.Seen(ctx, SquareConsumer, eventID)
		if err != nil {
			responses.Fail(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if seen {
			responses.OK(w, squareWebhookResponse{EventID: eventID, Duplicate: true})
			return
		}

		result, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			responses.Fail(ctx, logg, w, err)
			return
		}
		if err := guard.Confirm(context.WithoutCancel(ctx), SquareConsumer, eventID); err != nil && logg != nil {
			logg.Error(ctx, "mark square event processed", err)
		}

		resp := squareWebhookResponse{EventID: eventID, Type: event.Type}
		if result == nil {
			resp.Ignored = true
		} else {
			resp.Outcome = result.Outcome
			resp.Status = result.Status
			resp.Detail = result.Detail
		}
		if logg != nil {
			logg.Info(ctx, "square event processed")
		}
		responses.OK(w, resp)
	}
}
