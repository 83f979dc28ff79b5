package squarewebhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

type subscriptionGateway interface {
	Lookup(ctx context.Context, subscriptionID string) (*subscriptions.SquareSubscription, error)
	ResolveSubject(ctx context.Context, sub *subscriptions.SquareSubscription) (subscriptions.Subject, error)
}

type reconciler interface {
	ApplyEvent(ctx context.Context, event billing.Event) (billing.Result, error)
}

// ServiceParams groups dependencies for the Square webhook adapter.
type ServiceParams struct {
	Gateway    subscriptionGateway
	Reconciler reconciler
	Logger     *logger.Logger
}

// Service maps Square deliveries onto reconciler events.
type Service struct {
	gateway    subscriptionGateway
	reconciler reconciler
	logg       *logger.Logger
}

// NewService builds the Square webhook adapter.
func NewService(params ServiceParams) (*Service, error) {
	if params.Gateway == nil {
		return nil, errors.New("square gateway is required")
	}
	if params.Reconciler == nil {
		return nil, errors.New("billing reconciler is required")
	}
	return &Service{
		gateway:    params.Gateway,
		reconciler: params.Reconciler,
		logg:       params.Logger,
	}, nil
}

// HandleEvent reconciles one delivery. It returns a nil result for event
// types the adapter does not consume.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent) (*billing.Result, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	eventType := strings.ToLower(strings.TrimSpace(event.Type))

	var (
		sub  *subscriptions.SquareSubscription
		kind enums.BillingEventKind
		err  error
	)
	switch eventType {
	case TypeSubscriptionCreated, TypeSubscriptionUpdated:
		sub = event.Data.Object.Subscription
		if sub == nil || strings.TrimSpace(sub.ID) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription payload missing")
		}
		kind = subscriptionKind(eventType, sub.Status)
	case TypeInvoicePaymentMade, TypeInvoiceChargeFailed:
		invoice := event.Data.Object.Invoice
		if invoice == nil || strings.TrimSpace(invoice.SubscriptionID) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice is not tied to a subscription")
		}
		sub, err = s.gateway.Lookup(ctx, invoice.SubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch square subscription")
		}
		kind = enums.BillingEventPaymentSucceeded
		if eventType == TypeInvoiceChargeFailed {
			kind = enums.BillingEventPaymentFailed
		}
	default:
		if s.logg != nil {
			s.logg.Debug(s.logg.WithField(ctx, "type", event.Type), "square event ignored")
		}
		return nil, nil
	}

	billingEvent, err := s.buildEvent(ctx, event, sub, kind)
	if err != nil {
		return nil, err
	}
	result, err := s.reconciler.ApplyEvent(ctx, billingEvent)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) buildEvent(ctx context.Context, event *SquareWebhookEvent, sub *subscriptions.SquareSubscription, kind enums.BillingEventKind) (billing.Event, error) {
	subject, err := s.gateway.ResolveSubject(ctx, sub)
	if err != nil {
		return billing.Event{}, err
	}
	out := billing.Event{
		ID:          EventID(event),
		Kind:        kind,
		UserID:      subject.UserID,
		Platform:    subject.Platform,
		BillingRef:  strings.TrimSpace(sub.ID),
		CustomerRef: strings.TrimSpace(sub.CustomerID),
		OccurredAt:  occurredAt(event.CreatedAt),
	}
	// payment_succeeded is re-read from Square by the reconciler.
	if kind == enums.BillingEventPaymentSucceeded {
		return out, nil
	}

	snap, err := subscriptions.ToSnapshot(sub, subject.Interval)
	if err != nil {
		return billing.Event{}, err
	}
	out.Status = snap.Status
	out.PeriodStart = snap.PeriodStart
	out.PeriodEnd = snap.PeriodEnd
	out.TrialStart = snap.TrialStart
	out.TrialEnd = snap.TrialEnd
	out.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	out.SelectedPlan = snap.SelectedPlan
	// Square keeps the subscription ACTIVE while it retries a failed charge.
	if kind == enums.BillingEventPaymentFailed && out.Status == enums.SubscriptionStatusActive {
		out.Status = enums.SubscriptionStatusPastDue
	}
	return out, nil
}

func subscriptionKind(eventType, squareStatus string) enums.BillingEventKind {
	switch strings.ToUpper(strings.TrimSpace(squareStatus)) {
	case "CANCELED", "CANCELLED":
		return enums.BillingEventSubscriptionDeleted
	}
	if eventType == TypeSubscriptionCreated {
		return enums.BillingEventCheckoutCompleted
	}
	return enums.BillingEventSubscriptionUpserted
}

// EventID is the delivery's idempotency key.
func EventID(event *SquareWebhookEvent) string {
	if event == nil {
		return ""
	}
	if id := strings.TrimSpace(event.EventID); id != "" {
		return id
	}
	return strings.TrimSpace(event.Data.ID)
}

func occurredAt(raw string) time.Time {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
