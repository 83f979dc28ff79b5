package billing

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

// Event is one provider lifecycle event, already authenticated and mapped
// onto (user, platform).
type Event struct {
	ID                string
	Kind              enums.BillingEventKind
	UserID            string
	Platform          string
	BillingRef        string
	CustomerRef       string
	Status            enums.SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TrialStart        *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	SelectedPlan      string
	OccurredAt        time.Time
}

// Snapshot is the provider's current view of a subscription.
type Snapshot struct {
	BillingRef        string
	CustomerRef       string
	Status            enums.SubscriptionStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TrialStart        *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	SelectedPlan      string
}

// SubscriptionFetcher reads live subscription state from the billing provider.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, billingRef string) (*Snapshot, error)
}

// Result reports what the reconciler did with an event.
type Result struct {
	Outcome        enums.BillingEventOutcome
	Detail         string
	SubscriptionID string
	Status         enums.SubscriptionStatus
}

// EventFromSnapshot builds the reconciler event for a provider re-read of a
// stored subscription. Canceled snapshots become subscription_deleted.
func EventFromSnapshot(id, userID, platform string, snap *Snapshot, at time.Time) Event {
	event := Event{ID: id, UserID: userID, Platform: platform, OccurredAt: at}
	event = event.withSnapshot(snap)
	if snap.Status == enums.SubscriptionStatusCanceled {
		event.Kind = enums.BillingEventSubscriptionDeleted
	}
	return event
}

// withSnapshot returns a subscription_upserted copy of e carrying snap's state.
func (e Event) withSnapshot(snap *Snapshot) Event {
	out := e
	out.Kind = enums.BillingEventSubscriptionUpserted
	if snap.BillingRef != "" {
		out.BillingRef = snap.BillingRef
	}
	if snap.CustomerRef != "" {
		out.CustomerRef = snap.CustomerRef
	}
	out.Status = snap.Status
	out.PeriodStart = snap.PeriodStart
	out.PeriodEnd = snap.PeriodEnd
	out.TrialStart = snap.TrialStart
	out.TrialEnd = snap.TrialEnd
	out.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	if snap.SelectedPlan != "" {
		out.SelectedPlan = snap.SelectedPlan
	}
	return out
}

func (e Event) validate() error {
	if !e.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown billing event kind")
	}
	if strings.TrimSpace(e.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(e.BillingRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "billing reference is required")
	}
	if e.Kind == enums.BillingEventPaymentSucceeded {
		return nil
	}
	if e.PeriodEnd.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "period end is required")
	}
	if e.Kind != enums.BillingEventSubscriptionDeleted && !e.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription status").
			WithDetails(map[string]any{"status": e.Status})
	}
	return nil
}
