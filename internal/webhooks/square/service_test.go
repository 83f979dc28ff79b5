package squarewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

type stubGateway struct {
	live    *subscriptions.SquareSubscription
	lookups []string
	subject subscriptions.Subject
	err     error
}

func (g *stubGateway) Lookup(ctx context.Context, subscriptionID string) (*subscriptions.SquareSubscription, error) {
	g.lookups = append(g.lookups, subscriptionID)
	if g.err != nil {
		return nil, g.err
	}
	return g.live, nil
}

func (g *stubGateway) ResolveSubject(ctx context.Context, sub *subscriptions.SquareSubscription) (subscriptions.Subject, error) {
	return g.subject, nil
}

type stubReconciler struct {
	events []billing.Event
}

func (r *stubReconciler) ApplyEvent(ctx context.Context, event billing.Event) (billing.Result, error) {
	r.events = append(r.events, event)
	return billing.Result{Outcome: enums.BillingEventOutcomeApplied, Status: event.Status}, nil
}

func newTestService(t *testing.T, gw *stubGateway) (*Service, *stubReconciler) {
	t.Helper()
	rec := &stubReconciler{}
	svc, err := NewService(ServiceParams{Gateway: gw, Reconciler: rec})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, rec
}

var testSubject = subscriptions.Subject{UserID: "user-1", Platform: "analytics-pro", Interval: catalog.PlanMonthly}

func subscriptionEvent(eventType, status string) *SquareWebhookEvent {
	return &SquareWebhookEvent{
		EventID:   "evt_1",
		Type:      eventType,
		CreatedAt: "2026-05-10T12:00:00Z",
		Data: SquareWebhookData{
			Type: "subscription",
			ID:   "sub_1",
			Object: SquareWebhookObject{Subscription: &subscriptions.SquareSubscription{
				ID:                 "sub_1",
				CustomerID:         "cust_1",
				PlanVariationID:    "price_analytics_pro_monthly",
				Status:             status,
				StartDate:          "2026-04-10",
				ChargedThroughDate: "2026-06-10",
			}},
		},
	}
}

func invoiceEvent(eventType string) *SquareWebhookEvent {
	return &SquareWebhookEvent{
		EventID: "evt_2",
		Type:    eventType,
		Data: SquareWebhookData{
			Type:   "invoice",
			ID:     "inv_1",
			Object: SquareWebhookObject{Invoice: &SquareInvoice{ID: "inv_1", SubscriptionID: "sub_1"}},
		},
	}
}

func TestHandleSubscriptionCreated(t *testing.T) {
	svc, rec := newTestService(t, &stubGateway{subject: testSubject})

	res, err := svc.HandleEvent(context.Background(), subscriptionEvent(TypeSubscriptionCreated, "ACTIVE"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res == nil || res.Outcome != enums.BillingEventOutcomeApplied {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one reconciler event, got %d", len(rec.events))
	}
	ev := rec.events[0]
	if ev.Kind != enums.BillingEventCheckoutCompleted || ev.Status != enums.SubscriptionStatusActive {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.ID != "evt_1" || ev.UserID != "user-1" || ev.Platform != "analytics-pro" || ev.BillingRef != "sub_1" {
		t.Fatalf("unexpected identity fields %+v", ev)
	}
	if !ev.PeriodEnd.Equal(time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected period end %s", ev.PeriodEnd)
	}
	if !ev.OccurredAt.Equal(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected occurred at %s", ev.OccurredAt)
	}
}

func TestHandleSubscriptionUpdated(t *testing.T) {
	svc, rec := newTestService(t, &stubGateway{subject: testSubject})

	if _, err := svc.HandleEvent(context.Background(), subscriptionEvent(TypeSubscriptionUpdated, "ACTIVE")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := svc.HandleEvent(context.Background(), subscriptionEvent(TypeSubscriptionUpdated, "CANCELED")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if rec.events[0].Kind != enums.BillingEventSubscriptionUpserted {
		t.Fatalf("expected upsert, got %s", rec.events[0].Kind)
	}
	if rec.events[1].Kind != enums.BillingEventSubscriptionDeleted {
		t.Fatalf("expected deletion for canceled subscription, got %s", rec.events[1].Kind)
	}
}

func TestHandleInvoicePaymentMade(t *testing.T) {
	gw := &stubGateway{
		subject: testSubject,
		live:    &subscriptions.SquareSubscription{ID: "sub_1", CustomerID: "cust_1", Status: "ACTIVE"},
	}
	svc, rec := newTestService(t, gw)

	if _, err := svc.HandleEvent(context.Background(), invoiceEvent(TypeInvoicePaymentMade)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(gw.lookups) != 1 || gw.lookups[0] != "sub_1" {
		t.Fatalf("expected lookup of invoiced subscription, got %v", gw.lookups)
	}
	ev := rec.events[0]
	if ev.Kind != enums.BillingEventPaymentSucceeded || ev.BillingRef != "sub_1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.PeriodEnd.IsZero() {
		t.Fatalf("payment_succeeded should leave state to the reconciler fetch")
	}
	if ev.ID != "evt_2" {
		t.Fatalf("unexpected event id %q", ev.ID)
	}
}

func TestHandleInvoiceChargeFailedMarksPastDue(t *testing.T) {
	gw := &stubGateway{
		subject: testSubject,
		live: &subscriptions.SquareSubscription{
			ID:                 "sub_1",
			Status:             "ACTIVE",
			ChargedThroughDate: "2026-06-10",
		},
	}
	svc, rec := newTestService(t, gw)

	if _, err := svc.HandleEvent(context.Background(), invoiceEvent(TypeInvoiceChargeFailed)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	ev := rec.events[0]
	if ev.Kind != enums.BillingEventPaymentFailed || ev.Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestHandleIgnoresUnknownTypes(t *testing.T) {
	svc, rec := newTestService(t, &stubGateway{subject: testSubject})

	res, err := svc.HandleEvent(context.Background(), &SquareWebhookEvent{EventID: "evt_3", Type: "payment.created"})
	if err != nil || res != nil {
		t.Fatalf("expected ignored event, got %+v, %v", res, err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("reconciler should not be called")
	}
}

func TestHandleRejectsIncompletePayloads(t *testing.T) {
	svc, _ := newTestService(t, &stubGateway{subject: testSubject})
	ctx := context.Background()

	if _, err := svc.HandleEvent(ctx, &SquareWebhookEvent{Type: TypeSubscriptionUpdated}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.HandleEvent(ctx, &SquareWebhookEvent{Type: TypeInvoicePaymentMade}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.HandleEvent(ctx, nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for nil event, got %v", err)
	}
}

func TestHandleLookupFailureIsDependencyError(t *testing.T) {
	svc, rec := newTestService(t, &stubGateway{subject: testSubject, err: pkgerrors.New(pkgerrors.CodeDependency, "square down")})

	_, err := svc.HandleEvent(context.Background(), invoiceEvent(TypeInvoicePaymentMade))
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("reconciler should not be called")
	}
}

func TestEventIDFallsBackToDataID(t *testing.T) {
	if got := EventID(&SquareWebhookEvent{Data: SquareWebhookData{ID: "sub_9"}}); got != "sub_9" {
		t.Fatalf("expected data id fallback, got %q", got)
	}
	if got := EventID(nil); got != "" {
		t.Fatalf("expected empty id for nil event")
	}
}
