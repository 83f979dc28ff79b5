package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/internal/retention"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

type stubBilling struct {
	sub     *models.Subscription
	history *billing.HistoryPage
	params  pagination.Params
}

func (s *stubBilling) Subscription(ctx context.Context, userID, platform string) (*models.Subscription, error) {
	return s.sub, nil
}

func (s *stubBilling) History(ctx context.Context, userID, platform string, page pagination.Params) (*billing.HistoryPage, error) {
	s.params = page
	return s.history, nil
}

type stubRetention struct {
	page *retention.DecisionsPage
	err  error
}

func (s *stubRetention) Decisions(ctx context.Context, userID, platform string, page pagination.Params) (*retention.DecisionsPage, error) {
	return s.page, s.err
}

func TestGetSubscriptionNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	GetSubscription(&stubBilling{}, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/subscriptions/analytics-pro", nil, map[string]string{"platform": "analytics-pro"}))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if errorCode(t, rec) != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected error code %s", rec.Body.String())
	}
}

func TestGetSubscriptionReturnsStatus(t *testing.T) {
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubBilling{sub: &models.Subscription{
		Platform:         "analytics-pro",
		Status:           enums.SubscriptionStatusActive,
		SelectedPlan:     "pro-monthly",
		CurrentPeriodEnd: end,
	}}
	rec := httptest.NewRecorder()
	GetSubscription(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/subscriptions/analytics-pro", nil, map[string]string{"platform": "analytics-pro"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got subscriptionResponse
	decodeData(t, rec, &got)
	if got.Status != enums.SubscriptionStatusActive || got.Plan != "pro-monthly" || !got.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("unexpected subscription %+v", got)
	}
}

func TestBillingHistoryPassesPageParams(t *testing.T) {
	svc := &stubBilling{history: &billing.HistoryPage{
		Events: []models.BillingEvent{{
			ID:              uuid.New(),
			ProviderEventID: "evt-1",
			Kind:            enums.BillingEventPaymentSucceeded,
			Outcome:         enums.BillingEventOutcomeApplied,
		}},
		NextCursor: "next",
	}}
	rec := httptest.NewRecorder()
	BillingHistory(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/billing/analytics-pro/events?limit=5&cursor=abc", nil, map[string]string{"platform": "analytics-pro"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.params.Limit != 5 || svc.params.Cursor != "abc" {
		t.Fatalf("unexpected page params %+v", svc.params)
	}
	var got pageResponse[billingEventResponse]
	decodeData(t, rec, &got)
	if len(got.Items) != 1 || got.Items[0].ProviderEventID != "evt-1" || got.NextCursor != "next" {
		t.Fatalf("unexpected page %+v", got)
	}
}

func TestBillingHistoryRejectsOversizedLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	BillingHistory(&stubBilling{}, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/billing/analytics-pro/events?limit=1000", nil, map[string]string{"platform": "analytics-pro"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRetentionDecisionsMapsErrors(t *testing.T) {
	svc := &stubRetention{err: pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")}
	rec := httptest.NewRecorder()
	RetentionDecisions(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/retention/analytics-pro/decisions?cursor=bad", nil, map[string]string{"platform": "analytics-pro"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRetentionDecisionsReturnsItems(t *testing.T) {
	score := 72
	svc := &stubRetention{page: &retention.DecisionsPage{Decisions: []models.RetentionDecision{{
		ID:         uuid.New(),
		Kind:       enums.RetentionDecisionIntervention,
		DedupeKey:  "intervention:high",
		Urgency:    enums.UrgencyHigh,
		ChurnScore: &score,
	}}}}
	rec := httptest.NewRecorder()
	RetentionDecisions(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/retention/analytics-pro/decisions", nil, map[string]string{"platform": "analytics-pro"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got pageResponse[retentionDecisionResponse]
	decodeData(t, rec, &got)
	if len(got.Items) != 1 || got.Items[0].ChurnScore == nil || *got.Items[0].ChurnScore != 72 {
		t.Fatalf("unexpected page %+v", got)
	}
}
