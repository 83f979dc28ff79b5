package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/internal/access"
	"github.com/angelmondragon/entitlements-backend/internal/experiments"
	"github.com/angelmondragon/entitlements-backend/internal/trials"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

func authedRequest(method, target string, body io.Reader, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	ctx = middleware.WithUserID(ctx, "user-1")
	ctx = middleware.WithVerification(ctx, map[string]bool{"email_verified": true})
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload.Error.Code
}

type stubResolver struct {
	decision access.Decision
	err      error
	platform string
}

func (s *stubResolver) ResolveAccess(ctx context.Context, userID, platform string, now time.Time) (access.Decision, error) {
	s.platform = platform
	return s.decision, s.err
}

func TestResolveAccessReturnsDecision(t *testing.T) {
	svc := &stubResolver{decision: access.Decision{Granted: true, Source: enums.AccessSourceTrial, Reason: enums.AccessReasonTrialActive}}
	rec := httptest.NewRecorder()
	ResolveAccess(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/access/analytics-pro", nil, map[string]string{"platform": "analytics-pro"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got access.Decision
	decodeData(t, rec, &got)
	if !got.Granted || got.Reason != enums.AccessReasonTrialActive || svc.platform != "analytics-pro" {
		t.Fatalf("unexpected decision %+v (platform %q)", got, svc.platform)
	}
}

func TestResolveAccessIndeterminateIs503(t *testing.T) {
	svc := &stubResolver{err: pkgerrors.New(pkgerrors.CodeIndeterminate, "db down")}
	rec := httptest.NewRecorder()
	ResolveAccess(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/", nil, map[string]string{"platform": "analytics-pro"}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if errorCode(t, rec) != string(pkgerrors.CodeIndeterminate) {
		t.Fatalf("unexpected error code")
	}
}

func TestResolveAccessRequiresUser(t *testing.T) {
	rec := httptest.NewRecorder()
	ResolveAccess(&stubResolver{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

type stubTrials struct {
	flags    trials.VerificationFlags
	platform string
	err      error
}

func (s *stubTrials) ActivateTrial(ctx context.Context, userID, platform string, flags trials.VerificationFlags) (*models.Trial, error) {
	s.flags, s.platform = flags, platform
	if s.err != nil {
		return nil, s.err
	}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return &models.Trial{ID: uuid.New(), UserID: userID, Platform: platform, Status: enums.TrialStatusActive, StartedAt: now, EndsAt: now.AddDate(0, 0, 14)}, nil
}

func (s *stubTrials) GetTrial(ctx context.Context, userID, platform string) (*models.Trial, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trial not found")
}

func TestActivateTrialUsesTokenFlags(t *testing.T) {
	svc := &stubTrials{}
	rec := httptest.NewRecorder()
	ActivateTrial(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/trials", strings.NewReader(`{"platform":"analytics-pro"}`), nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !svc.flags["email_verified"] || svc.platform != "analytics-pro" {
		t.Fatalf("unexpected service args flags=%v platform=%q", svc.flags, svc.platform)
	}
	var got trialResponse
	decodeData(t, rec, &got)
	if got.Status != enums.TrialStatusActive || !got.EndsAt.Equal(got.StartedAt.AddDate(0, 0, 14)) {
		t.Fatalf("unexpected trial %+v", got)
	}
}

func TestActivateTrialRejectsMissingPlatform(t *testing.T) {
	rec := httptest.NewRecorder()
	ActivateTrial(&stubTrials{}, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/trials", strings.NewReader(`{}`), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestActivateTrialConflictAndNotEligible(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeConflict:    http.StatusConflict,
		pkgerrors.CodeNotEligible: http.StatusForbidden,
	}
	for code, status := range cases {
		rec := httptest.NewRecorder()
		svc := &stubTrials{err: pkgerrors.New(code, "nope")}
		ActivateTrial(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/trials", strings.NewReader(`{"platform":"analytics-pro"}`), nil))
		if rec.Code != status {
			t.Fatalf("%s: expected %d, got %d", code, status, rec.Code)
		}
	}
}

func TestGetTrialNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	GetTrial(&stubTrials{}, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/", nil, map[string]string{"platform": "analytics-pro"}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type stubUsage struct {
	event usage.Event
}

func (s *stubUsage) Record(ctx context.Context, event usage.Event) (usage.Recorded, error) {
	s.event = event
	return usage.Recorded{EventID: uuid.New(), TrialCounted: true}, nil
}

func TestRecordUsageBindsCaller(t *testing.T) {
	svc := &stubUsage{}
	rec := httptest.NewRecorder()
	body := `{"platform":"analytics-pro","action":"report_run","occurredAt":"2026-05-02T10:00:00Z"}`
	RecordUsage(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/usage", strings.NewReader(body), nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.event.UserID != "user-1" || svc.event.Action != "report_run" {
		t.Fatalf("unexpected event %+v", svc.event)
	}
	if !svc.event.OccurredAt.Equal(time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected occurredAt %s", svc.event.OccurredAt)
	}
}

func TestRecordUsageRejectsUserIDInBody(t *testing.T) {
	rec := httptest.NewRecorder()
	body := `{"platform":"analytics-pro","action":"x","userId":"someone-else"}`
	RecordUsage(&stubUsage{}, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/usage", strings.NewReader(body), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

type stubExperiments struct {
	testID string
}

func (s *stubExperiments) AssignOrFetch(ctx context.Context, testID, userID string) (*models.ExperimentAssignment, error) {
	s.testID = testID
	return &models.ExperimentAssignment{TestID: testID, UserID: userID, Variant: "control"}, nil
}

func (s *stubExperiments) MarkConverted(ctx context.Context, testID, userID string) (*models.ExperimentAssignment, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
}

func (s *stubExperiments) Results(ctx context.Context, testID string) (experiments.Results, error) {
	return experiments.Results{TestID: testID, Control: "control", Challenger: "variant_b", Winner: experiments.WinnerNone}, nil
}

func TestExperimentAssignment(t *testing.T) {
	svc := &stubExperiments{}
	rec := httptest.NewRecorder()
	ExperimentAssignment(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/", nil, map[string]string{"testId": "pricing-page"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got assignmentResponse
	decodeData(t, rec, &got)
	if got.Variant != "control" || svc.testID != "pricing-page" {
		t.Fatalf("unexpected assignment %+v", got)
	}
}

func TestExperimentConversionWithoutAssignment(t *testing.T) {
	rec := httptest.NewRecorder()
	ExperimentConversion(&stubExperiments{}, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/", nil, map[string]string{"testId": "pricing-page"}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEvaluateExperiment(t *testing.T) {
	rec := httptest.NewRecorder()
	body := `{"conversionsA":100,"totalA":1000,"conversionsB":150,"totalB":1000}`
	EvaluateExperiment(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var got experiments.Result
	decodeData(t, rec, &got)
	if !got.IsSignificant || got.Winner != experiments.WinnerB {
		t.Fatalf("unexpected evaluation %+v", got)
	}
}

func TestEvaluateExperimentRejectsImpossibleCounts(t *testing.T) {
	rec := httptest.NewRecorder()
	body := `{"conversionsA":10,"totalA":5,"conversionsB":1,"totalB":10}`
	EvaluateExperiment(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSampleSize(t *testing.T) {
	rec := httptest.NewRecorder()
	SampleSize(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?baseline=0.1&mde=0.2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var got struct {
		SamplePerVariant int `json:"samplePerVariant"`
		TotalSample      int `json:"totalSample"`
	}
	decodeData(t, rec, &got)
	if got.SamplePerVariant <= 0 || got.TotalSample != 2*got.SamplePerVariant {
		t.Fatalf("unexpected sample size %+v", got)
	}

	rec = httptest.NewRecorder()
	SampleSize(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?baseline=1.5&mde=0.2", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range baseline, got %d", rec.Code)
	}
}
