package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

var now = time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)

type stubGrants struct {
	grant   *models.AccessGrant
	err     error
	revoked []uuid.UUID
}

func (s *stubGrants) Find(ctx context.Context, userID, platform string) (*models.AccessGrant, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.grant == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.grant, nil
}

func (s *stubGrants) RevokeTrialGrantTx(tx *gorm.DB, trialID uuid.UUID, now time.Time) (int64, error) {
	s.revoked = append(s.revoked, trialID)
	return 1, nil
}

type stubSubs struct {
	sub *models.Subscription
	err error
}

func (s *stubSubs) FindSubscription(ctx context.Context, userID, platform string) (*models.Subscription, error) {
	return s.sub, s.err
}

type stubTrials struct {
	trial     *models.Trial
	err       error
	expireErr error
	expired   []uuid.UUID
}

func (s *stubTrials) FindByUserPlatform(ctx context.Context, userID, platform string) (*models.Trial, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.trial == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.trial, nil
}

func (s *stubTrials) ExpireIfActiveTx(tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	if s.expireErr != nil {
		return false, s.expireErr
	}
	s.expired = append(s.expired, id)
	return true, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newResolverForTests(t *testing.T, grants *stubGrants, subs *stubSubs, trials *stubTrials) *Resolver {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if grants == nil {
		grants = &stubGrants{}
	}
	if subs == nil {
		subs = &stubSubs{}
	}
	if trials == nil {
		trials = &stubTrials{}
	}
	r, err := NewResolver(ResolverParams{
		Grants:            grants,
		Subscriptions:     subs,
		Trials:            trials,
		Catalog:           cat,
		TransactionRunner: stubTxRunner{},
		Metrics:           metrics.NewAccessMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func activeTrial(endsAt time.Time, usage int) *models.Trial {
	return &models.Trial{
		ID:         uuid.New(),
		UserID:     "user-1",
		Platform:   "automation-suite",
		StartedAt:  endsAt.AddDate(0, 0, -7),
		EndsAt:     endsAt,
		Status:     enums.TrialStatusActive,
		UsageCount: usage,
	}
}

func TestResolveAccessNoRecord(t *testing.T) {
	r := newResolverForTests(t, nil, nil, nil)
	decision, err := r.ResolveAccess(context.Background(), "user-1", "analytics-pro", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Granted || decision.Reason != enums.AccessReasonNoRecord || decision.Source != enums.AccessSourceNone {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestResolveAccessSubscriptionOutranksTrial(t *testing.T) {
	sub := &models.Subscription{
		ID:               uuid.New(),
		Status:           enums.SubscriptionStatusActive,
		CurrentPeriodEnd: now.Add(72 * time.Hour),
	}
	trial := activeTrial(now.Add(24*time.Hour), 0)
	r := newResolverForTests(t, nil, &stubSubs{sub: sub}, &stubTrials{trial: trial})

	decision, err := r.ResolveAccess(context.Background(), "user-1", "automation-suite", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Granted || decision.Source != enums.AccessSourceSubscription {
		t.Fatalf("expected subscription access, got %+v", decision)
	}
	if decision.ExpiresAt == nil || !decision.ExpiresAt.Equal(sub.CurrentPeriodEnd) {
		t.Fatalf("expected expiry at period end, got %v", decision.ExpiresAt)
	}
}

func TestResolveAccessTrialingUsesTrialEnd(t *testing.T) {
	trialEnd := now.Add(-time.Hour)
	sub := &models.Subscription{
		Status:           enums.SubscriptionStatusTrialing,
		CurrentPeriodEnd: now.Add(30 * 24 * time.Hour),
		TrialEnd:         &trialEnd,
	}
	r := newResolverForTests(t, nil, &stubSubs{sub: sub}, nil)

	decision, err := r.ResolveAccess(context.Background(), "user-1", "analytics-pro", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Granted || decision.Reason != enums.AccessReasonSubscriptionExpired {
		t.Fatalf("expected subscription_expired, got %+v", decision)
	}
}

func TestResolveAccessFastPathUsesGrant(t *testing.T) {
	grant := &models.AccessGrant{
		IsActive:  true,
		Source:    enums.AccessSourceTrial,
		ExpiresAt: now.Add(time.Hour),
	}
	subs := &stubSubs{err: errors.New("must not be read")}
	r := newResolverForTests(t, &stubGrants{grant: grant}, subs, nil)

	decision, err := r.ResolveAccess(context.Background(), "user-1", "analytics-pro", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Granted || decision.Source != enums.AccessSourceTrial {
		t.Fatalf("expected cached trial access, got %+v", decision)
	}
}

func TestResolveAccessHardCappedTrialSkipsGrantAndChecksUsage(t *testing.T) {
	grant := &models.AccessGrant{
		IsActive:  true,
		Source:    enums.AccessSourceTrial,
		ExpiresAt: now.Add(time.Hour),
	}
	trial := activeTrial(now.Add(time.Hour), 100)
	r := newResolverForTests(t, &stubGrants{grant: grant}, nil, &stubTrials{trial: trial})

	decision, err := r.ResolveAccess(context.Background(), "user-1", "automation-suite", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Granted || decision.Reason != enums.AccessReasonTrialUsageExhausted {
		t.Fatalf("expected trial_usage_exhausted, got %+v", decision)
	}
}

func TestResolveAccessUsageLimitIsAdvisoryWhenNotHardCapped(t *testing.T) {
	trial := activeTrial(now.Add(time.Hour), 500)
	trial.Platform = "insights-lite"
	r := newResolverForTests(t, nil, nil, &stubTrials{trial: trial})

	decision, err := r.ResolveAccess(context.Background(), "user-1", "insights-lite", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Granted || decision.Source != enums.AccessSourceTrial {
		t.Fatalf("expected trial access, got %+v", decision)
	}
}

func TestResolveAccessLazilyExpiresTrial(t *testing.T) {
	trial := activeTrial(now.Add(-time.Minute), 3)
	trials := &stubTrials{trial: trial}
	grants := &stubGrants{}
	r := newResolverForTests(t, grants, nil, trials)

	decision, err := r.ResolveAccess(context.Background(), "user-1", "automation-suite", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Granted || decision.Reason != enums.AccessReasonTrialExpired {
		t.Fatalf("expected trial_expired, got %+v", decision)
	}
	if len(trials.expired) != 1 || trials.expired[0] != trial.ID {
		t.Fatalf("expected lazy expiry write, got %v", trials.expired)
	}
	if len(grants.revoked) != 1 {
		t.Fatalf("expected trial grant revoked")
	}
}

func TestResolveAccessConvertedTrialIsNotExpiredAgain(t *testing.T) {
	trial := activeTrial(now.Add(-time.Minute), 0)
	trial.Status = enums.TrialStatusConverted
	trials := &stubTrials{trial: trial}
	r := newResolverForTests(t, nil, nil, trials)

	decision, err := r.ResolveAccess(context.Background(), "user-1", "automation-suite", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Reason != enums.AccessReasonTrialExpired {
		t.Fatalf("expected trial_expired, got %+v", decision)
	}
	if len(trials.expired) != 0 {
		t.Fatalf("converted trial must not be written")
	}
}

func TestResolveAccessPastDueSubscriptionFallsBackToTrial(t *testing.T) {
	sub := &models.Subscription{
		Status:           enums.SubscriptionStatusPastDue,
		CurrentPeriodEnd: now.Add(24 * time.Hour),
	}
	trial := activeTrial(now.Add(48*time.Hour), 0)
	trial.Platform = "analytics-pro"
	r := newResolverForTests(t, nil, &stubSubs{sub: sub}, &stubTrials{trial: trial})

	decision, err := r.ResolveAccess(context.Background(), "user-1", "analytics-pro", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Granted || decision.Source != enums.AccessSourceTrial {
		t.Fatalf("expected trial access, got %+v", decision)
	}
}

func TestResolveAccessReportsSubscriptionStatus(t *testing.T) {
	sub := &models.Subscription{
		Status:           enums.SubscriptionStatusUnpaid,
		CurrentPeriodEnd: now.Add(24 * time.Hour),
	}
	r := newResolverForTests(t, nil, &stubSubs{sub: sub}, nil)

	decision, err := r.ResolveAccess(context.Background(), "user-1", "analytics-pro", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Reason != "subscription_unpaid" {
		t.Fatalf("expected subscription_unpaid, got %q", decision.Reason)
	}
}

func TestResolveAccessStorageErrorIsIndeterminate(t *testing.T) {
	cases := map[string]*Resolver{
		"grant":        newResolverForTests(t, &stubGrants{err: errors.New("db down")}, nil, nil),
		"subscription": newResolverForTests(t, nil, &stubSubs{err: errors.New("db down")}, nil),
		"trial":        newResolverForTests(t, nil, nil, &stubTrials{err: errors.New("db down")}),
		"expire": newResolverForTests(t, nil, nil, &stubTrials{
			trial:     activeTrial(now.Add(-time.Minute), 0),
			expireErr: errors.New("db down"),
		}),
	}
	for name, r := range cases {
		decision, err := r.ResolveAccess(context.Background(), "user-1", "automation-suite", now)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeIndeterminate) {
			t.Fatalf("%s: expected indeterminate code, got %v", name, err)
		}
		if decision.Granted || decision.Reason != enums.AccessReasonIndeterminate {
			t.Fatalf("%s: expected fail-closed decision, got %+v", name, decision)
		}
	}
}

func TestResolveAccessValidatesInput(t *testing.T) {
	r := newResolverForTests(t, nil, nil, nil)
	if _, err := r.ResolveAccess(context.Background(), "", "analytics-pro", now); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := r.ResolveAccess(context.Background(), "user-1", "nope", now); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
