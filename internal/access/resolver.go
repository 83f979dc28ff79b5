package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

// Decision is the authoritative answer for one (user, platform) at a point in time.
type Decision struct {
	Granted   bool               `json:"granted"`
	Source    enums.AccessSource `json:"source"`
	Reason    string             `json:"reason"`
	ExpiresAt *time.Time         `json:"expiresAt,omitempty"`
}

type grantsRepository interface {
	Find(ctx context.Context, userID, platform string) (*models.AccessGrant, error)
	RevokeTrialGrantTx(tx *gorm.DB, trialID uuid.UUID, now time.Time) (int64, error)
}

type subscriptionReader interface {
	FindSubscription(ctx context.Context, userID, platform string) (*models.Subscription, error)
}

type trialsRepository interface {
	FindByUserPlatform(ctx context.Context, userID, platform string) (*models.Trial, error)
	ExpireIfActiveTx(tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error)
}

type platformCatalog interface {
	Platform(key string) (catalog.Platform, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ResolverParams groups dependencies for the access resolver.
type ResolverParams struct {
	Grants            grantsRepository
	Subscriptions     subscriptionReader
	Trials            trialsRepository
	Catalog           platformCatalog
	TransactionRunner txRunner
	Metrics           *metrics.AccessMetrics
	Logger            *logger.Logger
}

// Resolver derives access from grants, subscriptions and trials.
type Resolver struct {
	grants  grantsRepository
	subs    subscriptionReader
	trials  trialsRepository
	catalog platformCatalog
	tx      txRunner
	metrics *metrics.AccessMetrics
	logg    *logger.Logger
}

// NewResolver builds an access resolver.
func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.Grants == nil {
		return nil, fmt.Errorf("grants repository required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription reader required")
	}
	if params.Trials == nil {
		return nil, fmt.Errorf("trial repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("platform catalog required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &Resolver{
		grants:  params.Grants,
		subs:    params.Subscriptions,
		trials:  params.Trials,
		catalog: params.Catalog,
		tx:      params.TransactionRunner,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// ResolveAccess answers whether userID may use platform at now. A paid
// subscription always outranks a trial. When storage fails the decision is a
// denial with reason indeterminate and the returned error carries
// CodeIndeterminate.
func (r *Resolver) ResolveAccess(ctx context.Context, userID, platform string, now time.Time) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	policy, err := r.catalog.Platform(platform)
	if err != nil {
		return Decision{}, err
	}
	now = now.UTC()

	decision, err := r.resolve(ctx, userID, policy, now)
	if err != nil {
		if r.logg != nil {
			logCtx := r.logg.WithSubject(ctx, userID, policy.Key)
			r.logg.Error(logCtx, "access resolution indeterminate", err)
		}
		r.metrics.Observe(string(enums.AccessSourceNone), enums.AccessReasonIndeterminate)
		return Decision{Granted: false, Source: enums.AccessSourceNone, Reason: enums.AccessReasonIndeterminate},
			pkgerrors.Wrap(pkgerrors.CodeIndeterminate, err, "resolve access")
	}
	r.metrics.Observe(string(decision.Source), decision.Reason)
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, userID string, policy catalog.Platform, now time.Time) (Decision, error) {
	grant, err := r.grants.Find(ctx, userID, policy.Key)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Decision{}, fmt.Errorf("load access grant: %w", err)
	}
	if decision, ok := fromGrant(grant, policy, now); ok {
		return decision, nil
	}

	sub, err := r.subs.FindSubscription(ctx, userID, policy.Key)
	if err != nil {
		return Decision{}, fmt.Errorf("load subscription: %w", err)
	}
	if sub != nil && sub.GrantsAccessAt(now) {
		return granted(enums.AccessSourceSubscription, enums.AccessReasonSubscriptionActive, sub.AccessUntil()), nil
	}

	trial, err := r.trials.FindByUserPlatform(ctx, userID, policy.Key)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Decision{}, fmt.Errorf("load trial: %w", err)
		}
		trial = nil
	}

	trialReason := ""
	if trial != nil {
		switch {
		case trial.ActiveAt(now) && !policy.UsageCapReached(trial.UsageCount):
			return granted(enums.AccessSourceTrial, enums.AccessReasonTrialActive, trial.EndsAt), nil
		case trial.ActiveAt(now):
			trialReason = enums.AccessReasonTrialUsageExhausted
		case trial.Status == enums.TrialStatusActive:
			if err := r.expireTrial(ctx, trial, now); err != nil {
				return Decision{}, err
			}
			trialReason = enums.AccessReasonTrialExpired
		default:
			trialReason = enums.AccessReasonTrialExpired
		}
	}

	switch {
	case sub != nil:
		return denied(subscriptionDenialReason(sub)), nil
	case trialReason != "":
		return denied(trialReason), nil
	default:
		return denied(enums.AccessReasonNoRecord), nil
	}
}

// fromGrant serves the cached grant when it can be trusted without a
// recompute. Trial grants on hard-capped platforms always fall through so the
// usage counter is checked.
func fromGrant(grant *models.AccessGrant, policy catalog.Platform, now time.Time) (Decision, bool) {
	if grant == nil || !grant.IsActive || !now.Before(grant.ExpiresAt) {
		return Decision{}, false
	}
	switch grant.Source {
	case enums.AccessSourceSubscription:
		return granted(enums.AccessSourceSubscription, enums.AccessReasonSubscriptionActive, grant.ExpiresAt), true
	case enums.AccessSourceTrial:
		if policy.HardCapped {
			return Decision{}, false
		}
		return granted(enums.AccessSourceTrial, enums.AccessReasonTrialActive, grant.ExpiresAt), true
	}
	return Decision{}, false
}

// expireTrial performs the lazy active -> expired flip. The conditional update
// never touches a converted trial.
func (r *Resolver) expireTrial(ctx context.Context, trial *models.Trial, now time.Time) error {
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		flipped, err := r.trials.ExpireIfActiveTx(tx, trial.ID, now)
		if err != nil || !flipped {
			return err
		}
		_, err = r.grants.RevokeTrialGrantTx(tx, trial.ID, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("expire trial %s: %w", trial.ID, err)
	}
	return nil
}

func subscriptionDenialReason(sub *models.Subscription) string {
	if sub.Status.GrantsAccess() {
		return enums.AccessReasonSubscriptionExpired
	}
	return enums.SubscriptionDenialReason(sub.Status)
}

func granted(source enums.AccessSource, reason string, expiresAt time.Time) Decision {
	exp := expiresAt.UTC()
	return Decision{Granted: true, Source: source, Reason: reason, ExpiresAt: &exp}
}

func denied(reason string) Decision {
	return Decision{Granted: false, Source: enums.AccessSourceNone, Reason: reason}
}
