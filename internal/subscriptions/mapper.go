package subscriptions

import (
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

// ToSnapshot maps a Square subscription onto the reconciler's provider view.
// Square dates are calendar days; they are read as midnight UTC.
func ToSnapshot(sub *SquareSubscription, interval catalog.PlanInterval) (*billing.Snapshot, error) {
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square subscription is nil")
	}
	status, err := mapSquareStatus(sub.Status)
	if err != nil {
		return nil, err
	}

	start, hasStart := parseDate(sub.StartDate)
	canceledAt, hasCanceled := parseDate(sub.CanceledDate)
	end, ok := parseDate(sub.ChargedThroughDate)
	switch {
	case ok:
	case hasCanceled:
		end = canceledAt
	case hasStart:
		end = start
	default:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square subscription has no billing period").
			WithDetails(map[string]any{"subscription_id": sub.ID})
	}

	periodStart := previousBoundary(end, interval)
	if hasStart && start.After(periodStart) && !start.After(end) {
		periodStart = start
	}

	snap := &billing.Snapshot{
		BillingRef:   strings.TrimSpace(sub.ID),
		CustomerRef:  strings.TrimSpace(sub.CustomerID),
		Status:       status,
		PeriodStart:  periodStart,
		PeriodEnd:    end,
		SelectedPlan: string(interval),
	}
	if status == enums.SubscriptionStatusTrialing && hasStart {
		trialEnd := start
		snap.TrialEnd = &trialEnd
	}
	// An ACTIVE subscription with a canceled date runs out its paid period.
	if status == enums.SubscriptionStatusActive && hasCanceled {
		snap.CancelAtPeriodEnd = true
	}
	return snap, nil
}

func previousBoundary(end time.Time, interval catalog.PlanInterval) time.Time {
	if interval == catalog.PlanYearly {
		return end.AddDate(-1, 0, 0)
	}
	return end.AddDate(0, -1, 0)
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func mapSquareStatus(raw string) (enums.SubscriptionStatus, error) {
	normalized := normalizeSquareStatus(raw)
	if mapped, ok := squareStatusAliases[normalized]; ok {
		return mapped, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeDependency, "unrecognized square subscription status").
		WithDetails(map[string]any{"status": raw})
}

func normalizeSquareStatus(raw string) string {
	normalized := strings.TrimSpace(raw)
	normalized = strings.ToUpper(normalized)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	return normalized
}

// Square has no dunning state of its own: a paused subscription is treated as
// past due and a deactivated one (failed collection) as unpaid.
var squareStatusAliases = map[string]enums.SubscriptionStatus{
	"ACTIVE":      enums.SubscriptionStatusActive,
	"PENDING":     enums.SubscriptionStatusTrialing,
	"CANCELED":    enums.SubscriptionStatusCanceled,
	"CANCELLED":   enums.SubscriptionStatusCanceled,
	"DEACTIVATED": enums.SubscriptionStatusUnpaid,
	"PAUSED":      enums.SubscriptionStatusPastDue,
}
