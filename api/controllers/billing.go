package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/internal/retention"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

// BillingReader exposes stored subscription state and the audit ledger.
type BillingReader interface {
	Subscription(ctx context.Context, userID, platform string) (*models.Subscription, error)
	History(ctx context.Context, userID, platform string, page pagination.Params) (*billing.HistoryPage, error)
}

// RetentionReader lists recorded retention decisions.
type RetentionReader interface {
	Decisions(ctx context.Context, userID, platform string, page pagination.Params) (*retention.DecisionsPage, error)
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}, nil
}

// GetSubscription returns the caller's stored subscription for a platform.
func GetSubscription(svc BillingReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		sub, err := svc.Subscription(r.Context(), userID, platformParam(r))
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		if sub == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found"))
			return
		}
		responses.OK(w, newSubscriptionResponse(sub))
	}
}

// BillingHistory pages through the caller's reconciled billing events.
func BillingHistory(svc BillingReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), userID, platformParam(r), params)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		out := pageResponse[billingEventResponse]{
			Items:      make([]billingEventResponse, 0, len(page.Events)),
			NextCursor: page.NextCursor,
		}
		for _, e := range page.Events {
			out.Items = append(out.Items, billingEventResponse{
				ID:              e.ID.String(),
				ProviderEventID: e.ProviderEventID,
				Kind:            e.Kind,
				Status:          e.Status,
				Outcome:         e.Outcome,
				Detail:          e.Detail,
				OccurredAt:      e.OccurredAt,
				ProcessedAt:     e.ProcessedAt,
			})
		}
		responses.OK(w, out)
	}
}

// RetentionDecisions pages through the decisions recorded for the caller.
func RetentionDecisions(svc RetentionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "retention service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		page, err := svc.Decisions(r.Context(), userID, platformParam(r), params)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		out := pageResponse[retentionDecisionResponse]{
			Items:      make([]retentionDecisionResponse, 0, len(page.Decisions)),
			NextCursor: page.NextCursor,
		}
		for _, d := range page.Decisions {
			out.Items = append(out.Items, retentionDecisionResponse{
				ID:         d.ID.String(),
				Kind:       d.Kind,
				DedupeKey:  d.DedupeKey,
				Urgency:    d.Urgency,
				Reason:     d.Reason,
				ChurnScore: d.ChurnScore,
				DecidedAt:  d.DecidedAt,
			})
		}
		responses.OK(w, out)
	}
}
