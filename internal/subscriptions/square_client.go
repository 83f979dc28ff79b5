package subscriptions

import (
	"context"
	"errors"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// SquareAPI is the subset of pkg/square the gateway relies on.
type SquareAPI interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
	GetCustomer(ctx context.Context, customerID string) (*sq.Customer, error)
}

type priceCatalog interface {
	PlatformForPrice(priceID string) (catalog.Platform, catalog.PlanInterval, bool)
}

// GatewayParams groups dependencies for the Square gateway.
type GatewayParams struct {
	Client  SquareAPI
	Catalog priceCatalog
	Logger  *logger.Logger
}

// Gateway reads Square subscriptions and maps them onto (user, platform).
// It implements billing.SubscriptionFetcher.
type Gateway struct {
	client  SquareAPI
	catalog priceCatalog
	logg    *logger.Logger
}

// NewGateway builds a Square gateway.
func NewGateway(params GatewayParams) (*Gateway, error) {
	if params.Client == nil {
		return nil, errors.New("square client is required")
	}
	if params.Catalog == nil {
		return nil, errors.New("price catalog is required")
	}
	return &Gateway{
		client:  params.Client,
		catalog: params.Catalog,
		logg:    params.Logger,
	}, nil
}

// Lookup reads the live subscription.
func (g *Gateway) Lookup(ctx context.Context, subscriptionID string) (*SquareSubscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	resp, err := g.client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return convertSubscription(resp), nil
}

// FetchSubscription returns the provider's current view of billingRef.
func (g *Gateway) FetchSubscription(ctx context.Context, billingRef string) (*billing.Snapshot, error) {
	sub, err := g.Lookup(ctx, billingRef)
	if err != nil {
		return nil, err
	}
	_, interval, err := g.plan(sub)
	if err != nil {
		return nil, err
	}
	return ToSnapshot(sub, interval)
}

// ResolveSubject maps a subscription to its user through the customer's
// reference_id and to its platform through the plan variation.
func (g *Gateway) ResolveSubject(ctx context.Context, sub *SquareSubscription) (Subject, error) {
	if sub == nil {
		return Subject{}, pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	platform, interval, err := g.plan(sub)
	if err != nil {
		return Subject{}, err
	}
	customerID := strings.TrimSpace(sub.CustomerID)
	if customerID == "" {
		return Subject{}, pkgerrors.New(pkgerrors.CodeValidation, "subscription has no customer").
			WithDetails(map[string]any{"subscription_id": sub.ID})
	}
	customer, err := g.client.GetCustomer(ctx, customerID)
	if err != nil {
		return Subject{}, err
	}
	userID := strings.TrimSpace(safeString(customer.GetReferenceID()))
	if userID == "" {
		return Subject{}, pkgerrors.New(pkgerrors.CodeValidation, "square customer has no reference id").
			WithDetails(map[string]any{"customer_id": customerID})
	}
	if g.logg != nil {
		logCtx := g.logg.WithSubject(ctx, userID, platform.Key)
		g.logg.Debug(g.logg.WithField(logCtx, "billing_ref", sub.ID), "square subscription resolved")
	}
	return Subject{UserID: userID, Platform: platform.Key, Interval: interval}, nil
}

func (g *Gateway) plan(sub *SquareSubscription) (catalog.Platform, catalog.PlanInterval, error) {
	priceID := strings.TrimSpace(sub.PlanVariationID)
	platform, interval, ok := g.catalog.PlatformForPrice(priceID)
	if !ok {
		return catalog.Platform{}, "", pkgerrors.New(pkgerrors.CodeValidation, "unknown plan variation").
			WithDetails(map[string]any{"plan_variation_id": priceID})
	}
	return platform, interval, nil
}

func convertSubscription(resp *sq.Subscription) *SquareSubscription {
	if resp == nil {
		return nil
	}
	return &SquareSubscription{
		ID:                 safeString(resp.GetID()),
		CustomerID:         safeString(resp.GetCustomerID()),
		PlanVariationID:    safeString(resp.GetPlanVariationID()),
		Status:             subscriptionStatusString(resp.GetStatus()),
		StartDate:          safeString(resp.GetStartDate()),
		ChargedThroughDate: safeString(resp.GetChargedThroughDate()),
		CanceledDate:       safeString(resp.GetCanceledDate()),
	}
}

func safeString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func subscriptionStatusString(status *sq.SubscriptionStatus) string {
	if status == nil {
		return ""
	}
	return string(*status)
}
