package subscriptions

import "github.com/angelmondragon/entitlements-backend/pkg/catalog"

// SquareSubscription is the subset of a Square subscription the reconciler
// needs. Webhook payloads decode straight into it; API reads are converted.
type SquareSubscription struct {
	ID                 string `json:"id"`
	CustomerID         string `json:"customer_id"`
	PlanVariationID    string `json:"plan_variation_id"`
	Status             string `json:"status"`
	StartDate          string `json:"start_date"`
	ChargedThroughDate string `json:"charged_through_date"`
	CanceledDate       string `json:"canceled_date"`
}

// Subject is the (user, platform) a Square subscription belongs to.
type Subject struct {
	UserID   string
	Platform string
	Interval catalog.PlanInterval
}
