package squarewebhook

import "github.com/angelmondragon/entitlements-backend/internal/subscriptions"

// Square event types the adapter reconciles.
const (
	TypeSubscriptionCreated = "subscription.created"
	TypeSubscriptionUpdated = "subscription.updated"
	TypeInvoicePaymentMade  = "invoice.payment_made"
	TypeInvoiceChargeFailed = "invoice.scheduled_charge_failed"
)

// SquareWebhookEvent is the envelope of a Square webhook delivery.
type SquareWebhookEvent struct {
	MerchantID string            `json:"merchant_id"`
	EventID    string            `json:"event_id"`
	Type       string            `json:"type"`
	CreatedAt  string            `json:"created_at"`
	Data       SquareWebhookData `json:"data"`
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Subscription *subscriptions.SquareSubscription `json:"subscription,omitempty"`
	Invoice      *SquareInvoice                    `json:"invoice,omitempty"`
}

// SquareInvoice carries the fields needed to find the invoiced subscription.
type SquareInvoice struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
}
