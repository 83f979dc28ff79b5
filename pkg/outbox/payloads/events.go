// Package payloads defines the JSON bodies carried inside outbox envelopes.
// Consumers outside this service depend on these shapes; add fields, never
// rename them.
package payloads

import "time"

// TrialActivatedEvent is emitted when a trial is granted.
type TrialActivatedEvent struct {
	TrialID   string    `json:"trialId" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	Platform  string    `json:"platform" validate:"required"`
	StartedAt time.Time `json:"startedAt" validate:"required"`
	EndsAt    time.Time `json:"endsAt" validate:"required"`
}

// TrialConvertedEvent is emitted when a paid subscription converts a trial.
type TrialConvertedEvent struct {
	TrialID        string    `json:"trialId" validate:"required"`
	UserID         string    `json:"userId" validate:"required"`
	Platform       string    `json:"platform" validate:"required"`
	SubscriptionID string    `json:"subscriptionId" validate:"required"`
	ConvertedAt    time.Time `json:"convertedAt" validate:"required"`
}

// SubscriptionStatusChangedEvent is emitted when a reconciled event changes a subscription status.
type SubscriptionStatusChangedEvent struct {
	SubscriptionID   string    `json:"subscriptionId" validate:"required"`
	UserID           string    `json:"userId" validate:"required"`
	Platform         string    `json:"platform" validate:"required"`
	BillingRef       string    `json:"billingRef" validate:"required"`
	PreviousStatus   string    `json:"previousStatus,omitempty"`
	Status           string    `json:"status" validate:"required"`
	CurrentPeriodEnd time.Time `json:"currentPeriodEnd"`
	AccessActive     bool      `json:"accessActive"`
}

// RetentionDecisionRecordedEvent is the notification dispatcher's input.
type RetentionDecisionRecordedEvent struct {
	DecisionID string    `json:"decisionId" validate:"required"`
	UserID     string    `json:"userId" validate:"required"`
	Platform   string    `json:"platform" validate:"required"`
	Kind       string    `json:"kind" validate:"required"`
	Urgency    string    `json:"urgency" validate:"required"`
	Reason     string    `json:"reason"`
	DedupeKey  string    `json:"dedupeKey" validate:"required"`
	ChurnScore *int      `json:"churnScore,omitempty"`
	DecidedAt  time.Time `json:"decidedAt" validate:"required"`
}
