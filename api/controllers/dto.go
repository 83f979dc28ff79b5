package controllers

import (
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

type trialResponse struct {
	ID          string            `json:"id"`
	Platform    string            `json:"platform"`
	Status      enums.TrialStatus `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	EndsAt      time.Time         `json:"endsAt"`
	UsageCount  int               `json:"usageCount"`
	UsageLimit  *int              `json:"usageLimit,omitempty"`
	ConvertedAt *time.Time        `json:"convertedAt,omitempty"`
}

func newTrialResponse(t *models.Trial) trialResponse {
	if t == nil {
		return trialResponse{}
	}
	return trialResponse{
		ID:          t.ID.String(),
		Platform:    t.Platform,
		Status:      t.Status,
		StartedAt:   t.StartedAt,
		EndsAt:      t.EndsAt,
		UsageCount:  t.UsageCount,
		UsageLimit:  t.UsageLimit,
		ConvertedAt: t.ConvertedAt,
	}
}

type churnResponse struct {
	Platform          string               `json:"platform"`
	Score             int                  `json:"score"`
	Level             enums.ChurnRiskLevel `json:"level"`
	EngagementScore   int                  `json:"engagementScore"`
	DaysSinceActivity int                  `json:"daysSinceActivity"`
	ActivityRate      float64              `json:"activityRate"`
	DaysRemaining     int                  `json:"daysRemaining"`
	TotalActions      int                  `json:"totalActions"`
	CalculatedAt      time.Time            `json:"calculatedAt"`
}

func newChurnResponse(s *models.ChurnRiskScore) churnResponse {
	if s == nil {
		return churnResponse{}
	}
	return churnResponse{
		Platform:          s.Platform,
		Score:             s.Score,
		Level:             s.Level,
		EngagementScore:   s.EngagementScore,
		DaysSinceActivity: s.DaysSinceActivity,
		ActivityRate:      s.ActivityRate,
		DaysRemaining:     s.DaysRemaining,
		TotalActions:      s.TotalActions,
		CalculatedAt:      s.CalculatedAt,
	}
}

type assignmentResponse struct {
	TestID      string     `json:"testId"`
	Variant     string     `json:"variant"`
	AssignedAt  time.Time  `json:"assignedAt"`
	Converted   bool       `json:"converted"`
	ConvertedAt *time.Time `json:"convertedAt,omitempty"`
}

func newAssignmentResponse(a *models.ExperimentAssignment) assignmentResponse {
	if a == nil {
		return assignmentResponse{}
	}
	return assignmentResponse{
		TestID:      a.TestID,
		Variant:     a.Variant,
		AssignedAt:  a.AssignedAt,
		Converted:   a.Converted,
		ConvertedAt: a.ConvertedAt,
	}
}

type subscriptionResponse struct {
	Platform          string                   `json:"platform"`
	Status            enums.SubscriptionStatus `json:"status"`
	Plan              string                   `json:"plan,omitempty"`
	CurrentPeriodEnd  time.Time                `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool                     `json:"cancelAtPeriodEnd"`
	CanceledAt        *time.Time               `json:"canceledAt,omitempty"`
}

func newSubscriptionResponse(s *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Platform:          s.Platform,
		Status:            s.Status,
		Plan:              s.SelectedPlan,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CanceledAt:        s.CanceledAt,
	}
}

type billingEventResponse struct {
	ID              string                    `json:"id"`
	ProviderEventID string                    `json:"providerEventId"`
	Kind            enums.BillingEventKind    `json:"kind"`
	Status          enums.SubscriptionStatus  `json:"status,omitempty"`
	Outcome         enums.BillingEventOutcome `json:"outcome"`
	Detail          *string                   `json:"detail,omitempty"`
	OccurredAt      time.Time                 `json:"occurredAt"`
	ProcessedAt     time.Time                 `json:"processedAt"`
}

type retentionDecisionResponse struct {
	ID         string                      `json:"id"`
	Kind       enums.RetentionDecisionKind `json:"kind"`
	DedupeKey  string                      `json:"dedupeKey"`
	Urgency    enums.Urgency               `json:"urgency"`
	Reason     string                      `json:"reason"`
	ChurnScore *int                        `json:"churnScore,omitempty"`
	DecidedAt  time.Time                   `json:"decidedAt"`
}

type pageResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
