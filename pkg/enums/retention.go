package enums

// ChurnRiskLevel buckets a churn score.
type ChurnRiskLevel string

const (
	ChurnRiskLow      ChurnRiskLevel = "low"
	ChurnRiskMedium   ChurnRiskLevel = "medium"
	ChurnRiskHigh     ChurnRiskLevel = "high"
	ChurnRiskCritical ChurnRiskLevel = "critical"
)

var validChurnRiskLevels = newDomain[ChurnRiskLevel]("churn risk level",
	ChurnRiskLow,
	ChurnRiskMedium,
	ChurnRiskHigh,
	ChurnRiskCritical,
)

// IsValid reports whether the value is known.
func (l ChurnRiskLevel) IsValid() bool {
	return validChurnRiskLevels.has(l)
}

// NeedsIntervention reports whether the level warrants retention outreach.
func (l ChurnRiskLevel) NeedsIntervention() bool {
	return l == ChurnRiskHigh || l == ChurnRiskCritical
}

// ParseChurnRiskLevel converts raw input into a ChurnRiskLevel.
func ParseChurnRiskLevel(value string) (ChurnRiskLevel, error) {
	return validChurnRiskLevels.parse(value)
}

// RetentionDecisionKind distinguishes reminder and intervention outreach.
type RetentionDecisionKind string

const (
	RetentionDecisionReminder     RetentionDecisionKind = "reminder"
	RetentionDecisionIntervention RetentionDecisionKind = "intervention"
)

// IsValid reports whether the value is known.
func (k RetentionDecisionKind) IsValid() bool {
	return k == RetentionDecisionReminder || k == RetentionDecisionIntervention
}

// Urgency tells the notification dispatcher how quickly to act.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

var validUrgencies = newDomain[Urgency]("urgency", UrgencyLow, UrgencyMedium, UrgencyHigh)

// IsValid reports whether the value is known.
func (u Urgency) IsValid() bool {
	return validUrgencies.has(u)
}
