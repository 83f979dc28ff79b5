package enums

// AccessSource identifies which record produced an access decision.
type AccessSource string

const (
	AccessSourceTrial        AccessSource = "trial"
	AccessSourceSubscription AccessSource = "subscription"
	AccessSourceNone         AccessSource = "none"
)

var validAccessSources = newDomain[AccessSource]("access source",
	AccessSourceTrial,
	AccessSourceSubscription,
	AccessSourceNone,
)

// String implements fmt.Stringer.
func (s AccessSource) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s AccessSource) IsValid() bool {
	return validAccessSources.has(s)
}

// ParseAccessSource converts raw input into an AccessSource.
func ParseAccessSource(value string) (AccessSource, error) {
	return validAccessSources.parse(value)
}

// Access decision reasons. Denials for a non-active subscription use
// SubscriptionDenialReason.
const (
	AccessReasonSubscriptionActive  = "subscription_active"
	AccessReasonTrialActive         = "trial_active"
	AccessReasonNoRecord            = "no_record"
	AccessReasonTrialExpired        = "trial_expired"
	AccessReasonTrialUsageExhausted = "trial_usage_exhausted"
	AccessReasonSubscriptionExpired = "subscription_expired"
	AccessReasonIndeterminate       = "indeterminate"
)

// SubscriptionDenialReason renders the denial reason for a subscription status.
func SubscriptionDenialReason(status SubscriptionStatus) string {
	return "subscription_" + string(status)
}
