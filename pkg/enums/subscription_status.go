package enums

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

var validSubscriptionStatuses = newDomain[SubscriptionStatus]("subscription status",
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusUnpaid,
	SubscriptionStatusCanceled,
)

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	return validSubscriptionStatuses.has(s)
}

// GrantsAccess reports whether the status entitles the subscriber to the platform.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Delinquent reports whether the status represents a billing failure.
func (s SubscriptionStatus) Delinquent() bool {
	return s == SubscriptionStatusPastDue || s == SubscriptionStatusUnpaid
}

// CanTransitionTo reports whether moving from s to next is legal for the same
// provider subscription. canceled is terminal and only trialing may stay or
// become trialing; a new billing reference starts over.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	switch {
	case !s.IsValid() || !next.IsValid():
		return false
	case s == SubscriptionStatusCanceled:
		return next == SubscriptionStatusCanceled
	case next == SubscriptionStatusTrialing:
		return s == SubscriptionStatusTrialing
	default:
		return true
	}
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	return validSubscriptionStatuses.parse(value)
}
