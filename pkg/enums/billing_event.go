package enums

// BillingEventKind enumerates provider lifecycle events the reconciler accepts.
type BillingEventKind string

const (
	BillingEventCheckoutCompleted    BillingEventKind = "checkout_completed"
	BillingEventSubscriptionUpserted BillingEventKind = "subscription_upserted"
	BillingEventSubscriptionDeleted  BillingEventKind = "subscription_deleted"
	BillingEventPaymentSucceeded     BillingEventKind = "payment_succeeded"
	BillingEventPaymentFailed        BillingEventKind = "payment_failed"
)

var validBillingEventKinds = newDomain[BillingEventKind]("billing event kind",
	BillingEventCheckoutCompleted,
	BillingEventSubscriptionUpserted,
	BillingEventSubscriptionDeleted,
	BillingEventPaymentSucceeded,
	BillingEventPaymentFailed,
)

// String implements fmt.Stringer.
func (k BillingEventKind) String() string {
	return string(k)
}

// IsValid reports whether the value is known.
func (k BillingEventKind) IsValid() bool {
	return validBillingEventKinds.has(k)
}

// ParseBillingEventKind converts raw input into a BillingEventKind.
func ParseBillingEventKind(value string) (BillingEventKind, error) {
	return validBillingEventKinds.parse(value)
}

// BillingEventOutcome records what the reconciler did with an event.
type BillingEventOutcome string

const (
	BillingEventOutcomeApplied  BillingEventOutcome = "applied"
	BillingEventOutcomeStale    BillingEventOutcome = "stale"
	BillingEventOutcomeRejected BillingEventOutcome = "rejected"
)

var validBillingEventOutcomes = newDomain[BillingEventOutcome]("billing event outcome",
	BillingEventOutcomeApplied,
	BillingEventOutcomeStale,
	BillingEventOutcomeRejected,
)

// IsValid reports whether the value is known.
func (o BillingEventOutcome) IsValid() bool {
	return validBillingEventOutcomes.has(o)
}
