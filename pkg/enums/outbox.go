package enums

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateTrial             OutboxAggregateType = "trial"
	AggregateSubscription      OutboxAggregateType = "subscription"
	AggregateRetentionDecision OutboxAggregateType = "retention_decision"
)

var validAggregateTypes = newDomain[OutboxAggregateType]("aggregate type",
	AggregateTrial,
	AggregateSubscription,
	AggregateRetentionDecision,
)

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return validAggregateTypes.has(a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return validAggregateTypes.parse(value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventTrialActivated            OutboxEventType = "trial_activated"
	EventTrialConverted            OutboxEventType = "trial_converted"
	EventSubscriptionStatusChanged OutboxEventType = "subscription_status_changed"
	EventRetentionDecisionRecorded OutboxEventType = "retention_decision_recorded"
)

var validOutboxEventTypes = newDomain[OutboxEventType]("event type",
	EventTrialActivated,
	EventTrialConverted,
	EventSubscriptionStatusChanged,
	EventRetentionDecisionRecorded,
)

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	return validOutboxEventTypes.has(e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return validOutboxEventTypes.parse(value)
}

// OutboxDLQErrorReason records why an event was moved to the dead-letter table.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var validOutboxDLQErrorReasons = newDomain[OutboxDLQErrorReason]("dlq error reason",
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return validOutboxDLQErrorReasons.has(r)
}

// ParseOutboxDLQErrorReason converts raw input into an OutboxDLQErrorReason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return validOutboxDLQErrorReasons.parse(value)
}
