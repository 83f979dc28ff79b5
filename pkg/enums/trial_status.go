package enums

import "slices"

// TrialStatus tracks the lifecycle of a platform trial.
type TrialStatus string

const (
	TrialStatusActive    TrialStatus = "active"
	TrialStatusExpired   TrialStatus = "expired"
	TrialStatusConverted TrialStatus = "converted"
)

var validTrialStatuses = newDomain[TrialStatus]("trial status",
	TrialStatusActive,
	TrialStatusExpired,
	TrialStatusConverted,
)

// converted outranks expired: a conversion that lands after lazy expiry still wins.
var trialTransitions = map[TrialStatus][]TrialStatus{
	TrialStatusActive:    {TrialStatusExpired, TrialStatusConverted},
	TrialStatusExpired:   {TrialStatusConverted},
	TrialStatusConverted: {},
}

// String implements fmt.Stringer.
func (s TrialStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s TrialStatus) IsValid() bool {
	return validTrialStatuses.has(s)
}

// IsTerminal reports whether no further transition is allowed.
func (s TrialStatus) IsTerminal() bool {
	return len(trialTransitions[s]) == 0
}

// CanTransitionTo reports whether s may move to next.
func (s TrialStatus) CanTransitionTo(next TrialStatus) bool {
	return slices.Contains(trialTransitions[s], next)
}

// TrialSourcesFor returns the statuses that may legally move to target.
func TrialSourcesFor(target TrialStatus) []TrialStatus {
	sources := []TrialStatus{}
	for _, from := range validTrialStatuses.values {
		if from.CanTransitionTo(target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// ParseTrialStatus converts raw input into a TrialStatus.
func ParseTrialStatus(value string) (TrialStatus, error) {
	return validTrialStatuses.parse(value)
}
