// Package models holds the GORM row types of the entitlement store. Column
// names and Postgres enum types mirror the goose migrations.
package models

import "github.com/google/uuid"

// All lists every persisted model, in dependency-free order, for AutoMigrate.
func All() []any {
	return []any{
		&Trial{},
		&Subscription{},
		&AccessGrant{},
		&BillingEvent{},
		&ChurnRiskScore{},
		&ExperimentAssignment{},
		&UsageEvent{},
		&RetentionDecision{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

// assignID gives a new row a random id unless the caller chose one.
func assignID(id *uuid.UUID) error {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	return nil
}
