package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExperimentAssignment pins a user's variant for a test. Rows are never reassigned.
type ExperimentAssignment struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TestID      string     `gorm:"column:test_id;not null;uniqueIndex:ux_experiment_assignments_test_user,priority:1"`
	UserID      string     `gorm:"column:user_id;not null;uniqueIndex:ux_experiment_assignments_test_user,priority:2"`
	Variant     string     `gorm:"column:variant;not null"`
	AssignedAt  time.Time  `gorm:"column:assigned_at;not null"`
	Converted   bool       `gorm:"column:converted;not null;default:false"`
	ConvertedAt *time.Time `gorm:"column:converted_at"`
}

func (a *ExperimentAssignment) BeforeCreate(*gorm.DB) error { return assignID(&a.ID) }
