package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyProcessed is returned when finalizing a record twice.
var ErrAlreadyProcessed = errors.New("schedule record is already processed")

// ScheduleRecord is the persisted intent to act on a message at DueAt.
type ScheduleRecord struct {
	ID          uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Owner       string     `json:"owner" gorm:"type:varchar(255);not null;index:idx_schedule_pair,priority:1"`
	MessageRef  string     `json:"message_ref" gorm:"type:varchar(32);not null;index:idx_schedule_pair,priority:2"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime:false"`
	DueAt       time.Time  `json:"due_at" gorm:"not null;index:idx_schedule_due,priority:2"`
	Options     OptionSet  `json:"options" gorm:"type:varchar(255);not null"`
	Processed   bool       `json:"processed" gorm:"not null;default:false;index:idx_schedule_pair,priority:3;index:idx_schedule_due,priority:1"`
	ProcessedAt *time.Time `json:"processed_at"`
	Status      Status     `json:"status" gorm:"type:varchar(32)"`
}

// TableName specifies the table name for ScheduleRecord
func (ScheduleRecord) TableName() string {
	return "schedule_records"
}

// NewScheduleRecord returns an unprocessed record created at now.
func NewScheduleRecord(owner, messageRef string, now, dueAt time.Time, opts OptionSet) *ScheduleRecord {
	return &ScheduleRecord{
		Owner:      owner,
		MessageRef: messageRef,
		CreatedAt:  now,
		DueAt:      dueAt,
		Options:    NewOptionSet(opts...),
	}
}

// Finalize moves the record to its terminal state. It can only happen once.
func (r *ScheduleRecord) Finalize(status Status, at time.Time) error {
	if r.Processed {
		return fmt.Errorf("record %d: %w", r.ID, ErrAlreadyProcessed)
	}
	if !status.IsTerminal() {
		return fmt.Errorf("record %d: %q is not a terminal status", r.ID, status)
	}
	processedAt := at
	r.Processed = true
	r.ProcessedAt = &processedAt
	r.Status = status
	return nil
}

// IsDue reports whether the record should be picked up by a run at asOf.
func (r *ScheduleRecord) IsDue(asOf time.Time) bool {
	return !r.Processed && !r.DueAt.After(asOf)
}
