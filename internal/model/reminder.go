package model

import "time"

// ReminderType names a fixed offset before a task starts.
type ReminderType string

const (
	ReminderDayBefore  ReminderType = "day_before"
	ReminderHourBefore ReminderType = "hour_before"
	ReminderMinutes15  ReminderType = "minutes_15"
)

// ReminderTypes lists every offset, farthest first.
var ReminderTypes = []ReminderType{ReminderDayBefore, ReminderHourBefore, ReminderMinutes15}

// Offset returns how long before the start the reminder fires.
func (r ReminderType) Offset() time.Duration {
	switch r {
	case ReminderDayBefore:
		return 24 * time.Hour
	case ReminderHourBefore:
		return time.Hour
	case ReminderMinutes15:
		return 15 * time.Minute
	}
	return 0
}

// Label is a human readable form of the offset.
func (r ReminderType) Label() string {
	switch r {
	case ReminderDayBefore:
		return "1 day"
	case ReminderHourBefore:
		return "1 hour"
	case ReminderMinutes15:
		return "15 minutes"
	}
	return string(r)
}

// TaskReminder is one scheduled notification for a task. At most one unsent
// row may exist per (task, reminder type).
type TaskReminder struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	TaskID       string       `gorm:"size:36;not null;index" json:"task_id"`
	Task         *Task        `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	ReminderType ReminderType `gorm:"type:varchar(20);not null" json:"reminder_type"`
	ScheduledFor time.Time    `gorm:"not null;index" json:"scheduled_for"`
	SentAt       *time.Time   `gorm:"index" json:"sent_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (TaskReminder) TableName() string {
	return "task_reminders"
}
