package model

import "time"

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Category groups tasks by area of life.
type Category string

const (
	CategoryStudy    Category = "study"
	CategoryWork     Category = "work"
	CategoryHealth   Category = "health"
	CategoryPersonal Category = "personal"
	CategoryShopping Category = "shopping"
	CategoryOther    Category = "other"
)

// Task represents a single item in the planner.
type Task struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	UserID             uint       `gorm:"index;not null" json:"user_id"`
	User               *User      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Title              string     `gorm:"not null" json:"title"`
	Description        string     `json:"description"`
	Priority           Priority   `gorm:"type:varchar(10);not null;default:medium" json:"priority"`
	Category           Category   `gorm:"type:varchar(20);not null;default:other" json:"category"`
	TaskDate           *Date      `gorm:"index" json:"task_date,omitempty"`
	StartTime          *TimeOfDay `json:"start_time,omitempty"`
	EndTime            *TimeOfDay `json:"end_time,omitempty"`
	Duration           *int       `json:"duration,omitempty"` // minutes
	Deadline           *time.Time `gorm:"index" json:"deadline,omitempty"`
	Completed          bool       `gorm:"not null;default:false;index" json:"completed"`
	CreationNotified   bool       `gorm:"not null;default:false" json:"-"`
	CompletionNotified bool       `gorm:"not null;default:false" json:"-"`
	ReminderNotified   bool       `gorm:"not null;default:false" json:"reminder_notified"`
	ReminderNotifiedAt *time.Time `json:"reminder_notified_at,omitempty"`
	Version            uint       `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	// Overdue is computed on read, see StampOverdue.
	Overdue bool `gorm:"-" json:"overdue"`
}

// HasSlot reports whether both start and end times are set.
func (t Task) HasSlot() bool {
	return t.StartTime != nil && t.EndTime != nil
}

// IsOverdue reports whether the deadline has passed on an open task.
func (t Task) IsOverdue(now time.Time) bool {
	return !t.Completed && t.Deadline != nil && t.Deadline.Before(now)
}

// StampOverdue sets Overdue as of now.
func (t *Task) StampOverdue(now time.Time) {
	t.Overdue = t.IsOverdue(now)
}

// StampOverdue sets Overdue on every task as of now.
func StampOverdue(tasks []Task, now time.Time) {
	for i := range tasks {
		tasks[i].StampOverdue(now)
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func (c Category) Valid() bool {
	switch c {
	case CategoryStudy, CategoryWork, CategoryHealth, CategoryPersonal, CategoryShopping, CategoryOther:
		return true
	}
	return false
}
