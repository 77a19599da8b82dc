package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"task-planner/internal/model"
)

// ReminderRepository stores per-task reminder rows.
type ReminderRepository struct {
	db *gorm.DB
}

func NewReminderRepository(db *gorm.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// ReplaceUnsent drops every unsent reminder of the task and inserts the given
// ones in the same transaction. Sent rows are history and stay untouched.
// The swap only happens while the task is still open and at version; it
// reports false and leaves the rows alone when the task moved on.
func (r *ReminderRepository) ReplaceUnsent(ctx context.Context, taskID string, version uint, reminders []model.TaskReminder) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		if err := tx.Model(&model.Task{}).
			Where("id = ? AND version = ? AND completed = ?", taskID, version, false).
			Count(&current).Error; err != nil {
			return fmt.Errorf("check task version: %w", err)
		}
		if current == 0 {
			return nil
		}

		if err := tx.Where("task_id = ? AND sent_at IS NULL", taskID).
			Delete(&model.TaskReminder{}).Error; err != nil {
			return fmt.Errorf("delete unsent reminders: %w", err)
		}
		applied = true
		if len(reminders) == 0 {
			return nil
		}
		for i := range reminders {
			if reminders[i].ID == "" {
				reminders[i].ID = uuid.NewString()
			}
			reminders[i].TaskID = taskID
			reminders[i].ScheduledFor = utc(reminders[i].ScheduledFor)
			if !reminders[i].CreatedAt.IsZero() {
				reminders[i].CreatedAt = utc(reminders[i].CreatedAt)
			}
		}
		if err := tx.Create(&reminders).Error; err != nil {
			return fmt.Errorf("insert reminders: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// DeleteUnsent removes pending reminders of a task and reports how many.
func (r *ReminderRepository) DeleteUnsent(ctx context.Context, taskID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("task_id = ? AND sent_at IS NULL", taskID).Delete(&model.TaskReminder{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete unsent reminders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListDue returns unsent reminders scheduled at or before now for open tasks,
// earliest first. A non-nil since bounds the lookback window.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time, since *time.Time) ([]model.TaskReminder, error) {
	query := r.db.WithContext(ctx).
		Select("task_reminders.*").
		Joins("JOIN tasks ON tasks.id = task_reminders.task_id").
		Where("task_reminders.sent_at IS NULL").
		Where("task_reminders.scheduled_for <= ?", utc(now)).
		Where("tasks.completed = ?", false)
	if since != nil {
		query = query.Where("task_reminders.scheduled_for >= ?", utc(*since))
	}

	var reminders []model.TaskReminder
	err := query.Preload("Task").Preload("Task.User").
		Order("task_reminders.scheduled_for ASC, task_reminders.id ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return reminders, nil
}

// MarkSent stamps sent_at unless another dispatcher already did, and records
// the latest delivery on the task row. It reports whether this call stamped
// the reminder.
func (r *ReminderRepository) MarkSent(ctx context.Context, reminderID string, sentAt time.Time) (bool, error) {
	stamped := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.TaskReminder{}).
			Where("id = ? AND sent_at IS NULL", reminderID).
			Update("sent_at", utc(sentAt))
		if res.Error != nil {
			return fmt.Errorf("mark reminder sent: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		stamped = true

		var reminder model.TaskReminder
		if err := tx.Select("task_id").Where("id = ?", reminderID).First(&reminder).Error; err != nil {
			return fmt.Errorf("load reminder: %w", err)
		}
		if err := tx.Model(&model.Task{}).Where("id = ?", reminder.TaskID).
			UpdateColumns(map[string]interface{}{
				"reminder_notified":    true,
				"reminder_notified_at": utc(sentAt),
			}).Error; err != nil {
			return fmt.Errorf("record reminder on task: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return stamped, nil
}

func (r *ReminderRepository) ListForTask(ctx context.Context, taskID string) ([]model.TaskReminder, error) {
	var reminders []model.TaskReminder
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("scheduled_for ASC").
		Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return reminders, nil
}
