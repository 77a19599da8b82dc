package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"task-planner/internal/logger"
	"task-planner/internal/model"
	"task-planner/internal/repository"
	"task-planner/internal/timeslot"
)

// DefaultGracePeriod keeps reminders from firing right after a task is created.
const DefaultGracePeriod = time.Minute

// ReminderScheduler keeps a task's unsent reminders in line with its start time.
type ReminderScheduler struct {
	reminders *repository.ReminderRepository
	clock     clockwork.Clock
	loc       *time.Location
	grace     time.Duration
	log       *logger.Logger
}

func NewReminderScheduler(
	reminders *repository.ReminderRepository,
	clock clockwork.Clock,
	loc *time.Location,
	grace time.Duration,
	log *logger.Logger,
) *ReminderScheduler {
	return &ReminderScheduler{
		reminders: reminders,
		clock:     clock,
		loc:       loc,
		grace:     grace,
		log:       log.WithComponent("reminder_scheduler"),
	}
}

// Plan returns the reminders a task should have as of now. Offsets that
// already passed, or that fall inside the grace period after creation, are
// skipped.
func (s *ReminderScheduler) Plan(task *model.Task, now time.Time) []model.TaskReminder {
	if task.Completed {
		return nil
	}
	start, ok := timeslot.StartInstant(task, s.loc)
	if !ok {
		return nil
	}

	earliest := task.CreatedAt.Add(s.grace)
	var plan []model.TaskReminder
	for _, kind := range model.ReminderTypes {
		at := start.Add(-kind.Offset())
		switch {
		case !at.After(now):
			s.log.Debugw("reminder skipped, time passed", "task_id", task.ID, "reminder_type", kind, "scheduled_for", at)
			continue
		case at.Before(earliest):
			s.log.Debugw("reminder skipped, inside grace period", "task_id", task.ID, "reminder_type", kind, "scheduled_for", at)
			continue
		}
		plan = append(plan, model.TaskReminder{
			TaskID:       task.ID,
			ReminderType: kind,
			ScheduledFor: at.UTC(),
			CreatedAt:    now.UTC(),
		})
	}
	return plan
}

// Reschedule atomically swaps the task's unsent reminders for a fresh plan.
// Completed tasks lose their unsent reminders instead. A plan built from a
// stale copy of the task is dropped.
func (s *ReminderScheduler) Reschedule(ctx context.Context, task *model.Task) error {
	if task.Completed {
		_, err := s.Purge(ctx, task.ID)
		return err
	}
	plan := s.Plan(task, s.clock.Now())
	applied, err := s.reminders.ReplaceUnsent(ctx, task.ID, task.Version, plan)
	if err != nil {
		return fmt.Errorf("reschedule reminders: %w", err)
	}
	if !applied {
		s.log.Debugw("reminder plan dropped, task changed or completed meanwhile", "task_id", task.ID, "version", task.Version)
		return nil
	}
	s.log.Debugw("reminders rescheduled", "task_id", task.ID, "count", len(plan))
	return nil
}

// Purge deletes the task's unsent reminders. Calling it twice is harmless.
func (s *ReminderScheduler) Purge(ctx context.Context, taskID string) (int64, error) {
	n, err := s.reminders.DeleteUnsent(ctx, taskID)
	if err != nil {
		return 0, fmt.Errorf("purge reminders: %w", err)
	}
	return n, nil
}
