package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"task-planner/internal/exceptions"
	"task-planner/internal/logger"
	"task-planner/internal/model"
	"task-planner/internal/notify"
	"task-planner/internal/repository"
	"task-planner/internal/timeslot"
)

// CreateTaskInput represents data required to create a task. Deadline and
// Duration are the legacy fields for tasks without a time slot.
type CreateTaskInput struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	Priority    model.Priority   `json:"priority" validate:"omitempty,oneof=low medium high"`
	Category    model.Category   `json:"category" validate:"omitempty,oneof=study work health personal shopping other"`
	TaskDate    *model.Date      `json:"task_date"`
	StartTime   *model.TimeOfDay `json:"start_time"`
	EndTime     *model.TimeOfDay `json:"end_time"`
	Deadline    *time.Time       `json:"deadline"`
	Duration    *int             `json:"duration" validate:"omitempty,min=1"`
}

// UpdateTaskInput is a partial update. Nil fields keep their stored value;
// ClearSlot removes date and times before the other fields apply.
type UpdateTaskInput struct {
	Title       *string          `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=2000"`
	Priority    *model.Priority  `json:"priority" validate:"omitempty,oneof=low medium high"`
	Category    *model.Category  `json:"category" validate:"omitempty,oneof=study work health personal shopping other"`
	TaskDate    *model.Date      `json:"task_date"`
	StartTime   *model.TimeOfDay `json:"start_time"`
	EndTime     *model.TimeOfDay `json:"end_time"`
	ClearSlot   bool             `json:"clear_slot"`
	Deadline    *time.Time       `json:"deadline"`
	Duration    *int             `json:"duration" validate:"omitempty,min=1"`
	Completed   *bool            `json:"completed"`
}

// CreateResult carries the new task and whether the owner was told about it.
// A failed creation notice never fails the create.
type CreateResult struct {
	Task             *model.Task `json:"task"`
	CreationNotified bool        `json:"creation_notified"`
}

// TaskServiceConfig tunes retries. Zero values fall back to defaults.
type TaskServiceConfig struct {
	CompletionAttempts int
	CompletionDelay    time.Duration
	Contention         Contention
}

// TaskService owns the task lifecycle: slot validation, persistence and the
// side effects of completing or reopening a task.
type TaskService struct {
	tasks     *repository.TaskRepository
	scheduler *ReminderScheduler
	notifier  notify.Notifier
	retry     notify.Retry
	clock     clockwork.Clock
	loc       *time.Location
	validate  *validator.Validate
	cfg       TaskServiceConfig
	log       *logger.Logger
}

func NewTaskService(
	tasks *repository.TaskRepository,
	scheduler *ReminderScheduler,
	notifier notify.Notifier,
	clock clockwork.Clock,
	loc *time.Location,
	cfg TaskServiceConfig,
	log *logger.Logger,
) *TaskService {
	if cfg.CompletionAttempts < 1 {
		cfg.CompletionAttempts = 3
	}
	if cfg.CompletionDelay <= 0 {
		cfg.CompletionDelay = 2 * time.Second
	}
	if cfg.Contention.Attempts < 1 {
		cfg.Contention = DefaultContention
	}
	return &TaskService{
		tasks:     tasks,
		scheduler: scheduler,
		notifier:  notifier,
		retry:     notify.Retry{Attempts: cfg.CompletionAttempts, Delay: cfg.CompletionDelay},
		clock:     clock,
		loc:       loc,
		validate:  validator.New(),
		cfg:       cfg,
		log:       log.WithComponent("task_service"),
	}
}

func (s *TaskService) Create(ctx context.Context, userID uint, in CreateTaskInput) (*CreateResult, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return nil, exceptions.Validation("invalid task", err)
	}

	slot := timeslot.Slot{Date: in.TaskDate, Start: in.StartTime, End: in.EndTime}
	derived, err := timeslot.Derive(slot, s.loc)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := timeslot.ValidateStartsInFuture(slot, now, s.loc); err != nil {
		return nil, err
	}
	if derived.HasSlot && (in.Deadline != nil || in.Duration != nil) {
		return nil, exceptions.Validation("deadline and duration are derived from the time slot", nil)
	}

	stamp := now.UTC().Truncate(time.Second)
	task := &model.Task{
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Category:    in.Category,
		TaskDate:    in.TaskDate,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		CreatedAt:   stamp,
		UpdatedAt:   stamp,
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}
	if task.Category == "" {
		task.Category = model.CategoryOther
	}
	applyDerived(task, derived, in.Deadline, in.Duration)

	if err := s.cfg.Contention.Do(ctx, func() error {
		task.ID = ""
		return s.tasks.Create(ctx, task)
	}); err != nil {
		return nil, err
	}

	if err := s.reschedule(ctx, task); err != nil {
		s.log.Errorw("schedule reminders for new task", "task_id", task.ID, "error", err)
	}

	task.StampOverdue(now)
	result := &CreateResult{Task: task}
	if err := s.notifier.Notify(ctx, notify.Notification{Kind: notify.KindCreated, Task: task}); err != nil {
		s.log.Warnw("creation notification failed", "task_id", task.ID, "error", err)
		return result, nil
	}
	if err := s.tasks.MarkCreationNotified(ctx, task.ID); err != nil {
		s.log.Warnw("record creation notification", "task_id", task.ID, "error", err)
	}
	task.CreationNotified = true
	result.CreationNotified = true
	return result, nil
}

func (s *TaskService) Update(ctx context.Context, userID uint, taskID string, in UpdateTaskInput) (*model.Task, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, exceptions.Validation("invalid task update", err)
	}
	return s.mutate(ctx, userID, taskID, func(task *model.Task) error {
		return s.applyUpdate(task, in)
	})
}

// Toggle flips the completion state.
func (s *TaskService) Toggle(ctx context.Context, userID uint, taskID string) (*model.Task, error) {
	return s.mutate(ctx, userID, taskID, func(task *model.Task) error {
		task.Completed = !task.Completed
		return nil
	})
}

// CompleteDue completes a task whose slot has elapsed. It reports false when
// the task was completed or edited by someone else since it was selected.
func (s *TaskService) CompleteDue(ctx context.Context, task *model.Task) (bool, error) {
	var completed bool
	err := s.cfg.Contention.Do(ctx, func() error {
		var err error
		completed, err = s.tasks.CompleteIfPending(ctx, task.ID, task.Version, s.clock.Now())
		return err
	})
	if err != nil || !completed {
		return false, err
	}
	task.Completed = true
	task.Version++
	s.onCompleted(ctx, task)
	return true, nil
}

func (s *TaskService) Get(ctx context.Context, userID uint, taskID string) (*model.Task, error) {
	task, err := s.tasks.FindForUser(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	task.StampOverdue(s.clock.Now())
	return task, nil
}

func (s *TaskService) List(ctx context.Context, userID uint, filter repository.TaskFilter) ([]model.Task, error) {
	tasks, err := s.tasks.List(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	model.StampOverdue(tasks, s.clock.Now())
	return tasks, nil
}

// Delete removes a task. Its reminders are removed by the foreign key cascade.
func (s *TaskService) Delete(ctx context.Context, userID uint, taskID string) error {
	return s.cfg.Contention.Do(ctx, func() error {
		return s.tasks.Delete(ctx, userID, taskID)
	})
}

// mutate loads the task, applies change and writes it back under the
// optimistic version check, then runs the transition effects.
func (s *TaskService) mutate(ctx context.Context, userID uint, taskID string, change func(*model.Task) error) (*model.Task, error) {
	var before, task *model.Task
	err := s.cfg.Contention.Do(ctx, func() error {
		current, err := s.tasks.FindForUser(ctx, userID, taskID)
		if err != nil {
			return err
		}
		snapshot := *current
		if err := change(current); err != nil {
			return err
		}
		if !sameSchedule(&snapshot, current) {
			current.ReminderNotified, current.ReminderNotifiedAt = false, nil
		}
		current.UpdatedAt = s.clock.Now()
		if err := s.tasks.Update(ctx, current); err != nil {
			return err
		}
		before, task = &snapshot, current
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case !before.Completed && task.Completed:
		s.onCompleted(ctx, task)
	case before.Completed && !task.Completed:
		if err := s.reschedule(ctx, task); err != nil {
			s.log.Errorw("schedule reminders for reopened task", "task_id", task.ID, "error", err)
		}
	case !task.Completed && !sameSchedule(before, task):
		if err := s.reschedule(ctx, task); err != nil {
			s.log.Errorw("reschedule reminders", "task_id", task.ID, "error", err)
		}
	}
	task.StampOverdue(s.clock.Now())
	return task, nil
}

func (s *TaskService) applyUpdate(task *model.Task, in UpdateTaskInput) error {
	if in.Title != nil {
		task.Title = strings.TrimSpace(*in.Title)
		if task.Title == "" {
			return exceptions.Validation("title cannot be empty", nil)
		}
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Priority != nil {
		task.Priority = *in.Priority
	}
	if in.Category != nil {
		task.Category = *in.Category
	}
	if in.Completed != nil {
		task.Completed = *in.Completed
	}

	slotTouched := in.ClearSlot || in.TaskDate != nil || in.StartTime != nil || in.EndTime != nil
	if in.ClearSlot {
		task.TaskDate, task.StartTime, task.EndTime = nil, nil, nil
		task.Deadline, task.Duration = nil, nil
	}
	if in.TaskDate != nil {
		task.TaskDate = in.TaskDate
	}
	if in.StartTime != nil {
		task.StartTime = in.StartTime
	}
	if in.EndTime != nil {
		task.EndTime = in.EndTime
	}

	if !slotTouched && !task.HasSlot() {
		// Legacy task: deadline and duration are plain fields.
		if in.Deadline != nil {
			task.Deadline = in.Deadline
		}
		if in.Duration != nil {
			task.Duration = in.Duration
		}
		return nil
	}

	derived, err := timeslot.Derive(timeslot.SlotOf(task), s.loc)
	if err != nil {
		return err
	}
	if derived.HasSlot && (in.Deadline != nil || in.Duration != nil) {
		return exceptions.Validation("deadline and duration are derived from the time slot", nil)
	}
	applyDerived(task, derived, in.Deadline, in.Duration)
	return nil
}

// onCompleted drops pending reminders and tells the owner once.
func (s *TaskService) onCompleted(ctx context.Context, task *model.Task) {
	if _, err := s.scheduler.Purge(ctx, task.ID); err != nil {
		s.log.Errorw("purge reminders of completed task", "task_id", task.ID, "error", err)
	}
	if task.CompletionNotified {
		return
	}

	err := notify.SendWithRetry(ctx, s.notifier, notify.Notification{Kind: notify.KindCompleted, Task: task}, s.retry)
	if err != nil {
		s.log.Warnw("completion notification failed", "task_id", task.ID, "error", err)
		return
	}
	if err := s.tasks.MarkCompletionNotified(ctx, task.ID); err != nil {
		s.log.Warnw("record completion notification", "task_id", task.ID, "error", err)
	}
	task.CompletionNotified = true
}

func (s *TaskService) reschedule(ctx context.Context, task *model.Task) error {
	return s.cfg.Contention.Do(ctx, func() error {
		return s.scheduler.Reschedule(ctx, task)
	})
}

// applyDerived stores slot-derived values. Without a slot the legacy
// deadline and duration are kept as given.
func applyDerived(task *model.Task, derived timeslot.Derived, deadline *time.Time, duration *int) {
	if derived.HasSlot {
		minutes := derived.Duration
		task.Duration = &minutes
		task.Deadline = derived.Deadline
		return
	}
	if deadline != nil {
		task.Deadline = deadline
	}
	if duration != nil {
		task.Duration = duration
	}
}

func sameSchedule(a, b *model.Task) bool {
	return equalPtr(a.TaskDate, b.TaskDate) &&
		equalPtr(a.StartTime, b.StartTime) &&
		equalPtr(a.EndTime, b.EndTime) &&
		equalTime(a.Deadline, b.Deadline)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// IsNotFound reports whether err means the task does not exist for the user.
func IsNotFound(err error) bool {
	return errors.Is(err, exceptions.ErrTaskNotFound)
}

func ownerLabel(task *model.Task) string {
	if task.User == nil {
		return fmt.Sprintf("user #%d", task.UserID)
	}
	if task.User.Email != "" {
		return task.User.Email
	}
	return task.User.DisplayName()
}
