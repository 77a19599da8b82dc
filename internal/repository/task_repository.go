package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"task-planner/internal/exceptions"
	"task-planner/internal/model"
)

// TaskFilter narrows List results. Nil fields do not filter.
type TaskFilter struct {
	Priority  *model.Priority
	Category  *model.Category
	Completed *bool
}

// TaskRepository handles CRUD for tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Version = 1
	task.Deadline = utcPtr(task.Deadline)
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Preload("User").First(&task, "id = ?", taskID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// FindForUser loads a task only if it belongs to userID.
func (r *TaskRepository) FindForUser(ctx context.Context, userID uint, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Preload("User").
		Where("user_id = ? AND id = ?", userID, taskID).
		First(&task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (r *TaskRepository) List(ctx context.Context, userID uint, filter TaskFilter) ([]model.Task, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}
	if filter.Category != nil {
		query = query.Where("category = ?", *filter.Category)
	}
	if filter.Completed != nil {
		query = query.Where("completed = ?", *filter.Completed)
	}

	var tasks []model.Task
	if err := query.Order("deadline IS NULL, deadline ASC, created_at DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Update writes every mutable field, conditional on the version the caller
// read. A concurrent writer makes it fail with ErrOptimisticLock.
func (r *TaskRepository) Update(ctx context.Context, task *model.Task) error {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND version = ?", task.ID, task.Version).
		Updates(map[string]interface{}{
			"title":                task.Title,
			"description":          task.Description,
			"priority":             task.Priority,
			"category":             task.Category,
			"task_date":            task.TaskDate,
			"start_time":           task.StartTime,
			"end_time":             task.EndTime,
			"duration":             task.Duration,
			"deadline":             utcPtr(task.Deadline),
			"completed":            task.Completed,
			"updated_at":           utc(task.UpdatedAt),
			"reminder_notified":    task.ReminderNotified,
			"reminder_notified_at": utcPtr(task.ReminderNotifiedAt),
			"version":              gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return exceptions.ErrOptimisticLock
	}
	task.Version++
	return nil
}

// CompleteIfPending flips completed to true only if the task is still open
// and still at the version the caller selected. It reports whether this call
// performed the transition; an edit since the selection leaves the task open.
func (r *TaskRepository) CompleteIfPending(ctx context.Context, taskID string, version uint, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND version = ? AND completed = ?", taskID, version, false).
		Updates(map[string]interface{}{
			"completed":  true,
			"updated_at": utc(now),
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete task: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *TaskRepository) MarkCreationNotified(ctx context.Context, taskID string) error {
	return r.setFlag(ctx, taskID, "creation_notified")
}

func (r *TaskRepository) MarkCompletionNotified(ctx context.Context, taskID string) error {
	return r.setFlag(ctx, taskID, "completion_notified")
}

func (r *TaskRepository) setFlag(ctx context.Context, taskID, column string) error {
	if err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ?", taskID).
		UpdateColumn(column, true).Error; err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	return nil
}

// ListDue returns open tasks whose slot has elapsed. today and nowLocal are
// the wall-clock date and time in the reference zone.
func (r *TaskRepository) ListDue(ctx context.Context, now time.Time, today model.Date, nowLocal model.TimeOfDay) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).Preload("User").
		Where("completed = ?", false).
		Where(
			r.db.Where("deadline IS NOT NULL AND deadline <= ?", utc(now)).
				Or("deadline IS NULL AND end_time IS NOT NULL AND task_date < ?", today.String()).
				Or("deadline IS NULL AND end_time IS NOT NULL AND task_date = ? AND end_time <= ?", today.String(), nowLocal.String()),
		).
		Order("deadline IS NULL, deadline ASC, task_date ASC, end_time ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	return tasks, nil
}

// NextByDeadline returns the open task with the nearest future deadline.
func (r *TaskRepository) NextByDeadline(ctx context.Context, now time.Time) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("completed = ? AND deadline IS NOT NULL AND deadline > ?", false, utc(now)).
		Order("deadline ASC").
		First(&task).Error
	if err != nil {
		return nil, optional(err)
	}
	return &task, nil
}

// NextBySlot returns the open deadline-less task with the earliest slot end.
func (r *TaskRepository) NextBySlot(ctx context.Context) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("completed = ? AND deadline IS NULL AND task_date IS NOT NULL AND end_time IS NOT NULL", false).
		Order("task_date ASC, end_time ASC").
		First(&task).Error
	if err != nil {
		return nil, optional(err)
	}
	return &task, nil
}

// ListUpcoming returns open tasks with a deadline in [from, to]. A zero
// userID lists tasks of every user.
func (r *TaskRepository) ListUpcoming(ctx context.Context, userID uint, from, to time.Time) ([]model.Task, error) {
	query := r.db.WithContext(ctx).Preload("User").
		Where("completed = ? AND deadline >= ? AND deadline <= ?", false, utc(from), utc(to))
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}

	var tasks []model.Task
	if err := query.Order("deadline ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list upcoming tasks: %w", err)
	}
	return tasks, nil
}

// Delete removes a task owned by userID. Reminders go with it.
func (r *TaskRepository) Delete(ctx context.Context, userID uint, taskID string) error {
	res := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, taskID).Delete(&model.Task{})
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return exceptions.ErrTaskNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return exceptions.ErrTaskNotFound
	}
	return fmt.Errorf("find task: %w", err)
}

// optional maps "no row" to a nil result.
func optional(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return fmt.Errorf("find task: %w", err)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}
