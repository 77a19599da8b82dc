package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"

	"task-planner/internal/lock"
	"task-planner/internal/logger"
	"task-planner/internal/metrics"
	"task-planner/internal/model"
	"task-planner/internal/repository"
)

const (
	autoCompleteLockName = "auto-complete"
	localTimeLayout      = "2006-01-02 15:04:05"
)

// PollOptions controls the auto-completion loop.
type PollOptions struct {
	Interval     time.Duration
	CycleTimeout time.Duration
	DryRun       bool
}

type PollSummary struct {
	Due       int
	Completed int
	Failed    int
	DryRun    bool
	Skipped   bool
}

// AutoCompleter completes tasks whose time slot has ended.
type AutoCompleter struct {
	tasks   *repository.TaskRepository
	service *TaskService
	locker  lock.Locker
	clock   clockwork.Clock
	loc     *time.Location
	metrics *metrics.Metrics
	out     io.Writer
	log     *logger.Logger
}

func NewAutoCompleter(
	tasks *repository.TaskRepository,
	service *TaskService,
	locker lock.Locker,
	clock clockwork.Clock,
	loc *time.Location,
	m *metrics.Metrics,
	out io.Writer,
	log *logger.Logger,
) *AutoCompleter {
	if locker == nil {
		locker = lock.Noop{}
	}
	return &AutoCompleter{
		tasks:   tasks,
		service: service,
		locker:  locker,
		clock:   clock,
		loc:     loc,
		metrics: m,
		out:     out,
		log:     log.WithComponent("auto_complete"),
	}
}

// RunOnce completes every due task, or only reports them in dry-run mode.
func (a *AutoCompleter) RunOnce(ctx context.Context, dryRun bool) (PollSummary, error) {
	summary := PollSummary{DryRun: dryRun}
	now := a.clock.Now()
	defer func() { a.metrics.ObserveCycle("auto_complete", now, a.clock.Now()) }()

	if !dryRun {
		release, ok, err := a.locker.TryLock(ctx, autoCompleteLockName)
		if err != nil {
			return summary, fmt.Errorf("lock auto-complete: %w", err)
		}
		if !ok {
			fmt.Fprintln(a.out, "Another auto-complete worker is running, skipping this cycle")
			a.metrics.CycleSkipped("auto_complete")
			summary.Skipped = true
			return summary, nil
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				a.log.Warnw("release auto-complete lock", "error", err)
			}
		}()
	}

	local := now.In(a.loc)
	due, err := a.tasks.ListDue(ctx, now, model.DateOf(local), model.TimeOfDayOf(local))
	if err != nil {
		return summary, err
	}
	summary.Due = len(due)
	fmt.Fprintf(a.out, "[%s] Due tasks found: %d\n", local.Format(localTimeLayout), len(due))

	if len(due) == 0 {
		if err := a.printNextTask(ctx, now); err != nil {
			a.log.Warnw("look up next task", "error", err)
		}
		return summary, nil
	}

	for i := range due {
		task := &due[i]
		if dryRun {
			fmt.Fprintf(a.out, "[DRY-RUN] Would auto-complete Task(id=%s, title='%s', user='%s')\n", task.ID, task.Title, ownerLabel(task))
			summary.Completed++
			continue
		}

		completed, err := a.service.CompleteDue(ctx, task)
		if err != nil {
			summary.Failed++
			a.log.Errorw("auto-complete task", "task_id", task.ID, "error", err)
			fmt.Fprintf(a.out, "FAILED: Task(id=%s, title='%s'): %v\n", task.ID, task.Title, err)
			continue
		}
		if !completed {
			fmt.Fprintf(a.out, "SKIPPED: Task(id=%s, title='%s') changed since it was selected\n", task.ID, task.Title)
			continue
		}
		summary.Completed++
		a.metrics.TaskAutoCompleted()
		fmt.Fprintf(a.out, "AUTO-COMPLETED: Task(id=%s, title='%s', user='%s', end_at_local=%s)\n",
			task.ID, task.Title, ownerLabel(task), a.endLabel(task))
	}
	a.printSummary(summary)
	return summary, nil
}

func (a *AutoCompleter) printSummary(s PollSummary) {
	if s.DryRun {
		fmt.Fprintf(a.out, "Would complete: %d\n", s.Completed)
		return
	}
	fmt.Fprintf(a.out, "Completed: %d / Failed: %d\n", s.Completed, s.Failed)
}

// Run polls every opts.Interval until ctx is cancelled.
func (a *AutoCompleter) Run(ctx context.Context, opts PollOptions) error {
	fmt.Fprintln(a.out, "Auto-complete worker started")
	fmt.Fprintf(a.out, "Polling interval: %ds\n", int(opts.Interval.Seconds()))
	if opts.DryRun {
		fmt.Fprintln(a.out, "DRY RUN enabled: DB will not be updated")
	}

	scheduler := NewSchedulerService(a.loc, a.log)
	err := scheduler.RunEvery(ctx, autoCompleteLockName, opts.Interval, opts.CycleTimeout, func(cycleCtx context.Context) error {
		_, err := a.RunOnce(cycleCtx, opts.DryRun)
		return err
	})
	fmt.Fprintln(a.out, "Auto-complete worker stopped")
	return err
}

func (a *AutoCompleter) printNextTask(ctx context.Context, now time.Time) error {
	next, err := a.tasks.NextByDeadline(ctx, now)
	if err != nil {
		return err
	}
	if next != nil {
		end := next.Deadline.In(a.loc)
		fmt.Fprintf(a.out, "   Next task (by deadline): id=%s, title='%s', ends_at_local=%s (in ~%d min)\n",
			next.ID, next.Title, end.Format(localTimeLayout), minutesUntil(now, *next.Deadline))
		return nil
	}

	next, err = a.tasks.NextBySlot(ctx)
	if err != nil {
		return err
	}
	if next == nil {
		fmt.Fprintln(a.out, "   No upcoming tasks found")
		return nil
	}
	end := next.TaskDate.At(*next.EndTime, a.loc)
	fmt.Fprintf(a.out, "   Next task (by slot): id=%s, title='%s', ends_at_local=%s (in ~%d min)\n",
		next.ID, next.Title, end.Format(localTimeLayout), minutesUntil(now, end))
	return nil
}

func (a *AutoCompleter) endLabel(task *model.Task) string {
	if task.Deadline != nil {
		return task.Deadline.In(a.loc).Format(localTimeLayout)
	}
	if task.EndTime != nil {
		return task.EndTime.String()
	}
	return "-"
}

func minutesUntil(now, t time.Time) int {
	return int(t.Sub(now) / time.Minute)
}
