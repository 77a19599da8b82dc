package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"task-planner/internal/lock"
	"task-planner/internal/logger"
	"task-planner/internal/metrics"
	"task-planner/internal/model"
	"task-planner/internal/notify"
	"task-planner/internal/repository"
)

const (
	dispatchLockName = "dispatch-reminders"
	reportTimeLayout = "2006-01-02 15:04:05 -0700"
	rule             = "============================================================"
	thinRule         = "------------------------------------------------------------"
)

// DispatchOptions controls one dispatcher cycle. WindowMinutes <= 0 means
// every overdue reminder is eligible.
type DispatchOptions struct {
	WindowMinutes int
	DryRun        bool
}

type DispatchSummary struct {
	Due     int
	Sent    int
	Failed  int
	DryRun  bool
	Skipped bool
}

// DispatcherConfig tunes delivery. Zero values fall back to defaults.
type DispatcherConfig struct {
	SendAttempts int
	SendDelay    time.Duration
	CycleTimeout time.Duration
	Contention   Contention
}

// ReminderDispatcher sends reminders that came due and records them as sent.
type ReminderDispatcher struct {
	reminders *repository.ReminderRepository
	notifier  notify.Notifier
	locker    lock.Locker
	clock     clockwork.Clock
	loc       *time.Location
	cfg       DispatcherConfig
	metrics   *metrics.Metrics
	out       io.Writer
	log       *logger.Logger
}

func NewReminderDispatcher(
	reminders *repository.ReminderRepository,
	notifier notify.Notifier,
	locker lock.Locker,
	clock clockwork.Clock,
	loc *time.Location,
	cfg DispatcherConfig,
	m *metrics.Metrics,
	out io.Writer,
	log *logger.Logger,
) *ReminderDispatcher {
	if cfg.SendAttempts < 1 {
		cfg.SendAttempts = 3
	}
	if cfg.Contention.Attempts < 1 {
		cfg.Contention = DefaultContention
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	return &ReminderDispatcher{
		reminders: reminders,
		notifier:  notifier,
		locker:    locker,
		clock:     clock,
		loc:       loc,
		cfg:       cfg,
		metrics:   m,
		out:       out,
		log:       log.WithComponent("dispatcher"),
	}
}

// RunOnce performs a single dispatch cycle and prints its report.
func (d *ReminderDispatcher) RunOnce(ctx context.Context, opts DispatchOptions) (DispatchSummary, error) {
	summary := DispatchSummary{DryRun: opts.DryRun}
	started := d.clock.Now()
	defer func() { d.metrics.ObserveCycle("dispatcher", started, d.clock.Now()) }()

	if !opts.DryRun {
		release, ok, err := d.locker.TryLock(ctx, dispatchLockName)
		if err != nil {
			return summary, fmt.Errorf("lock dispatcher: %w", err)
		}
		if !ok {
			fmt.Fprintln(d.out, "Another dispatcher is running, skipping this cycle")
			d.metrics.CycleSkipped("dispatcher")
			summary.Skipped = true
			return summary, nil
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				d.log.Warnw("release dispatcher lock", "error", err)
			}
		}()
	}

	now := started
	var since *time.Time
	if opts.WindowMinutes > 0 {
		s := now.Add(-time.Duration(opts.WindowMinutes) * time.Minute)
		since = &s
	}

	d.printHeader(now, since, opts.DryRun)

	due, err := d.reminders.ListDue(ctx, now, since)
	if err != nil {
		return summary, err
	}
	summary.Due = len(due)
	if len(due) == 0 {
		fmt.Fprintln(d.out, "No due reminders")
		fmt.Fprintln(d.out, rule)
		return summary, nil
	}

	fmt.Fprintf(d.out, "Found %d due reminder(s)\n\n", len(due))
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		d.dispatch(ctx, &due[i], opts.DryRun, &summary)
		fmt.Fprintln(d.out)
	}

	d.printSummary(summary)
	return summary, ctx.Err()
}

// Run dispatches every interval until ctx is cancelled.
func (d *ReminderDispatcher) Run(ctx context.Context, every time.Duration, opts DispatchOptions) error {
	scheduler := NewSchedulerService(d.loc, d.log)
	return scheduler.RunEvery(ctx, dispatchLockName, every, d.cfg.CycleTimeout, func(cycleCtx context.Context) error {
		_, err := d.RunOnce(cycleCtx, opts)
		return err
	})
}

func (d *ReminderDispatcher) dispatch(ctx context.Context, reminder *model.TaskReminder, dryRun bool, summary *DispatchSummary) {
	task := reminder.Task
	fmt.Fprintf(d.out, "  Task: %s\n", task.Title)
	fmt.Fprintf(d.out, "     User: %s\n", ownerLabel(task))
	fmt.Fprintf(d.out, "     Reminder type: %s\n", reminder.ReminderType)
	fmt.Fprintf(d.out, "     Scheduled for: %s\n", reminder.ScheduledFor.In(d.loc).Format(reportTimeLayout))

	if dryRun {
		fmt.Fprintln(d.out, "     [DRY-RUN] Would send")
		return
	}

	log := d.log.WithFields("reminder_id", reminder.ID, "task_id", task.ID, "reminder_type", reminder.ReminderType)
	msg := notify.Notification{
		Kind:         notify.KindReminder,
		Task:         task,
		ReminderType: reminder.ReminderType,
		ScheduledFor: reminder.ScheduledFor,
	}
	retry := notify.Retry{Attempts: d.cfg.SendAttempts, Delay: d.cfg.SendDelay, Metrics: d.metrics}
	if err := notify.SendWithRetry(ctx, d.notifier, msg, retry); err != nil {
		summary.Failed++
		d.metrics.ReminderFailed()
		log.Warnw("reminder not sent", "error", err)
		fmt.Fprintf(d.out, "     Failed: %v\n", err)
		return
	}

	sentAt := d.clock.Now()
	var stamped bool
	err := d.cfg.Contention.Do(ctx, func() error {
		var err error
		stamped, err = d.reminders.MarkSent(ctx, reminder.ID, sentAt)
		return err
	})
	if err != nil {
		// Delivered but not recorded: the next cycle will send it again.
		summary.Failed++
		d.metrics.ReminderFailed()
		log.Errorw("reminder sent but not recorded", "error", err)
		fmt.Fprintf(d.out, "     Sent but not recorded: %v\n", err)
		return
	}
	if !stamped {
		log.Warnw("reminder was already recorded by another dispatcher")
	}

	summary.Sent++
	d.metrics.ReminderSent()
	log.Infow("reminder sent", "sent_at", sentAt)
	fmt.Fprintf(d.out, "     Sent at: %s\n", sentAt.In(d.loc).Format(reportTimeLayout))
}

func (d *ReminderDispatcher) printHeader(now time.Time, since *time.Time, dryRun bool) {
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, rule)
	title := "SENDING DUE TASK REMINDERS"
	if dryRun {
		title += " [DRY-RUN]"
	}
	fmt.Fprintln(d.out, title)
	fmt.Fprintln(d.out, rule)
	fmt.Fprintf(d.out, "Current time: %s\n", now.In(d.loc).Format(reportTimeLayout))
	if since == nil {
		fmt.Fprintln(d.out, "Window: unbounded (all overdue)")
	} else {
		fmt.Fprintf(d.out, "Window: %s to %s\n", since.In(d.loc).Format(reportTimeLayout), now.In(d.loc).Format(reportTimeLayout))
	}
	fmt.Fprintln(d.out, thinRule)
}

func (d *ReminderDispatcher) printSummary(s DispatchSummary) {
	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("Summary:\n")
	fmt.Fprintf(&b, "   Due reminders: %d\n", s.Due)
	if s.DryRun {
		b.WriteString("   Dry run: nothing sent\n")
	} else {
		fmt.Fprintf(&b, "   Sent: %d\n", s.Sent)
		fmt.Fprintf(&b, "   Failed: %d\n", s.Failed)
	}
	b.WriteString(rule + "\n")
	fmt.Fprint(d.out, b.String())
}
