package service

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"task-planner/internal/model"
	"task-planner/internal/repository"
)

// DeadlineReport lists open tasks whose deadline is coming up.
type DeadlineReport struct {
	tasks *repository.TaskRepository
	clock clockwork.Clock
	loc   *time.Location
}

func NewDeadlineReport(tasks *repository.TaskRepository, clock clockwork.Clock, loc *time.Location) *DeadlineReport {
	return &DeadlineReport{tasks: tasks, clock: clock, loc: loc}
}

// Upcoming returns open tasks due within the next window, soonest first.
// A zero userID covers every user.
func (r *DeadlineReport) Upcoming(ctx context.Context, userID uint, window time.Duration) ([]model.Task, time.Time, error) {
	now := r.clock.Now()
	tasks, err := r.tasks.ListUpcoming(ctx, userID, now, now.Add(window))
	if err != nil {
		return nil, now, err
	}
	model.StampOverdue(tasks, now)
	return tasks, now, nil
}

// Write prints the operator report for the upcoming command.
func (r *DeadlineReport) Write(w io.Writer, tasks []model.Task, now time.Time, hours int) {
	local := now.In(r.loc)
	until := local.Add(time.Duration(hours) * time.Hour)

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "🔔 CHECKING UPCOMING DEADLINE TASKS")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Current time: %s\n", local.Format(localTimeLayout))
	fmt.Fprintf(w, "Checking tasks with deadlines within %d hours\n", hours)
	fmt.Fprintf(w, "Deadline range: %s to %s\n", local.Format(localTimeLayout), until.Format(localTimeLayout))
	fmt.Fprintln(w, thinRule)

	if len(tasks) == 0 {
		fmt.Fprintf(w, "\n📭 No upcoming deadline tasks found (within %d hours)\n", hours)
		fmt.Fprintln(w, rule)
		return
	}

	fmt.Fprintf(w, "\n📋 Found %d upcoming deadline task(s):\n\n", len(tasks))
	for i := range tasks {
		task := &tasks[i]
		fmt.Fprintf(w, "  📌 Task: %s\n", task.Title)
		fmt.Fprintf(w, "     User: %s\n", ownerLabel(task))
		fmt.Fprintf(w, "     Deadline: %s\n", task.Deadline.In(r.loc).Format(localTimeLayout))
		fmt.Fprintf(w, "     Time until: %s\n", timeUntil(now, *task.Deadline))
		fmt.Fprintf(w, "     Priority: %s\n", task.Priority)
		fmt.Fprintf(w, "     Category: %s\n", task.Category)
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "✅ Summary:")
	fmt.Fprintf(w, "   Total upcoming tasks: %d\n", len(tasks))
	fmt.Fprintln(w, rule)
}

// FormatDigest renders tasks as a Telegram HTML message.
func (r *DeadlineReport) FormatDigest(tasks []model.Task, now time.Time) string {
	local := now.In(r.loc)

	var builder strings.Builder
	builder.WriteString("📋 <b>Upcoming deadlines</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", local.Format("02.01.2006")))
	if len(tasks) == 0 {
		builder.WriteString("— nothing due soon\n")
	}
	for _, task := range tasks {
		builder.WriteString(r.formatTask(task, local))
	}
	return strings.TrimSpace(builder.String())
}

func (r *DeadlineReport) formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	overdue := task.IsOverdue(now)
	icon := "🟢"
	switch {
	case task.Completed:
		icon = "✅"
	case overdue:
		icon = "⚠️"
	case task.Deadline != nil && task.Deadline.Sub(now) <= 2*time.Hour:
		icon = "⏳"
	}

	sb.WriteString(fmt.Sprintf("%s %s", icon, html.EscapeString(strings.TrimSpace(task.Title))))
	sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(string(task.Category))))

	if task.Deadline != nil {
		d := task.Deadline.In(r.loc)
		switch {
		case task.Completed:
			sb.WriteString(fmt.Sprintf("\n   ⏰ %s · done", d.Format("2006-01-02 15:04")))
		case overdue:
			sb.WriteString(fmt.Sprintf("\n   ⏰ %s · <b>overdue</b>", d.Format("2006-01-02 15:04")))
		default:
			sb.WriteString(fmt.Sprintf("\n   ⏰ %s · in %s", d.Format("2006-01-02 15:04"), timeUntil(now, d)))
		}
	}
	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(task.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}

func timeUntil(now, t time.Time) string {
	left := t.Sub(now)
	hours := int(left.Hours())
	minutes := int(left.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%d hour(s) and %d minute(s)", hours, minutes)
	}
	return fmt.Sprintf("%d minute(s)", minutes)
}
