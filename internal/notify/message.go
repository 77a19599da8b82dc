package notify

import (
	"fmt"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04"

// Subject returns a one-line headline for the notification.
func Subject(n Notification) string {
	title := ""
	if n.Task != nil {
		title = n.Task.Title
	}
	switch n.Kind {
	case KindCreated:
		return "New Task Created: " + title
	case KindCompleted:
		return "✅ Task Completed: " + title
	case KindReminder:
		return fmt.Sprintf("⏰ Reminder: %s starts in %s", title, n.ReminderType.Label())
	}
	return title
}

// Body renders the message text with times shown in loc.
func Body(n Notification, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(Subject(n))
	if n.Task == nil {
		return b.String()
	}
	t := n.Task

	if t.Description != "" {
		b.WriteString("\n")
		b.WriteString(t.Description)
	}
	if t.TaskDate != nil {
		fmt.Fprintf(&b, "\n📅 %s", t.TaskDate)
		if t.StartTime != nil && t.EndTime != nil {
			fmt.Fprintf(&b, " %02d:%02d-%02d:%02d", t.StartTime.Hour, t.StartTime.Minute, t.EndTime.Hour, t.EndTime.Minute)
		}
	}
	if t.Deadline != nil {
		fmt.Fprintf(&b, "\n⏳ Deadline: %s", t.Deadline.In(loc).Format(timeLayout))
	}
	fmt.Fprintf(&b, "\nPriority: %s, category: %s", t.Priority, t.Category)
	if n.Kind == KindReminder && !n.ScheduledFor.IsZero() {
		fmt.Fprintf(&b, "\nScheduled for %s", n.ScheduledFor.In(loc).Format(timeLayout))
	}
	return b.String()
}
