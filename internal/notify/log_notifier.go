package notify

import (
	"context"

	"task-planner/internal/logger"
)

// LogNotifier writes notifications to the log. It is the transport of last
// resort when no chat is configured for a user.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.WithComponent("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	fields := []interface{}{"kind", msg.Kind, "subject", Subject(msg)}
	if msg.Task != nil {
		fields = append(fields, "task_id", msg.Task.ID, "user_id", msg.Task.UserID)
	}
	if msg.Kind == KindReminder {
		fields = append(fields, "reminder_type", msg.ReminderType, "scheduled_for", msg.ScheduledFor)
	}
	n.log.Infow("notification", fields...)
	return nil
}
