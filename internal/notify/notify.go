// Package notify defines how the planner hands messages to a delivery
// channel. Transports live elsewhere and implement Notifier.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"task-planner/internal/metrics"
	"task-planner/internal/model"
)

// Kind of notification.
type Kind string

const (
	KindCreated   Kind = "created"
	KindCompleted Kind = "completed"
	KindReminder  Kind = "reminder"
)

// Notification is one message about a task. ReminderType and ScheduledFor
// are set only for KindReminder.
type Notification struct {
	Kind         Kind
	Task         *model.Task
	ReminderType model.ReminderType
	ScheduledFor time.Time
}

// Notifier delivers a notification to the task owner.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

var (
	// ErrSendFailed is returned once every attempt to deliver has failed.
	ErrSendFailed = errors.New("notification send failed")
	// ErrNoRecipient means the transport has no address for the owner.
	ErrNoRecipient = errors.New("no recipient for notification")
)

// Retry configures SendWithRetry.
type Retry struct {
	Attempts int
	Delay    time.Duration
	Metrics  *metrics.Metrics
}

// SendWithRetry calls n up to r.Attempts times with a fixed delay between
// attempts. The returned error wraps ErrSendFailed and the last cause.
func SendWithRetry(ctx context.Context, n Notifier, msg Notification, r Retry) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = n.Notify(ctx, msg)
		r.Metrics.NotificationAttempt(string(msg.Kind), lastErr)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || errors.Is(lastErr, ErrNoRecipient) {
			break
		}

		timer := time.NewTimer(r.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %w", ErrSendFailed, lastErr)
}

// Fallback sends through Primary and, when it has no recipient for the
// owner, through Secondary.
type Fallback struct {
	Primary   Notifier
	Secondary Notifier
}

func (f Fallback) Notify(ctx context.Context, n Notification) error {
	err := f.Primary.Notify(ctx, n)
	if errors.Is(err, ErrNoRecipient) && f.Secondary != nil {
		return f.Secondary.Notify(ctx, n)
	}
	return err
}
