package service

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"task-planner/internal/config"
	"task-planner/internal/lock"
	"task-planner/internal/logger"
	"task-planner/internal/model"
	"task-planner/internal/notify"
	"task-planner/internal/repository"
)

var pkt = time.FixedZone("PKT", 5*60*60)

// 2026-10-20 10:00 in PKT.
var baseTime = time.Date(2026, 10, 20, 5, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []notify.Notification
	attempts map[notify.Kind]int
	failures map[notify.Kind]int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{attempts: map[notify.Kind]int{}, failures: map[notify.Kind]int{}}
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts[msg.Kind]++
	if n.failures[msg.Kind] > 0 {
		n.failures[msg.Kind]--
		return errors.New("transport unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

// failNext makes the next count deliveries of kind fail.
func (n *recordingNotifier) failNext(kind notify.Kind, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[kind] = count
}

func (n *recordingNotifier) count(kind notify.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, msg := range n.sent {
		if msg.Kind == kind {
			c++
		}
	}
	return c
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string) (lock.Release, bool, error) {
	return nil, false, nil
}

type testEnv struct {
	db         *gorm.DB
	clock      clockwork.FakeClock
	notifier   *recordingNotifier
	tasks      *repository.TaskRepository
	reminders  *repository.ReminderRepository
	scheduler  *ReminderScheduler
	service    *TaskService
	dispatcher *ReminderDispatcher
	completer  *AutoCompleter
	out        *bytes.Buffer
	user       *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.NewDB(config.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "planner.db")}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logger.NewNop()
	clock := clockwork.NewFakeClockAt(baseTime)
	notifier := newRecordingNotifier()
	out := &bytes.Buffer{}

	tasks := repository.NewTaskRepository(db)
	reminders := repository.NewReminderRepository(db)
	users := repository.NewUserRepository(db)

	user := &model.User{Email: "amna@example.com"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	scheduler := NewReminderScheduler(reminders, clock, pkt, DefaultGracePeriod, log)
	svc := NewTaskService(tasks, scheduler, notifier, clock, pkt, TaskServiceConfig{
		CompletionAttempts: 3,
		CompletionDelay:    time.Millisecond,
	}, log)
	dispatcher := NewReminderDispatcher(reminders, notifier, lock.Noop{}, clock, pkt, DispatcherConfig{
		SendAttempts: 3,
		SendDelay:    time.Millisecond,
	}, nil, out, log)
	completer := NewAutoCompleter(tasks, svc, lock.Noop{}, clock, pkt, nil, out, log)

	return &testEnv{
		db:         db,
		clock:      clock,
		notifier:   notifier,
		tasks:      tasks,
		reminders:  reminders,
		scheduler:  scheduler,
		service:    svc,
		dispatcher: dispatcher,
		completer:  completer,
		out:        out,
		user:       user,
	}
}

// slotInput builds a create input for the given PKT date offset and times.
func slotInput(t *testing.T, title string, dayOffset int, start, end string) CreateTaskInput {
	t.Helper()
	date := model.DateOf(baseTime.In(pkt)).AddDays(dayOffset)
	s, err := model.ParseTimeOfDay(start)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	e, err := model.ParseTimeOfDay(end)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	return CreateTaskInput{Title: title, TaskDate: &date, StartTime: &s, EndTime: &e}
}

func (e *testEnv) create(t *testing.T, in CreateTaskInput) *model.Task {
	t.Helper()
	res, err := e.service.Create(context.Background(), e.user.ID, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return res.Task
}

func (e *testEnv) unsent(t *testing.T, taskID string) map[model.ReminderType]time.Time {
	t.Helper()
	rows, err := e.reminders.ListForTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("ListForTask: %v", err)
	}
	out := map[model.ReminderType]time.Time{}
	for _, r := range rows {
		if r.SentAt == nil {
			out[r.ReminderType] = r.ScheduledFor
		}
	}
	return out
}
