package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"

	"task-planner/internal/config"
	"task-planner/internal/logger"
	"task-planner/internal/model"
	"task-planner/internal/notify"
	"task-planner/internal/repository"
	"task-planner/internal/service"
)

var pkt = time.FixedZone("PKT", 5*60*60)

// 2026-10-20 10:00 in PKT.
var now = time.Date(2026, 10, 20, 5, 0, 0, 0, time.UTC)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, sentMessage{chatID: msg.ChatID, text: msg.Text})
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

type botEnv struct {
	bot    *Bot
	sender *fakeSender
	users  *repository.UserRepository
	tasks  *service.TaskService
}

func newBotEnv(t *testing.T) *botEnv {
	t.Helper()
	db, err := repository.NewDB(config.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "bot.db")}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logger.NewNop()
	clock := clockwork.NewFakeClockAt(now)
	taskRepo := repository.NewTaskRepository(db)
	users := repository.NewUserRepository(db)
	scheduler := service.NewReminderScheduler(repository.NewReminderRepository(db), clock, pkt, service.DefaultGracePeriod, log)
	quiet := notify.NotifierFunc(func(context.Context, notify.Notification) error { return nil })
	tasks := service.NewTaskService(taskRepo, scheduler, quiet, clock, pkt, service.TaskServiceConfig{
		CompletionDelay: time.Millisecond,
	}, log)

	sender := &fakeSender{}
	b := newBot(sender, Options{
		Users:    users,
		Tasks:    tasks,
		Report:   service.NewDeadlineReport(taskRepo, clock, pkt),
		Clock:    clock,
		Location: pkt,
		Logger:   log,
	})
	return &botEnv{bot: b, sender: sender, users: users, tasks: tasks}
}

func command(text string) *tgbotapi.Message {
	name := strings.SplitN(text, " ", 2)[0]
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: 42, Type: "private"},
		From:     &tgbotapi.User{ID: 42, FirstName: "Bilal", UserName: "bilal"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func TestParseTaskLine(t *testing.T) {
	today := model.Date{Year: 2026, Month: time.October, Day: 20}

	in, err := parseTaskLine("Gym | tomorrow | 18:00-19:30", today)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.Title != "Gym" || in.TaskDate.String() != "2026-10-21" {
		t.Errorf("unexpected input %+v", in)
	}
	if in.StartTime.String() != "18:00:00" || in.EndTime.String() != "19:30:00" {
		t.Errorf("unexpected range %v-%v", in.StartTime, in.EndTime)
	}

	in, err = parseTaskLine("Call bank | 21:00-21:30", today)
	if err != nil {
		t.Fatalf("parse range only: %v", err)
	}
	if in.TaskDate == nil || *in.TaskDate != today {
		t.Errorf("range without date should use today, got %v", in.TaskDate)
	}

	in, err = parseTaskLine("Read a book", today)
	if err != nil {
		t.Fatalf("parse title only: %v", err)
	}
	if in.TaskDate != nil || in.StartTime != nil {
		t.Errorf("title only should leave the slot empty, got %+v", in)
	}

	for _, bad := range []string{"", " | 2026-10-21", "X | 2026/10/21", "X | today | 9-10", "a|b|c|d"} {
		if _, err := parseTaskLine(bad, today); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestNewTaskCommandCreatesTask(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	if err := env.bot.handleMessage(ctx, command("/newtask Gym | tomorrow | 18:00-19:00")); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if got := env.sender.last().text; !strings.Contains(got, "Gym") || !strings.Contains(got, "added") {
		t.Fatalf("unexpected reply %q", got)
	}

	user, err := env.users.FindByTelegramID(ctx, 42)
	if err != nil {
		t.Fatalf("user not registered: %v", err)
	}
	tasks, err := env.tasks.List(ctx, user.ID, repository.TaskFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Duration == nil || *tasks[0].Duration != 60 {
		t.Fatalf("expected one 60 minute task, got %+v", tasks)
	}
}

func TestNewTaskCommandReportsInvalidSlot(t *testing.T) {
	env := newBotEnv(t)

	if err := env.bot.handleMessage(context.Background(), command("/newtask Nap | today | 12:00-12:10")); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if got := env.sender.last().text; !strings.HasPrefix(got, "❌") {
		t.Errorf("expected an error reply, got %q", got)
	}
}

func TestNewTaskConversation(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	if err := env.bot.handleMessage(ctx, command("/newtask")); err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	reply := command("Groceries | today | 17:00-18:00")
	reply.Entities = nil
	if err := env.bot.handleMessage(ctx, reply); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := env.sender.last().text; !strings.Contains(got, "Groceries") {
		t.Errorf("unexpected reply %q", got)
	}
	if env.bot.getConversation(42) != nil {
		t.Error("conversation should be cleared")
	}
}

func TestToggleCallbackCompletesTask(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	user, err := env.users.UpsertFromTelegram(ctx, 42, "Bilal", "", "bilal")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	res, err := env.tasks.Create(ctx, user.ID, service.CreateTaskInput{Title: "Pay rent"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cb := &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
		Data:    cbTogglePrefix + res.Task.ID,
	}
	if err := env.bot.handleCallback(ctx, cb); err != nil {
		t.Fatalf("handleCallback: %v", err)
	}

	task, err := env.tasks.Get(ctx, user.ID, res.Task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !task.Completed {
		t.Error("task should be completed")
	}
	if got := env.sender.last().text; !strings.Contains(got, "no open tasks") {
		t.Errorf("expected refreshed empty list, got %q", got)
	}
}

func TestSendDailyDigest(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	user, err := env.users.UpsertFromTelegram(ctx, 42, "Bilal", "", "bilal")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := env.users.UpsertFromTelegram(ctx, 43, "Idle", "", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	today := model.DateOf(now.In(pkt))
	start, end := model.TimeOfDay{Hour: 18}, model.TimeOfDay{Hour: 19}
	if _, err := env.tasks.Create(ctx, user.ID, service.CreateTaskInput{
		Title: "Standup", TaskDate: &today, StartTime: &start, EndTime: &end,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := env.bot.SendDailyDigest(ctx); err != nil {
		t.Fatalf("SendDailyDigest: %v", err)
	}
	if len(env.sender.sent) != 1 {
		t.Fatalf("expected one digest, got %d", len(env.sender.sent))
	}
	if msg := env.sender.sent[0]; msg.chatID != 42 || !strings.Contains(msg.text, "Standup") {
		t.Errorf("unexpected digest %+v", msg)
	}
}

func TestNotifierRecipient(t *testing.T) {
	sender := &fakeSender{}
	n := newNotifier(sender, nil, pkt)
	ctx := context.Background()

	task := &model.Task{Title: "Dentist", User: &model.User{TelegramID: 99}}
	if err := n.Notify(ctx, notify.Notification{Kind: notify.KindCreated, Task: task}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := sender.last(); got.chatID != 99 || !strings.Contains(got.text, "New Task Created: Dentist") {
		t.Errorf("unexpected message %+v", got)
	}

	task.User = &model.User{Email: "no-chat@example.com"}
	if err := n.Notify(ctx, notify.Notification{Kind: notify.KindCreated, Task: task}); !errors.Is(err, notify.ErrNoRecipient) {
		t.Errorf("expected ErrNoRecipient, got %v", err)
	}

	sender.err = errors.New("telegram down")
	task.User = &model.User{TelegramID: 99}
	if err := n.Notify(ctx, notify.Notification{Kind: notify.KindCreated, Task: task}); err == nil || errors.Is(err, notify.ErrNoRecipient) {
		t.Errorf("expected a transport error, got %v", err)
	}
}
