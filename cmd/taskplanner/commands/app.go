package commands

import (
	"fmt"
	"io"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/redis/rueidis"
	"gorm.io/gorm"

	"task-planner/internal/bot"
	"task-planner/internal/config"
	"task-planner/internal/lock"
	"task-planner/internal/logger"
	"task-planner/internal/metrics"
	"task-planner/internal/notify"
	"task-planner/internal/repository"
	"task-planner/internal/service"
	"task-planner/internal/timeslot"
)

// app holds the wired planner for one command invocation.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *gorm.DB
	metrics *metrics.Metrics
	clock   clockwork.Clock
	loc     *time.Location

	users     *repository.UserRepository
	taskRepo  *repository.TaskRepository
	reminders *repository.ReminderRepository

	tasks      *service.TaskService
	report     *service.DeadlineReport
	dispatcher *service.ReminderDispatcher
	completer  *service.AutoCompleter

	telegram *tgbotapi.BotAPI
	redis    rueidis.Client
}

func newApp(configFile string, out io.Writer) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	db, err := repository.NewDB(cfg.Database, appLogger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       appLogger,
		db:        db,
		clock:     clockwork.NewRealClock(),
		users:     repository.NewUserRepository(db),
		taskRepo:  repository.NewTaskRepository(db),
		reminders: repository.NewReminderRepository(db),
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	loc := timeslot.ReferenceLocation(cfg.App.Timezone)
	a.loc = loc

	locker, err := a.newLocker()
	if err != nil {
		a.close()
		return nil, err
	}
	notifier, err := a.newNotifier(loc)
	if err != nil {
		a.close()
		return nil, err
	}

	scheduler := service.NewReminderScheduler(a.reminders, a.clock, loc, cfg.Scheduling.GracePeriod, appLogger)
	a.tasks = service.NewTaskService(a.taskRepo, scheduler, notifier, a.clock, loc, service.TaskServiceConfig{
		CompletionAttempts: cfg.Dispatcher.SendAttempts,
		CompletionDelay:    cfg.Dispatcher.SendDelay,
	}, appLogger)
	a.report = service.NewDeadlineReport(a.taskRepo, a.clock, loc)
	a.dispatcher = service.NewReminderDispatcher(a.reminders, notifier, locker, a.clock, loc, service.DispatcherConfig{
		SendAttempts: cfg.Dispatcher.SendAttempts,
		SendDelay:    cfg.Dispatcher.SendDelay,
		CycleTimeout: cfg.Poller.CycleTimeout,
	}, a.metrics, out, appLogger)
	a.completer = service.NewAutoCompleter(a.taskRepo, a.tasks, locker, a.clock, loc, a.metrics, out, appLogger)
	return a, nil
}

// newLocker returns a Redis lock when an address is configured.
func (a *app) newLocker() (lock.Locker, error) {
	if a.cfg.Redis.Addr == "" {
		return lock.Noop{}, nil
	}
	client, err := lock.NewRedisClient(a.cfg.Redis.Addr)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return lock.NewRedis(client, a.cfg.App.Name+":lock:", a.cfg.Redis.LockTTL), nil
}

// newNotifier sends through Telegram when a token is set and falls back to
// the log for owners without a chat.
func (a *app) newNotifier(loc *time.Location) (notify.Notifier, error) {
	logNotifier := notify.NewLogNotifier(a.log)
	if a.cfg.Telegram.Token == "" {
		a.log.Info("no telegram token configured, notifications go to the log")
		return logNotifier, nil
	}

	api, err := bot.NewAPI(a.cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a.telegram = api

	telegram := bot.NewNotifier(api, a.users, loc)
	return notify.Fallback{
		Primary:   notify.NewRateLimited(telegram, a.cfg.Telegram.RatePerSecond),
		Secondary: logNotifier,
	}, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Close()
}
