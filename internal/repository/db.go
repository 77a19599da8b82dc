package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"task-planner/internal/config"
	"task-planner/internal/logger"
	"task-planner/internal/model"
)

const unsentReminderIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uniq_unsent_task_reminder_type
ON task_reminders (task_id, reminder_type) WHERE sent_at IS NULL`

// NewDB opens a SQLite database and runs migrations.
func NewDB(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "task_planner.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := gormlogger.New(
		zap.NewStdLog(log.Desugar()),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(withPragmas(dsn, cfg.BusyTimeout)), &gorm.Config{
		Logger:  dbLogger,
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.AutoMigrate(&model.User{}, &model.Task{}, &model.TaskReminder{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	if err := db.Exec(unsentReminderIndex).Error; err != nil {
		return nil, fmt.Errorf("create unsent reminder index: %w", err)
	}

	return db, nil
}

// withPragmas enables foreign keys (needed for cascading deletes) and a busy
// timeout on every connection of the pool.
func withPragmas(dsn string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_foreign_keys=1&_busy_timeout=%d", dsn, sep, busyTimeout.Milliseconds())
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

// utc normalises instants before they are written or compared. SQLite keeps
// timestamps as text, so every stored value must share one offset.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
