package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config keeps runtime settings for the planner processes.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Server     ServerConfig     `mapstructure:"server"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Poller     PollerConfig     `mapstructure:"poller"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

type DatabaseConfig struct {
	DSN         string        `mapstructure:"dsn"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
}

// TelegramConfig drives the bot. An empty DigestTime disables the daily digest.
type TelegramConfig struct {
	Token         string  `mapstructure:"token"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	DigestTime    string  `mapstructure:"digest_time"`
	DigestHours   int     `mapstructure:"digest_hours"`
}

// RedisConfig enables the cross-process cycle lock when Addr is set.
type RedisConfig struct {
	Addr    string        `mapstructure:"addr"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type DispatcherConfig struct {
	WindowMinutes int           `mapstructure:"window_minutes"`
	Every         time.Duration `mapstructure:"every"`
	SendAttempts  int           `mapstructure:"send_attempts"`
	SendDelay     time.Duration `mapstructure:"send_delay"`
}

type PollerConfig struct {
	IntervalSeconds int           `mapstructure:"interval_seconds"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
}

type SchedulingConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from an optional file, .env and environment
// variables, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "task-planner")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Asia/Karachi")

	v.SetDefault("database.dsn", "task_planner.db")
	v.SetDefault("database.busy_timeout", "5s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 20)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.rate_per_second", 25)
	v.SetDefault("telegram.digest_time", "09:00")
	v.SetDefault("telegram.digest_hours", 24)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.lock_ttl", "2m")

	v.SetDefault("dispatcher.window_minutes", 0)
	v.SetDefault("dispatcher.every", "1m")
	v.SetDefault("dispatcher.send_attempts", 3)
	v.SetDefault("dispatcher.send_delay", "2s")

	v.SetDefault("poller.interval_seconds", 15)
	v.SetDefault("poller.cycle_timeout", "1m")

	v.SetDefault("scheduling.grace_period", "1m")

	v.SetDefault("metrics.enabled", true)
}

func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"app.name":                  "APP_NAME",
		"app.environment":           "APP_ENVIRONMENT",
		"app.timezone":              "APP_TIMEZONE",
		"database.dsn":              "DATABASE_DSN",
		"database.busy_timeout":     "DATABASE_BUSY_TIMEOUT",
		"logger.level":              "LOG_LEVEL",
		"logger.format":             "LOG_FORMAT",
		"server.host":               "SERVER_HOST",
		"server.port":               "SERVER_PORT",
		"server.shutdown_timeout":   "SERVER_SHUTDOWN_TIMEOUT",
		"server.rate_limit":         "SERVER_RATE_LIMIT",
		"telegram.token":            "TELEGRAM_TOKEN",
		"telegram.rate_per_second":  "TELEGRAM_RATE_PER_SECOND",
		"telegram.digest_time":      "TELEGRAM_DIGEST_TIME",
		"telegram.digest_hours":     "TELEGRAM_DIGEST_HOURS",
		"redis.addr":                "REDIS_ADDR",
		"redis.lock_ttl":            "REDIS_LOCK_TTL",
		"dispatcher.window_minutes": "DISPATCH_WINDOW_MINUTES",
		"dispatcher.every":          "DISPATCH_EVERY",
		"dispatcher.send_attempts":  "DISPATCH_SEND_ATTEMPTS",
		"dispatcher.send_delay":     "DISPATCH_SEND_DELAY",
		"poller.interval_seconds":   "POLLER_INTERVAL_SECONDS",
		"poller.cycle_timeout":      "POLLER_CYCLE_TIMEOUT",
		"scheduling.grace_period":   "SCHEDULING_GRACE_PERIOD",
		"metrics.enabled":           "ENABLE_METRICS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects values the planner cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Dispatcher.SendAttempts < 1 {
		return fmt.Errorf("dispatcher send_attempts must be at least 1")
	}
	if c.Dispatcher.WindowMinutes < 0 {
		return fmt.Errorf("dispatcher window_minutes cannot be negative")
	}
	if c.Poller.IntervalSeconds < 1 {
		return fmt.Errorf("poller interval_seconds must be at least 1")
	}
	if c.Scheduling.GracePeriod < 0 {
		return fmt.Errorf("scheduling grace_period cannot be negative")
	}
	if c.Telegram.DigestHours < 1 {
		return fmt.Errorf("telegram digest_hours must be at least 1")
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger format must be json or console, got %q", c.Logger.Format)
	}
	return nil
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Addr returns the HTTP listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PollInterval converts the configured seconds into a duration.
func (c *PollerConfig) PollInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
