package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"task-planner/internal/config"
	"task-planner/internal/exceptions"
	"task-planner/internal/logger"
	"task-planner/internal/metrics"
	"task-planner/internal/service"
)

// UserHeader carries the caller's user id, set by the gateway in front of
// the planner.
const UserHeader = "X-User-ID"

const userKey = "user_id"

// Server represents the HTTP server.
type Server struct {
	echo    *echo.Echo
	config  *config.Config
	db      *gorm.DB
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// CustomValidator wraps the validator.
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func New(cfg *config.Config, db *gorm.DB, tasks *service.TaskService, report *service.DeadlineReport, m *metrics.Metrics, appLogger *logger.Logger) *Server {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}
	e.HideBanner = true
	e.HidePort = true

	log := appLogger.WithComponent("http")
	e.HTTPErrorHandler = customErrorHandler(log)

	s := &Server{
		echo:    e,
		config:  cfg,
		db:      db,
		metrics: m,
		logger:  log,
	}

	s.setupMiddleware()
	if cfg.Metrics.Enabled && m != nil {
		s.setupMetrics()
	}
	s.setupRoutes(NewTaskHandler(tasks, report, log))
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, values middleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", values.Method,
				"uri", values.URI,
				"status", values.Status,
				"latency_ms", float64(values.Latency.Nanoseconds()) / 1000000,
				"remote_ip", values.RemoteIP,
				"request_id", values.RequestID,
			}
			if values.Error != nil {
				fields = append(fields, "error", values.Error.Error())
				s.logger.Warnw("HTTP request failed", fields...)
			} else {
				s.logger.Debugw("HTTP request", fields...)
			}
			return nil
		},
	}))

	if limit := s.config.Server.RateLimit; limit > 0 {
		burst := int(limit)
		if burst < 1 {
			burst = 1
		}
		s.echo.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{Rate: rate.Limit(limit), Burst: burst, ExpiresIn: 3 * time.Minute},
			),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			ErrorHandler: func(c echo.Context, err error) error {
				return c.JSON(http.StatusForbidden, map[string]string{"message": "rate limit exceeded"})
			},
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"message": "rate limit exceeded"})
			},
		}))
	}
}

func (s *Server) setupRoutes(tasks *TaskHandler) {
	s.echo.GET("/healthz", s.healthCheck)

	api := s.echo.Group("/api/tasks", requireUser)
	api.POST("", tasks.CreateTask)
	api.GET("", tasks.ListTasks)
	api.GET("/upcoming", tasks.Upcoming)
	api.GET("/:id", tasks.GetTask)
	api.PATCH("/:id", tasks.UpdateTask)
	api.PATCH("/:id/toggle-complete", tasks.ToggleComplete)
	api.DELETE("/:id", tasks.DeleteTask)
}

func (s *Server) setupMetrics() {
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.metrics.ObserveRequest(c.Request().Method, c.Path(), c.Response().Status, time.Since(start))
			return err
		}
	})

	metricsHandler := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})
	s.echo.GET("/metrics", echo.WrapHandler(metricsHandler))
}

// requireUser reads the caller identity from UserHeader.
func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(UserHeader)
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid "+UserHeader+" header")
		}
		c.Set(userKey, uint(id))
		return next(c)
	}
}

func userID(c echo.Context) uint {
	id, _ := c.Get(userKey).(uint)
	return id
}

func (s *Server) healthCheck(c echo.Context) error {
	status, code := "ok", http.StatusOK
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request().Context())
	}
	if err != nil {
		s.logger.Warnw("database ping failed", "error", err)
		status, code = "database_unavailable", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.logger.Infow("starting server", "address", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.echo.Shutdown(ctx)
}

func customErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var (
			code = http.StatusInternalServerError
			msg  interface{}
		)

		var he *echo.HTTPError
		var appErr *exceptions.Exception
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &appErr):
			code = appErr.StatusCode
			body := map[string]interface{}{"message": appErr.Message, "kind": appErr.Kind}
			if errors.As(err, &verrs) {
				body["details"] = verrs.Error()
			}
			if exceptions.Retryable(err) {
				body["retryable"] = true
				c.Response().Header().Set("Retry-After", "1")
			}
			msg = body
		case errors.As(err, &he):
			code = he.Code
			msg = map[string]interface{}{"message": he.Message}
		case errors.As(err, &verrs):
			code = http.StatusBadRequest
			msg = map[string]string{"message": "validation failed", "details": verrs.Error()}
		default:
			msg = map[string]string{"message": http.StatusText(code)}
		}

		if code >= http.StatusInternalServerError {
			log.Errorw("request failed", "error", err, "path", c.Request().URL.Path)
		}

		if !c.Response().Committed {
			if c.Request().Method == http.MethodHead {
				err = c.NoContent(code)
			} else {
				err = c.JSON(code, msg)
			}
			if err != nil {
				log.Errorw("error sending response", "error", err)
			}
		}
	}
}
