// Package metrics exposes Prometheus collectors for the background loops
// and notification delivery. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskplanner"

type Metrics struct {
	registry             *prometheus.Registry
	remindersSent        prometheus.Counter
	remindersFailed      prometheus.Counter
	tasksAutoCompleted   prometheus.Counter
	notificationAttempts *prometheus.CounterVec
	cycleDuration        *prometheus.HistogramVec
	cyclesSkipped        *prometheus.CounterVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminders delivered and stamped as sent",
		}),
		remindersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_failed_total",
			Help:      "Reminders left unsent after all attempts",
		}),
		tasksAutoCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_auto_completed_total",
			Help:      "Tasks completed by the poller",
		}),
		notificationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_attempts_total",
			Help:      "Notification send attempts by kind and result",
		}, []string{"kind", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of dispatcher and poller cycles",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"}),
		cyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Cycles skipped because another process held the lock",
		}, []string{"loop"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	registry.MustRegister(
		m.remindersSent,
		m.remindersFailed,
		m.tasksAutoCompleted,
		m.notificationAttempts,
		m.cycleDuration,
		m.cyclesSkipped,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ReminderSent() {
	if m == nil {
		return
	}
	m.remindersSent.Inc()
}

func (m *Metrics) ReminderFailed() {
	if m == nil {
		return
	}
	m.remindersFailed.Inc()
}

func (m *Metrics) TaskAutoCompleted() {
	if m == nil {
		return
	}
	m.tasksAutoCompleted.Inc()
}

func (m *Metrics) NotificationAttempt(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notificationAttempts.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveCycle(loop string, started time.Time, finished time.Time) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(loop).Observe(finished.Sub(started).Seconds())
}

func (m *Metrics) CycleSkipped(loop string) {
	if m == nil {
		return
	}
	m.cyclesSkipped.WithLabelValues(loop).Inc()
}

// ObserveRequest records one HTTP request against its route pattern.
func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
