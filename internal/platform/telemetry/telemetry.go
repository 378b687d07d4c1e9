// Package telemetry exposes Prometheus metrics for the workflow server: HTTP
// server metrics recorded by middleware plus domain counters that services
// bump as workflow events happen. All recording methods are safe on a nil
// *Metrics so services can run without telemetry in tests.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "workflow"

// Metrics holds every collector the server registers.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	httpActive     prometheus.Gauge
	transitions    *prometheus.CounterVec
	plansCreated   prometheus.Counter
	daysCompleted  prometheus.Counter
	remindersSched *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	degradations   *prometheus.CounterVec
}

// NewMetrics builds a registry with Go runtime and process collectors plus
// the workflow collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of in-flight HTTP requests",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_transitions_total",
			Help:      "Appointment transition attempts by action and result",
		}, []string{"action", "result"}),
		plansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "treatment_plans_created_total",
			Help:      "Treatment plans created",
		}),
		daysCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_days_completed_total",
			Help:      "Plan days marked completed",
		}),
		remindersSched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_scheduled_total",
			Help:      "Reminders created by source",
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_deliveries_total",
			Help:      "Reminder delivery attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		degradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_degradations_total",
			Help:      "Operations that completed without an unavailable collaborator",
		}, []string{"collaborator"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.httpActive,
		m.transitions, m.plansCreated, m.daysCompleted,
		m.remindersSched, m.deliveries, m.degradations,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request count, latency and in-flight gauge. The route
// label is the echo route pattern so ids do not explode cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.httpActive.Inc()
			start := time.Now()

			err := next(c)

			m.httpActive.Dec()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Transition counts an appointment action; result is "ok" or an error kind.
func (m *Metrics) Transition(action, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) PlanCreated() {
	if m == nil {
		return
	}
	m.plansCreated.Inc()
}

func (m *Metrics) DayCompleted() {
	if m == nil {
		return
	}
	m.daysCompleted.Inc()
}

// RemindersScheduled adds n reminders from source ("plan" or "adhoc").
func (m *Metrics) RemindersScheduled(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.remindersSched.WithLabelValues(source).Add(float64(n))
}

// Delivery counts one dispatch attempt.
func (m *Metrics) Delivery(channel, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, outcome).Inc()
}

// Degraded counts an operation that finished without collaborator.
func (m *Metrics) Degraded(collaborator string) {
	if m == nil {
		return
	}
	m.degradations.WithLabelValues(collaborator).Inc()
}
