// Package metrics exposes the engine's Prometheus instruments. One
// Metrics value is created at startup and handed to the services that
// record observations.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
)

const namespace = "recodehub"

// Metrics bundles the engine's instruments registered on one registerer.
type Metrics struct {
	recodeOutcomes *prometheus.CounterVec
	notifications  prometheus.Counter
	taskDuration   *prometheus.HistogramVec
	tasksRunning   prometheus.Gauge

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// New registers the instruments on reg. Passing
// prometheus.DefaultRegisterer wires the standard /metrics endpoint.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		recodeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recode",
			Name:      "outcomes_total",
			Help:      "Per-value recode outcomes by type.",
		}, []string{"type"}),
		notifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "aggregated_total",
			Help:      "Outcomes folded into windowed notifications.",
		}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task execution wall time by performer and terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"performer", "status"}),
		tasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "running",
			Help:      "Tasks currently in RUNNING status.",
		}),
		running: make(map[uuid.UUID]struct{}),
	}
}

// ObserveRecodeOutcome counts one recode outcome.
func (m *Metrics) ObserveRecodeOutcome(t domain.NotificationType) {
	m.recodeOutcomes.WithLabelValues(string(t)).Inc()
	m.notifications.Inc()
}

// ObserveTaskDuration records the wall time of a finished task.
func (m *Metrics) ObserveTaskDuration(performer string, status domain.TaskStatus, d time.Duration) {
	m.taskDuration.WithLabelValues(performer, string(status)).Observe(d.Seconds())
}

type subscriber interface {
	Subscribe(topic eventbus.Topic, h eventbus.Handler)
}

// Register subscribes the running-tasks gauge to lifecycle events.
func (m *Metrics) Register(bus subscriber) {
	bus.Subscribe(eventbus.TopicTaskLifecycle, m.handleTaskLifecycle)
}

// A task canceled straight from the queue goes terminal without ever
// being RUNNING; the running set keeps the gauge from drifting negative
// on such transitions.
func (m *Metrics) handleTaskLifecycle(_ context.Context, ev eventbus.Event) error {
	lc := ev.TaskLifecycle
	if lc == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case lc.Status == domain.TaskRunning:
		if _, ok := m.running[lc.ExecutionID]; !ok {
			m.running[lc.ExecutionID] = struct{}{}
			m.tasksRunning.Inc()
		}
	case lc.Status.IsTerminal():
		if _, ok := m.running[lc.ExecutionID]; ok {
			delete(m.running, lc.ExecutionID)
			m.tasksRunning.Dec()
		}
	}
	return nil
}
