package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "conveyor"

// Metrics — Prometheus метрики движка.
//
// Реализует интерфейсы Metrics пакетов executor, jobqueue, scheduler и runlog.
type Metrics struct {
	actionExecutions *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	jobsProcessed    *prometheus.CounterVec
	jobsDeadLettered *prometheus.CounterVec
	cronFires        *prometheus.CounterVec
	runlogDropped    prometheus.Counter
}

// NewMetrics создаёт метрики и регистрирует их в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		actionExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_executions_total",
			Help:      "Total number of action executions by outcome.",
		}, []string{"action", "outcome"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action execution duration including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action", "outcome"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of processed jobs by outcome.",
		}, []string{"job", "outcome"}),
		jobsDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dead_lettered_total",
			Help:      "Total number of jobs moved to the dead-letter table.",
		}, []string{"job"}),
		cronFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_fires_total",
			Help:      "Total number of cron fires by result.",
		}, []string{"action", "result"}),
		runlogDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runlog_dropped_total",
			Help:      "Run entries dropped because the recorder buffer was full.",
		}),
	}

	reg.MustRegister(
		m.actionExecutions,
		m.actionDuration,
		m.jobsProcessed,
		m.jobsDeadLettered,
		m.cronFires,
		m.runlogDropped,
	)

	return m
}

// ActionExecuted учитывает завершённое выполнение action.
func (m *Metrics) ActionExecuted(action, outcome string, d time.Duration) {
	m.actionExecutions.WithLabelValues(action, outcome).Inc()
	m.actionDuration.WithLabelValues(action, outcome).Observe(d.Seconds())
}

// JobProcessed учитывает обработанную задачу.
func (m *Metrics) JobProcessed(job, outcome string) {
	m.jobsProcessed.WithLabelValues(job, outcome).Inc()
}

// JobDeadLettered учитывает перенос задачи в job_failures.
func (m *Metrics) JobDeadLettered(job string) {
	m.jobsDeadLettered.WithLabelValues(job).Inc()
}

// CronFired учитывает срабатывание cron (result: executed, skipped, failed).
func (m *Metrics) CronFired(action, result string) {
	m.cronFires.WithLabelValues(action, result).Inc()
}

// RunEntryDropped учитывает отброшенную audit-запись.
func (m *Metrics) RunEntryDropped() {
	m.runlogDropped.Inc()
}
