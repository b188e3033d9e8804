// Package metrics provides Prometheus metrics for the medication planner.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/pkg/workerpool"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ExtractionsTotal      *prometheus.CounterVec
	CandidatesByTier      *prometheus.CounterVec
	ExtractionSkips       *prometheus.CounterVec
	ExtractionDuration    prometheus.Histogram
	PrescriptionOps       *prometheus.CounterVec
	PrescriptionStatus    *prometheus.CounterVec
	RemindersUpserted     prometheus.Counter
	OccurrencesExpanded   prometheus.Counter
	WorkerTasks           *prometheus.GaugeVec
	WorkerQueueDepth      prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
	HTTPDuration          *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ExtractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medplan_extractions_total",
			Help: "Extraction runs by result status",
		}, []string{"status"}),
		CandidatesByTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medplan_extraction_candidates_total",
			Help: "Accepted candidates by grammar tier",
		}, []string{"tier"}),
		ExtractionSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medplan_extraction_skips_total",
			Help: "Matches dropped during extraction by reason",
		}, []string{"reason"}),
		ExtractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medplan_extraction_duration_seconds",
			Help:    "Extraction duration",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		PrescriptionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medplan_prescription_operations_total",
			Help: "Prescription record operations by outcome",
		}, []string{"op", "outcome"}),
		PrescriptionStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medplan_prescription_transitions_total",
			Help: "Prescription status transitions",
		}, []string{"from", "to"}),
		RemindersUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medplan_reminders_upserted_total",
			Help: "Reminders written from extracted entries",
		}),
		OccurrencesExpanded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medplan_schedule_occurrences_total",
			Help: "Scheduled occurrences generated",
		}),
		WorkerTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medplan_worker_tasks",
			Help: "Ingest worker pool task totals by state",
		}, []string{"state"}),
		WorkerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medplan_worker_queue_depth",
			Help: "Tasks waiting in the ingest worker pool queue",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medplan_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.ExtractionsTotal,
		m.CandidatesByTier,
		m.ExtractionSkips,
		m.ExtractionDuration,
		m.PrescriptionOps,
		m.PrescriptionStatus,
		m.RemindersUpserted,
		m.OccurrencesExpanded,
		m.WorkerTasks,
		m.WorkerQueueDepth,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
		m.HTTPDuration,
	)

	return m
}

// ObserveExtraction records one extraction run.
func (m *Metrics) ObserveExtraction(r extraction.Result, took time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(string(r.Status)).Inc()
	for tier, n := range r.CountByTier() {
		m.CandidatesByTier.WithLabelValues(strconv.Itoa(int(tier))).Add(float64(n))
	}
	m.ExtractionSkips.WithLabelValues("malformed").Add(float64(r.Malformed))
	m.ExtractionSkips.WithLabelValues("sentinel").Add(float64(r.SentinelSkips))
	m.ExtractionSkips.WithLabelValues("duplicate").Add(float64(r.Duplicates))
	m.ExtractionDuration.Observe(took.Seconds())
}

// PrescriptionSaved counts a committed prescription write.
func (m *Metrics) PrescriptionSaved(op string) {
	if m == nil {
		return
	}
	m.PrescriptionOps.WithLabelValues(op, "ok").Inc()
}

// PrescriptionFailed counts an aborted prescription write.
func (m *Metrics) PrescriptionFailed(op string) {
	if m == nil {
		return
	}
	m.PrescriptionOps.WithLabelValues(op, "error").Inc()
}

// PrescriptionTransitioned counts a status change.
func (m *Metrics) PrescriptionTransitioned(from, to string) {
	if m == nil {
		return
	}
	m.PrescriptionStatus.WithLabelValues(from, to).Inc()
}

// ObserveReminderUpsert records reminders inserted from extracted entries.
func (m *Metrics) ObserveReminderUpsert(inserted int) {
	if m == nil {
		return
	}
	m.RemindersUpserted.Add(float64(inserted))
}

// ObserveWorkerPool publishes a worker pool snapshot.
func (m *Metrics) ObserveWorkerPool(s workerpool.Stats) {
	if m == nil {
		return
	}
	m.WorkerTasks.WithLabelValues("submitted").Set(float64(s.Submitted))
	m.WorkerTasks.WithLabelValues("completed").Set(float64(s.Completed))
	m.WorkerTasks.WithLabelValues("failed").Set(float64(s.Failed))
	m.WorkerTasks.WithLabelValues("retried").Set(float64(s.Retried))
	m.WorkerQueueDepth.Set(float64(s.Queued))
}

// ObserveOccurrences records generated schedule occurrences.
func (m *Metrics) ObserveOccurrences(n int) {
	if m == nil {
		return
	}
	m.OccurrencesExpanded.Add(float64(n))
}

// ObserveProduced counts produced broker records.
func (m *Metrics) ObserveProduced(n int) {
	if m == nil {
		return
	}
	m.KafkaMessagesProduced.Add(float64(n))
}

// ObserveConsumed counts consumed broker records.
func (m *Metrics) ObserveConsumed(n int) {
	if m == nil {
		return
	}
	m.KafkaMessagesConsumed.Add(float64(n))
}

// SetOutboxPending sets the pending outbox gauge.
func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// SetBreakerState records a circuit breaker state (0=closed, 1=half-open, 2=open).
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
