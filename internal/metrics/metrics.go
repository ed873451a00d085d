package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mailfred-go/internal/model"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	SchedulesCreated  prometheus.Counter
	SchedulesCanceled prometheus.Counter
	Processed         *prometheus.CounterVec
	WriteFailures     prometheus.Counter
	LostRaces         prometheus.Counter
	Deferred          prometheus.Counter
	Reconciled        *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	PendingSchedules  prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics registered with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		SchedulesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailfred_schedules_created_total",
			Help: "Total number of schedules created",
		}),
		SchedulesCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailfred_schedules_canceled_total",
			Help: "Total number of pending schedules canceled by a newer schedule or a cancel request",
		}),
		Processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfred_schedules_processed_total",
			Help: "Total number of due schedules processed, by terminal status",
		}, []string{"status"}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailfred_outcome_write_failures_total",
			Help: "Total number of processing outcomes that could not be stored",
		}),
		LostRaces: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailfred_outcome_lost_races_total",
			Help: "Total number of processing outcomes discarded because the record was finalized concurrently",
		}),
		Deferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailfred_schedules_deferred_total",
			Help: "Total number of due schedules left pending because the mailbox backend was unavailable",
		}),
		Reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfred_reconciled_messages_total",
			Help: "Total number of orphaned scheduled messages handled by reconciliation, by result",
		}, []string{"result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailfred_processing_run_duration_seconds",
			Help:    "Time spent in one processing run",
			Buckets: prometheus.DefBuckets,
		}),
		PendingSchedules: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailfred_pending_schedules",
			Help: "Number of schedules waiting to be processed",
		}),
	}

	for _, s := range model.TerminalStatuses {
		m.Processed.WithLabelValues(string(s))
	}
	return m
}
