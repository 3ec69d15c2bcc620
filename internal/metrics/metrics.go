package metrics

import (
	"sync"
	"time"

	"catalogexport/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalog_export"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Export attempts by outcome and error kind.",
		},
		[]string{"outcome", "error_kind"},
	)

	attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of export attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	rowsExported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_exported_total",
			Help:      "Catalog rows written to successful exports.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by kind and delivery outcome.",
		},
		[]string{"kind", "outcome"},
	)

	enqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Export tasks accepted onto the queue.",
		},
	)

	deadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Export tasks that exhausted their attempts.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, attempts, attemptDuration, rowsExported, notifications, enqueued, deadLettered)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncNotification(kind, outcome string) {
	notifications.WithLabelValues(kind, outcome).Inc()
}

// ObserveAttempt records one finished attempt. errorKind is empty on success.
func ObserveAttempt(outcome, errorKind string, d time.Duration) {
	attempts.WithLabelValues(outcome, errorKind).Inc()
	attemptDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Subscribe feeds attempt metrics from lifecycle events.
func Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventExportEnqueued, func(*events.Event) error {
		enqueued.Inc()
		return nil
	})
	bus.Subscribe(events.EventExportSucceeded, func(e *events.Event) error {
		var p events.ExportEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		ObserveAttempt("success", "", secondsToDuration(p.Duration))
		rowsExported.Add(float64(p.Rows))
		return nil
	})
	bus.Subscribe(events.EventExportFailed, func(e *events.Event) error {
		var p events.ExportEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		ObserveAttempt("failure", p.ErrorKind, secondsToDuration(p.Duration))
		return nil
	})
	bus.Subscribe(events.EventExportDeadLettered, func(*events.Event) error {
		deadLettered.Inc()
		return nil
	})
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
