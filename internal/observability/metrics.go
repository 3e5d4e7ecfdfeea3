package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "satlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "satlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	streamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "satlink",
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Stream messages by direction and type.",
		},
		[]string{"entity", "direction", "type"},
	)
	streamTelemetryBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "satlink",
			Subsystem: "stream",
			Name:      "telemetry_bytes_total",
			Help:      "Telemetry payload bytes written to the sink.",
		},
		[]string{"entity"},
	)
	streamConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "satlink",
			Subsystem: "stream",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by outcome.",
		},
		[]string{"entity", "outcome"},
	)
	streamTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "satlink",
			Subsystem: "stream",
			Name:      "terminations_total",
			Help:      "Finished sessions by termination reason.",
		},
		[]string{"entity", "reason"},
	)
	streamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "satlink",
			Subsystem: "stream",
			Name:      "state",
			Help:      "Current session state as its numeric value.",
		},
		[]string{"entity"},
	)
	stationStreams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "satlink",
			Subsystem: "fakestation",
			Name:      "streams_total",
			Help:      "Server-side streams by final status.",
		},
		[]string{"status"},
	)
	stationActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "satlink",
			Subsystem: "fakestation",
			Name:      "active_streams",
			Help:      "Streams currently attached to the fake station.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			streamMessages,
			streamTelemetryBytes,
			streamConnectAttempts,
			streamTerminations,
			streamState,
			stationStreams,
			stationActiveStreams,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordStreamMessage counts one message; direction is "sent" or "received".
func RecordStreamMessage(entity, direction, messageType string) {
	RegisterMetrics()
	streamMessages.WithLabelValues(entity, direction, messageType).Inc()
}

func RecordTelemetryBytes(entity string, n int) {
	RegisterMetrics()
	streamTelemetryBytes.WithLabelValues(entity).Add(float64(n))
}

func RecordConnectAttempt(entity string, success bool) {
	RegisterMetrics()
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	streamConnectAttempts.WithLabelValues(entity, outcome).Inc()
}

func RecordTermination(entity, reason string) {
	RegisterMetrics()
	streamTerminations.WithLabelValues(entity, reason).Inc()
}

func SetStreamState(entity string, state int) {
	RegisterMetrics()
	streamState.WithLabelValues(entity).Set(float64(state))
}

func RecordStationStream(status string) {
	RegisterMetrics()
	stationStreams.WithLabelValues(status).Inc()
}

func StationStreamAttached(delta int) {
	RegisterMetrics()
	stationActiveStreams.Add(float64(delta))
}
