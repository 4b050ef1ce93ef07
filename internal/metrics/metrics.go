package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Verification decisions by product, outcome and reason code.
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_verifications_total",
			Help: "Payment verification decisions (by product, outcome and reason).",
		},
		[]string{"product", "outcome", "reason"},
	)

	AccessChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_checks_total",
			Help: "Access checks (by product and result).",
		},
		[]string{"product", "result", "reason"}, // result = "granted" | "denied"
	)

	// Outbound calls to the chain node.
	ChainRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_node_requests_total",
			Help: "Total number of chain node API requests (by endpoint and result).",
		},
		[]string{"endpoint", "result"}, // result = "ok" | "not_found" | "unreachable" | "error"
	)

	ChainRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chain_node_request_duration_seconds",
			Help:    "Duration of chain node API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms → ~10s
		},
		[]string{"endpoint"},
	)

	CacheAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_access_total",
			Help: "Number of cache hits/misses by cache.",
		},
		[]string{"cache", "result"}, // hit | miss
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Access events forwarded to external brokers.",
		},
		[]string{"sink", "subject", "result"},
	)

	EventPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_publish_latency_seconds",
			Help:    "Time taken to publish events to a broker.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	SweptReservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_reservations_swept_total",
			Help: "Stale ledger reservations released by the sweeper.",
		},
	)

	LastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_last_sweep_timestamp",
			Help: "Timestamp (unix seconds) of the last successful reservation sweep.",
		},
	)

	TelegramUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_updates_total",
			Help: "Telegram bot updates handled (by command).",
		},
		[]string{"command"},
	)

	ThrottledRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_throttled_requests_total",
			Help: "Requests rejected by the per-user throttle.",
		},
		[]string{"route"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Count of gateway errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// UnknownProduct labels requests for product keys outside the catalog, keeping label values bounded.
const UnknownProduct = "unknown"

// ObserveDuration records the time since start on the given histogram.
func ObserveDuration(v *prometheus.HistogramVec, start time.Time, labels ...string) {
	v.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncVerification(product, outcome, reason string) {
	VerificationsTotal.WithLabelValues(product, outcome, reason).Inc()
}

func IncAccessCheck(product string, granted bool, reason string) {
	result := "denied"
	if granted {
		result = "granted"
	}
	AccessChecksTotal.WithLabelValues(product, result, reason).Inc()
}

func IncChainRequest(endpoint, result string) {
	ChainRequestsTotal.WithLabelValues(endpoint, result).Inc()
}

func IncCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheAccess.WithLabelValues(cache, result).Inc()
}

func IncEventPublished(sink, subject, result string) {
	EventsPublished.WithLabelValues(sink, subject, result).Inc()
}

func AddSwept(n int, t time.Time) {
	SweptReservations.Add(float64(n))
	LastSweepTimestamp.Set(float64(t.Unix()))
}

func IncTelegramUpdate(command string) {
	TelegramUpdates.WithLabelValues(command).Inc()
}

func IncThrottled(route string) {
	ThrottledRequests.WithLabelValues(route).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}
