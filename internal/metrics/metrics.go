package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "safarbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"route", "code"},
	)

	priceComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_computations_total",
			Help:      "Pricing engine runs by outcome.",
		},
		[]string{"result"},
	)

	ruleCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_cache_lookups_total",
			Help:      "Pricing rule cache lookups by outcome.",
		},
		[]string{"result"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Successful booking status transitions.",
		},
		[]string{"from", "to"},
	)

	paymentVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verifications_total",
			Help:      "Payment verification attempts by result and failed check.",
		},
		[]string{"result", "check"},
	)

	idempotencyReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_replays_total",
			Help:      "Booking creations answered from a stored receipt.",
		},
	)

	notificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications dropped after all retries, by sink.",
		},
		[]string{"sink"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			priceComputations,
			ruleCacheLookups,
			bookingTransitions,
			paymentVerifications,
			idempotencyReplays,
			notificationFailures,
		)
	})
}

func IncHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func IncPriceComputation(result string) {
	priceComputations.WithLabelValues(result).Inc()
}

// IncRuleCache records a rule cache hit, miss or error.
func IncRuleCache(result string) {
	ruleCacheLookups.WithLabelValues(result).Inc()
}

func IncTransition(from, to string) {
	bookingTransitions.WithLabelValues(from, to).Inc()
}

// IncVerification counts a verification outcome; check is empty on success.
func IncVerification(result, check string) {
	paymentVerifications.WithLabelValues(result, check).Inc()
}

func IncIdempotencyReplay() {
	idempotencyReplays.Inc()
}

func IncNotificationFailure(sink string) {
	notificationFailures.WithLabelValues(sink).Inc()
}
