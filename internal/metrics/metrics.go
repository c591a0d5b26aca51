package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spabook"

var (
	once sync.Once

	handlerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_outcomes_total",
			Help:      "Settled event handler invocations by event type, handler and outcome.",
		},
		[]string{"event_type", "handler", "outcome"},
	)

	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Time spent in event handlers.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2, 5},
		},
		[]string{"event_type"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Outbound notifications by channel and status.",
		},
		[]string{"channel", "status"},
	)

	cacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_cache_invalidations_total",
			Help:      "Page cache invalidations by status.",
		},
		[]string{"status"},
	)

	subscriptionPurchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_purchases_total",
			Help:      "Subscription purchase attempts by outcome.",
		},
		[]string{"status"},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_reminders_total",
			Help:      "Booking reminders by status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route.",
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			handlerOutcomes,
			handlerDuration,
			notificationsSent,
			cacheInvalidations,
			subscriptionPurchases,
			remindersSent,
			httpRequests,
		)
	})
}

func ObserveHandler(eventType, handler string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	handlerOutcomes.WithLabelValues(eventType, handler, outcome).Inc()
	handlerDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

func IncNotification(channel, status string) {
	notificationsSent.WithLabelValues(channel, status).Inc()
}

func IncCacheInvalidation(status string) {
	cacheInvalidations.WithLabelValues(status).Inc()
}

func IncSubscriptionPurchase(status string) {
	subscriptionPurchases.WithLabelValues(status).Inc()
}

func IncReminder(status string) {
	remindersSent.WithLabelValues(status).Inc()
}

func IncHTTP(route string) {
	httpRequests.WithLabelValues(route).Inc()
}
