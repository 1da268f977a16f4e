package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"route", "status", "method"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "method"},
)

var HTTPRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

var PushDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "push_deliveries_total",
		Help: "Push send attempts by platform, protocol and outcome",
	},
	[]string{"platform", "protocol", "outcome"},
)

var PushSendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "push_send_duration_seconds",
		Help:    "Time taken by the push transport to accept a message",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"protocol"},
)

var PushSubscriptionsRegisteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "push_subscriptions_registered_total",
		Help: "Subscription registrations by platform and whether they came from auto recovery",
	},
	[]string{"platform", "protocol", "auto_recovered"},
)

var PushSubscriptionsDeactivatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "push_subscriptions_deactivated_total",
		Help: "Subscriptions deactivated, by reason",
	},
	[]string{"reason"},
)

var SchedulerUsersTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduler_users_total",
		Help: "Users processed by reengagement tasks, by result",
	},
	[]string{"task", "result"},
)

var SchedulerRunDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "scheduler_run_duration_seconds",
		Help:    "Duration of reengagement task runs",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"task"},
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(HTTPRateLimitRejectionsTotal)
		prometheus.MustRegister(PushDeliveriesTotal)
		prometheus.MustRegister(PushSendDuration)
		prometheus.MustRegister(PushSubscriptionsRegisteredTotal)
		prometheus.MustRegister(PushSubscriptionsDeactivatedTotal)
		prometheus.MustRegister(SchedulerUsersTotal)
		prometheus.MustRegister(SchedulerRunDuration)
	})
}
