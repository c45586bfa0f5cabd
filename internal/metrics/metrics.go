package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buffalo",
		Name:      "session_transitions_total",
		Help:      "Test session status changes by resulting status.",
	}, []string{"status"})
	executionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buffalo",
		Name:      "execution_transitions_total",
		Help:      "Test execution status changes by resulting status.",
	}, []string{"status"})
	rejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buffalo",
		Name:      "rejected_transitions_total",
		Help:      "Lifecycle operations rejected because the entity was already terminal.",
	}, []string{"entity"})
	reportsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buffalo",
		Name:      "reports_total",
		Help:      "Report creation calls by outcome (created or existing).",
	}, []string{"outcome"})
	dispatchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buffalo",
		Name:      "dispatch_requests_total",
		Help:      "Calls to the remote runtime by operation and outcome.",
	}, []string{"operation", "outcome"})
	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "buffalo",
		Name:      "dispatch_duration_seconds",
		Help:      "Latency of calls to the remote runtime.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	callbackRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buffalo",
		Name:      "callback_requests_total",
		Help:      "Callback tool invocations by tool and HTTP status.",
	}, []string{"tool", "code"})
	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buffalo",
		Name:      "ws_clients",
		Help:      "Connected websocket clients.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordSessionTransition(status string) {
	sessionTransitions.WithLabelValues(status).Inc()
}

func RecordExecutionTransition(status string) {
	executionTransitions.WithLabelValues(status).Inc()
}

func RecordRejectedTransition(entity string) {
	rejectedTransitions.WithLabelValues(entity).Inc()
}

func RecordReport(created bool) {
	outcome := "existing"
	if created {
		outcome = "created"
	}
	reportsCreated.WithLabelValues(outcome).Inc()
}

// RecordDispatch records one outbound call. outcome is "ok", "upstream" or
// "transport".
func RecordDispatch(operation, outcome string, elapsed time.Duration) {
	dispatchRequests.WithLabelValues(operation, outcome).Inc()
	dispatchLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func RecordCallback(tool string, code int) {
	callbackRequests.WithLabelValues(tool, strconv.Itoa(code)).Inc()
}

func ClientConnected() {
	wsClients.Inc()
}

func ClientDisconnected() {
	wsClients.Dec()
}
