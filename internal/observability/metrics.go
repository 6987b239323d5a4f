package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoads_http_requests_total",
			Help: "Total API requests by status code",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoads_http_request_duration_seconds",
		Help:    "API request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autoads_http_in_flight",
		Help: "In-flight HTTP requests",
	})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoads_sweep_duration_seconds",
		Help:    "Duration of automatic sweeps",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})
	RulesDue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autoads_sweep_rules_due",
		Help: "Rules found due by the last sweep",
	})
	RuleActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoads_rule_actions_total",
			Help: "Rule actions attempted, by execution mode and result",
		}, []string{"mode", "result"},
	)
	AccountFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoads_account_failures_total",
			Help: "Accounts skipped during a sweep, by reason",
		}, []string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, SweepDuration, RulesDue, RuleActions, AccountFailures)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// ObserveAction counts one attempted rule action.
func ObserveAction(mode string, ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	RuleActions.WithLabelValues(mode, result).Inc()
}

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
