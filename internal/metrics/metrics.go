package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	apiReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minutebook",
			Name:      "api_requests_total",
			Help:      "Total classification API requests by endpoint, model and result",
		},
		[]string{"endpoint", "model", "result"},
	)

	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minutebook",
			Name:      "api_request_duration_seconds",
			Help:      "Duration of classification API requests by endpoint and model",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"endpoint", "model"},
	)

	blocksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minutebook",
			Name:      "blocks_dispatched_total",
			Help:      "Blocks sent for classification by engine",
		},
		[]string{"engine"},
	)

	predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minutebook",
			Name:      "predictions_total",
			Help:      "Page predictions by engine and outcome (updated, finalized, kept_final, dropped)",
		},
		[]string{"engine", "outcome"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minutebook",
			Name:      "retries_total",
			Help:      "Total number of text block retries",
		},
	)

	passesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minutebook",
			Name:      "passes_total",
			Help:      "Classification passes executed",
		},
	)

	pagesFinal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "minutebook",
			Name:      "pages_final",
			Help:      "Pages finalized in the current run",
		},
	)

	pagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "minutebook",
			Name:      "pages_total",
			Help:      "Pages in the current run",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minutebook",
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by endpoint and action",
		},
		[]string{"endpoint", "action"},
	)

	registerOnce sync.Once
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		apiReqs, apiLatency, blocksDispatched, predictions,
		retriesTotal, passesTotal, pagesFinal, pagesTotal, breakerEvents,
	}
}

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors()...)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

// Push sends all collectors to a Prometheus pushgateway. The CLI is short
// lived, so this replaces a scrape endpoint.
func Push(ctx context.Context, url, job string) error {
	p := push.New(url, job)
	for _, c := range collectors() {
		p = p.Collector(c)
	}
	return p.PushContext(ctx)
}

func ObserveRequest(endpoint, model, result string, dur time.Duration) {
	apiReqs.WithLabelValues(endpoint, model, result).Inc()
	apiLatency.WithLabelValues(endpoint, model).Observe(dur.Seconds())
}

func IncBlocks(engine string)                { blocksDispatched.WithLabelValues(engine).Inc() }
func IncPrediction(engine, outcome string)   { predictions.WithLabelValues(engine, outcome).Inc() }
func IncRetry()                              { retriesTotal.Inc() }
func IncPass()                               { passesTotal.Inc() }
func BreakerRejected(endpoint string)        { breakerEvents.WithLabelValues(endpoint, "rejected").Inc() }

func SetProgress(final, total int) {
	pagesFinal.Set(float64(final))
	pagesTotal.Set(float64(total))
}
