package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_requests_total",
			Help: "Total number of chat requests processed",
		},
		[]string{"backend", "model", "mode", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend", "model", "mode"},
	)

	TTFTSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_ttft_seconds",
			Help:    "Time to first token in seconds (streaming requests)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"backend", "model", "type"},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_backend_errors_total",
			Help: "Total number of backend errors by taxonomy kind",
		},
		[]string{"backend", "kind"},
	)

	BackendUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmgateway_backend_up",
			Help: "Backend reachability (1=reachable, 0=unreachable)",
		},
		[]string{"backend"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmgateway_active_streams",
			Help: "Number of active streaming connections",
		},
	)

	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmgateway_inflight_requests",
			Help: "Number of requests currently holding a concurrency slot",
		},
	)
)

func RecordRequest(backend, model, mode, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(backend, model, mode, status).Inc()
	RequestDuration.WithLabelValues(backend, model, mode).Observe(durationSec)
}

func RecordTokens(backend, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(backend, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(backend, model, "output").Add(float64(outputTokens))
}

func ObserveTTFT(backend, model string, seconds float64) {
	TTFTSeconds.WithLabelValues(backend, model).Observe(seconds)
}

func RecordBackendError(backend, kind string) {
	BackendErrors.WithLabelValues(backend, kind).Inc()
}

func SetBackendUp(backend string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	BackendUp.WithLabelValues(backend).Set(v)
}
