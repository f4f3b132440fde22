package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Latency buckets in milliseconds.
var latencyBuckets = []float64{
	5, 10, 25,
	50, 100, 250,
	500, 1000, 2500,
	5000, 10000,
}

// Metrics holds the collectors of one service process.
type Metrics struct {
	registry *prometheus.Registry

	RequestTotal     *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	InferenceLatency prometheus.Histogram
	ModelLoaded      prometheus.Gauge
	MappingsLoaded   prometheus.Gauge
	Reloads          *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
}

func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"service": service}, registry)
	factory := promauto.With(registerer)

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return &Metrics{
		registry: registry,
		RequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civic_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"path", "method", "status"},
		),
		RequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "civic_request_latency_ms",
				Help:    "HTTP request latency in milliseconds",
				Buckets: latencyBuckets,
			},
			[]string{"path"},
		),
		InferenceLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "civic_inference_latency_ms",
				Help:    "Preprocessing plus forward pass latency in milliseconds",
				Buckets: latencyBuckets,
			},
		),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "civic_model_loaded",
			Help: "1 when a model is loaded and serving",
		}),
		MappingsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "civic_mappings_loaded",
			Help: "1 when class mappings are loaded",
		}),
		Reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civic_model_reloads_total",
				Help: "Model load attempts by resulting state",
			},
			[]string{"state"},
		),
		Fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "civic_category_fallbacks_total",
				Help: "Predictions whose class index had no category",
			},
			[]string{"component"},
		),
	}
}

func (m *Metrics) ObserveRequest(path, method string, status int, elapsed time.Duration) {
	m.RequestTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.RequestLatency.WithLabelValues(path).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) ObserveInference(elapsed time.Duration) {
	m.InferenceLatency.Observe(float64(elapsed.Microseconds()) / 1000)
}

// ModelState records the outcome of a load.
func (m *Metrics) ModelState(state string, modelLoaded, mappingsLoaded bool) {
	m.Reloads.WithLabelValues(state).Inc()
	m.ModelLoaded.Set(boolGauge(modelLoaded))
	m.MappingsLoaded.Set(boolGauge(mappingsLoaded))
}

func (m *Metrics) CategoryFallback(component string) {
	m.Fallbacks.WithLabelValues(component).Inc()
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
