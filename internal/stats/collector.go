package stats

import (
	"net/http"
	"strconv"

	"github.com/nao1215/crawlcore/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "crawlcore"

// sizeBuckets are response size buckets from 1 KiB to 1 GiB.
var sizeBuckets = prometheus.ExponentialBuckets(1024, 4, 11)

// Collector counts requests, responses, bytes and failures.
// It is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	reached      prometheus.Counter
	left         prometheus.Counter
	inFlight     prometheus.Gauge
	headers      *prometheus.CounterVec
	bytes        prometheus.Counter
	responses    *prometheus.CounterVec
	flags        *prometheus.CounterVec
	failures     *prometheus.CounterVec
	responseSize prometheus.Histogram
	latency      prometheus.Histogram
}

// NewCollector creates a Collector with a fresh registry. withRuntime also
// registers the Go runtime and process collectors.
func NewCollector(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		reached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_reached_total",
			Help:      "Requests admitted into the downloader.",
		}),
		left: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_left_total",
			Help:      "Dispatched requests that completed, whatever the outcome.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "requests_active",
			Help:      "Requests admitted and not yet completed.",
		}),
		headers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "headers_received_total",
			Help:      "Responses whose headers arrived, by declared length.",
		}, []string{"length"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "response_bytes_total",
			Help:      "Body bytes received.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "responses_total",
			Help:      "Downloaded responses by status code.",
		}, []string{"status"}),
		flags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "response_flags_total",
			Help:      "Downloaded responses by flag.",
		}, []string{"flag"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failures_total",
			Help:      "Failed fetches by error kind.",
		}, []string{"kind"}),
		responseSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "response_size_bytes",
			Help:      "Size of downloaded bodies.",
			Buckets:   sizeBuckets,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "download_latency_seconds",
			Help:      "Time from sending a request to receiving its headers.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.reached,
		c.left,
		c.inFlight,
		c.headers,
		c.bytes,
		c.responses,
		c.flags,
		c.failures,
		c.responseSize,
		c.latency,
	)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RequestReachedDownloader implements signal.Sink.
func (c *Collector) RequestReachedDownloader(*model.Request) {
	c.reached.Inc()
	c.inFlight.Inc()
}

// RequestLeftDownloader implements signal.Sink.
func (c *Collector) RequestLeftDownloader(*model.Request) {
	c.left.Inc()
	c.inFlight.Dec()
}

// HeadersReceived implements signal.Sink.
func (c *Collector) HeadersReceived(_ *model.Request, _ http.Header, expectedSize int64) error {
	length := "known"
	if expectedSize < 0 {
		length = "unknown"
	}
	c.headers.WithLabelValues(length).Inc()
	return nil
}

// BytesReceived implements signal.Sink.
func (c *Collector) BytesReceived(_ *model.Request, chunk []byte) error {
	c.bytes.Add(float64(len(chunk)))
	return nil
}

// ResponseDownloaded implements signal.Sink. It runs on the transfer
// goroutine and does not read the request meta.
func (c *Collector) ResponseDownloaded(_ *model.Request, resp *model.Response) {
	c.responses.WithLabelValues(strconv.Itoa(resp.Status)).Inc()
	for _, flag := range resp.Flags {
		c.flags.WithLabelValues(flag).Inc()
	}
	c.responseSize.Observe(float64(len(resp.Body)))
}

// ObserveResult records the latency of a finished fetch, or its failure kind.
func (c *Collector) ObserveResult(r *model.Result) {
	if !r.OK() {
		kind := r.ErrorKind
		if kind == "" {
			kind = "error"
		}
		c.failures.WithLabelValues(kind).Inc()
	}
	if r.Latency > 0 {
		c.latency.Observe(r.Latency.Seconds())
	}
}
