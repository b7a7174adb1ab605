package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the statistics engine's metrics on a private
// registry. A nil *Collector is valid and records nothing.
type Collector struct {
	reg *prometheus.Registry

	TripsProcessed    prometheus.Counter
	GeometryMisses    prometheus.Counter
	DataQualityIssues *prometheus.CounterVec
	FeedLoads         *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	LoadedFeedTrips   prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TripsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfsstats_trips_processed_total",
			Help: "Total trips run through the trip stats builder.",
		}),
		GeometryMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfsstats_geometry_misses_total",
			Help: "Trips whose shape or stops had no geometry.",
		}),
		DataQualityIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfsstats_data_quality_warnings_total",
			Help: "Data quality warnings, by kind.",
		}, []string{"kind"}),
		FeedLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfsstats_feed_loads_total",
			Help: "Feeds loaded, by whether they were parsed or reused from storage.",
		}, []string{"source"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gtfsstats_operation_duration_seconds",
			Help:    "Duration of statistics computations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"operation"}),
		LoadedFeedTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtfsstats_loaded_feed_trips",
			Help: "Number of trips in the most recently loaded feed.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfsstats_http_requests_total",
			Help: "HTTP requests served, by handler and status.",
		}, []string{"handler", "status"}),
	}

	reg.MustRegister(
		c.TripsProcessed, c.GeometryMisses, c.DataQualityIssues,
		c.FeedLoads, c.OperationDuration, c.LoadedFeedTrips,
		c.HTTPRequests,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) TripProcessed() {
	if c == nil {
		return
	}
	c.TripsProcessed.Inc()
}

func (c *Collector) GeometryMiss() {
	if c == nil {
		return
	}
	c.GeometryMisses.Inc()
}

func (c *Collector) DataQualityWarning(kind string) {
	if c == nil {
		return
	}
	c.DataQualityIssues.WithLabelValues(kind).Inc()
}

func (c *Collector) FeedLoaded(source string, numTrips int) {
	if c == nil {
		return
	}
	c.FeedLoads.WithLabelValues(source).Inc()
	c.LoadedFeedTrips.Set(float64(numTrips))
}

func (c *Collector) HTTPRequest(handler string, status string) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(handler, status).Inc()
}

// ObserveDuration records the time since start for an operation.
// Typical use: defer c.ObserveDuration("route_stats", time.Now()).
func (c *Collector) ObserveDuration(operation string, start time.Time) {
	if c == nil {
		return
	}
	c.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
