package monitoring

import (
	"strconv"
	"time"

	"cdnpulse/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes pipeline, subscriber and HTTP telemetry.
// It satisfies ports.PipelineObserver and signal.ConnectionObserver.
type PrometheusCollector struct {
	// Fleet gauges, refreshed every snapshot
	latency         prometheus.Gauge
	bufferingEvents prometheus.Gauge
	users           prometheus.Gauge
	bandwidthMbps   prometheus.Gauge
	activeStreams   prometheus.Gauge
	regionStreams   *prometheus.GaugeVec
	categoryStreams *prometheus.GaugeVec

	// Pipeline
	snapshotsTotal  prometheus.Counter
	anomaliesTotal  prometheus.Counter
	trainingsTotal  prometheus.Counter
	trainingSamples prometheus.Gauge
	tickDuration    prometheus.Histogram
	droppedWrites   prometheus.Counter
	storeFailures   *prometheus.CounterVec

	// Subscribers
	subscribers prometheus.Gauge
	messages    *prometheus.CounterVec

	// HTTP API
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers all metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		latency: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cdnpulse_fleet_latency_ms",
			Help: "Latency of the most recent fleet snapshot in milliseconds",
		}),
		bufferingEvents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cdnpulse_fleet_buffering_events",
			Help: "Buffering events in the most recent fleet snapshot",
		}),
		users: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cdnpulse_fleet_users",
			Help: "Concurrent users in the most recent fleet snapshot",
		}),
		bandwidthMbps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cdnpulse_fleet_bandwidth_mbps",
			Help: "Total delivered bandwidth across active streams",
		}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cdnpulse_streams_active_total",
			Help: "Number of active streams",
		}),
		regionStreams: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdnpulse_streams_by_region",
			Help: "Active streams per CDN region",
		}, []string{"region"}),
		categoryStreams: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdnpulse_streams_by_category",
			Help: "Active streams per content category",
		}, []string{"category"}),

		snapshotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdnpulse_snapshots_total",
			Help: "Fleet snapshots produced",
		}),
		anomaliesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdnpulse_anomalies_total",
			Help: "Fleet snapshots flagged as anomalous",
		}),
		trainingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdnpulse_detector_trainings_total",
			Help: "Anomaly model fits",
		}),
		trainingSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cdnpulse_detector_training_samples",
			Help: "Samples used by the most recent anomaly model fit",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdnpulse_tick_duration_seconds",
			Help:    "Duration of one pipeline tick",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		droppedWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "cdnpulse_store_dropped_writes_total",
			Help: "Snapshots not mirrored because the queue was full or the breaker open",
		}),
		storeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cdnpulse_store_failures_total",
			Help: "Failed history store operations",
		}, []string{"operation"}),

		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cdnpulse_subscribers_connected",
			Help: "Connected websocket subscribers",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cdnpulse_subscriber_messages_total",
			Help: "Websocket messages by direction and type",
		}, []string{"direction", "type"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cdnpulse_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cdnpulse_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (p *PrometheusCollector) ObserveTick(duration time.Duration) {
	p.tickDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) ObserveSnapshot(s domain.FleetSnapshot, anomalous bool) {
	p.snapshotsTotal.Inc()
	if anomalous {
		p.anomaliesTotal.Inc()
	}
	p.latency.Set(s.Latency)
	p.bufferingEvents.Set(float64(s.Buffering))
	p.users.Set(float64(s.Users))
	p.bandwidthMbps.Set(s.TotalBandwidthMbps)
	p.activeStreams.Set(float64(s.ActiveStreams))
	for region, n := range s.RegionCounts {
		p.regionStreams.WithLabelValues(string(region)).Set(float64(n))
	}
	for category, n := range s.CategoryCounts {
		p.categoryStreams.WithLabelValues(string(category)).Set(float64(n))
	}
}

func (p *PrometheusCollector) ObserveTraining(samples int) {
	p.trainingsTotal.Inc()
	p.trainingSamples.Set(float64(samples))
}

func (p *PrometheusCollector) ObserveDroppedWrite() {
	p.droppedWrites.Inc()
}

func (p *PrometheusCollector) ObserveStoreFailure(operation string) {
	p.storeFailures.WithLabelValues(operation).Inc()
}

func (p *PrometheusCollector) ObserveSubscribers(n int) {
	p.subscribers.Set(float64(n))
}

func (p *PrometheusCollector) ObserveMessage(direction, messageType string) {
	p.messages.WithLabelValues(direction, messageType).Inc()
}

// ObserveHTTPRequest records one served request. path should be the route
// template, not the raw URL, to bound label cardinality.
func (p *PrometheusCollector) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	p.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	p.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
