package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry. A nil *Collector is valid and records nothing.
type Collector struct {
	reg *prometheus.Registry

	SamplesIngested prometheus.Counter
	SamplesRejected *prometheus.CounterVec // reason label: validation|unknown_route
	Evaluations     *prometheus.CounterVec // status label: on_time|delayed|early
	EvalDuration    prometheus.Histogram

	TrackedVehicles prometheus.Gauge
	DelayedVehicles prometheus.Gauge
	WSClients       prometheus.Gauge

	RoutesLoaded  prometheus.Gauge
	RouteReloads  *prometheus.CounterVec // result label: applied|unchanged|failed
	ArrivalsSaved prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		SamplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusbus_samples_ingested_total",
			Help: "Total position samples accepted.",
		}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusbus_samples_rejected_total",
			Help: "Total position samples rejected.",
		}, []string{"reason"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusbus_evaluations_total",
			Help: "Tracking evaluations by resulting delay status.",
		}, []string{"status"}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campusbus_evaluation_duration_seconds",
			Help:    "Duration of one tracking evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		TrackedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusbus_tracked_vehicles",
			Help: "Vehicles currently tracked.",
		}),
		DelayedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusbus_delayed_vehicles",
			Help: "Tracked vehicles currently flagged as delayed.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusbus_ws_clients",
			Help: "Connected WebSocket clients.",
		}),
		RoutesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusbus_routes_loaded",
			Help: "Routes in the active catalogue.",
		}),
		RouteReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusbus_route_reloads_total",
			Help: "Route catalogue reload attempts by result.",
		}, []string{"result"}),
		ArrivalsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusbus_arrivals_recorded_total",
			Help: "Waypoint arrivals written to history.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusbus_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusbus_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusbus_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campusbus_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusbus_refresh_interval_seconds",
			Help: "Refresh loop interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.SamplesIngested, c.SamplesRejected, c.Evaluations, c.EvalDuration,
		c.TrackedVehicles, c.DelayedVehicles, c.WSClients,
		c.RoutesLoaded, c.RouteReloads, c.ArrivalsSaved,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.RefreshInterval,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) SampleIngested() {
	if c == nil {
		return
	}
	c.SamplesIngested.Inc()
}

func (c *Collector) SampleRejected(reason string) {
	if c == nil {
		return
	}
	c.SamplesRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) EvaluationObserve(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Evaluations.WithLabelValues(status).Inc()
	c.EvalDuration.Observe(d.Seconds())
}

func (c *Collector) SetFleet(tracked, delayed int) {
	if c == nil {
		return
	}
	c.TrackedVehicles.Set(float64(tracked))
	c.DelayedVehicles.Set(float64(delayed))
}

func (c *Collector) SetWSClients(n int) {
	if c == nil {
		return
	}
	c.WSClients.Set(float64(n))
}

func (c *Collector) RouteReload(result string, routes int) {
	if c == nil {
		return
	}
	c.RouteReloads.WithLabelValues(result).Inc()
	if result == "applied" {
		c.RoutesLoaded.Set(float64(routes))
	}
}

func (c *Collector) ArrivalRecorded() {
	if c == nil {
		return
	}
	c.ArrivalsSaved.Inc()
}

// NATS publisher hooks

func (c *Collector) NATSPublishedInc() {
	if c == nil {
		return
	}
	c.NATSPublished.Inc()
}

func (c *Collector) NATSPublishErrInc() {
	if c == nil {
		return
	}
	c.NATSPublishErrs.Inc()
}

func (c *Collector) PublishObserve(d time.Duration) {
	if c == nil {
		return
	}
	c.PublishDuration.Observe(d.Seconds())
}

func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
