package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline metrics. It satisfies voyage.Metrics.
type Collector struct {
	reg *prometheus.Registry

	LegsResolved   prometheus.Counter
	LegsUnresolved prometheus.Counter

	RoutedHops    prometheus.Counter
	RouteFallback prometheus.Counter

	Features *prometheus.CounterVec // kind label: voyage|segment|port

	Builds        *prometheus.CounterVec // kind, result labels
	BuildDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		LegsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voyages_legs_resolved_total",
			Help: "Trip leg lookups that found their port in the index.",
		}),
		LegsUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voyages_legs_unresolved_total",
			Help: "Trip leg lookups skipped because the port is unknown.",
		}),
		RoutedHops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voyages_routed_hops_total",
			Help: "Hops routed around land.",
		}),
		RouteFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voyages_routing_fallbacks_total",
			Help: "Hops that fell back to a direct segment after a routing failure.",
		}),
		Features: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voyages_features_emitted_total",
			Help: "Features written to outputs.",
		}, []string{"kind"}),
		Builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voyages_builds_total",
			Help: "Completed pipeline runs.",
		}, []string{"kind", "result"}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voyages_build_duration_seconds",
			Help:    "Duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voyages_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voyages_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
	}

	reg.MustRegister(
		c.LegsResolved, c.LegsUnresolved,
		c.RoutedHops, c.RouteFallback,
		c.Features, c.Builds, c.BuildDuration,
		c.NATSPublished, c.NATSPublishErrs,
	)
	return c
}

func (c *Collector) LegResolved()               { c.LegsResolved.Inc() }
func (c *Collector) LegUnresolved()             { c.LegsUnresolved.Inc() }
func (c *Collector) RoutingSucceeded()          { c.RoutedHops.Inc() }
func (c *Collector) RoutingFallback()           { c.RouteFallback.Inc() }
func (c *Collector) FeatureEmitted(kind string) { c.Features.WithLabelValues(kind).Inc() }

// BuildFinished records one pipeline run.
func (c *Collector) BuildFinished(kind string, seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Builds.WithLabelValues(kind, result).Inc()
	c.BuildDuration.Observe(seconds)
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
