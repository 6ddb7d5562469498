package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "civicfix"

// Metrics holds the Prometheus counters, histograms, and gauges for report intake.
type Metrics struct {
	Submissions *prometheus.CounterVec // labels: outcome={created,duplicate,queued,invalid,upload_failed,persist_failed,cancelled,queue_failed}

	// Duplicate detection metrics.
	DuplicateChecks        *prometheus.CounterVec // labels: outcome={none,found,error}
	DuplicateCheckDuration prometheus.Histogram

	// Asset storage metrics.
	AssetUploads  *prometheus.CounterVec // labels: kind={photo,identity,after}, outcome={success,error}
	AssetCleanups *prometheus.CounterVec // labels: outcome={success,error}

	// Offline queue metrics.
	DraftsQueued    prometheus.Counter
	DraftsReplayed  *prometheus.CounterVec // labels: outcome={success,error}
	DraftQueueDepth prometheus.Gauge

	// Domain event metrics.
	EventsEmitted      *prometheus.CounterVec // labels: name
	EventsDropped      prometheus.Counter
	EventPublishErrors prometheus.Counter

	ConnectivityOnline prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)

	prometheus.MustRegister(
		m.Submissions,
		m.DuplicateChecks,
		m.DuplicateCheckDuration,
		m.AssetUploads,
		m.AssetCleanups,
		m.DraftsQueued,
		m.DraftsReplayed,
		m.DraftQueueDepth,
		m.EventsEmitted,
		m.EventsDropped,
		m.EventPublishErrors,
		m.ConnectivityOnline,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}

	return &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      help("Issue submissions by outcome."),
		}, []string{"outcome"}),
		DuplicateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_checks_total",
			Help:      help("Nearby-duplicate lookups by outcome."),
		}, []string{"outcome"}),
		DuplicateCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duplicate_check_duration_seconds",
			Help:      help("Duration of a nearby-duplicate lookup."),
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		AssetUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_uploads_total",
			Help:      help("Attachment uploads by kind and outcome."),
		}, []string{"kind", "outcome"}),
		AssetCleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_cleanups_total",
			Help:      help("Deletions of orphaned attachments after a failed submission."),
		}, []string{"outcome"}),
		DraftsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drafts_queued_total",
			Help:      help("Submissions saved to the offline queue."),
		}),
		DraftsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drafts_replayed_total",
			Help:      help("Offline drafts replayed by outcome."),
		}, []string{"outcome"}),
		DraftQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "draft_queue_depth",
			Help:      help("Drafts waiting in the offline queue."),
		}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      help("Domain events accepted for publishing."),
		}, []string{"name"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      help("Domain events dropped because the buffer was full."),
		}),
		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      help("Domain events the sink failed to accept."),
		}),
		ConnectivityOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_online",
			Help:      help("1 when the record store is reachable, 0 otherwise."),
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      help("Geocoding API requests by method and outcome."),
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      help("Geocoding cache lookups by method and result."),
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      help("Mapbox API request duration in seconds."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      help("1 when address autofill is enabled, 0 otherwise."),
		}),
	}
}
