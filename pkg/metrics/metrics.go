package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a crawl run.
// All methods are nil-safe so components can run without instrumentation.
type Metrics struct {
	Registry         *prometheus.Registry
	FetchesTotal     *prometheus.CounterVec
	FetchDuration    prometheus.Histogram
	RetriesTotal     prometheus.Counter
	PagesTotal       prometheus.Counter
	RecordsTotal     *prometheus.CounterVec
	FlushesTotal     *prometheus.CounterVec
	SitemapHitsTotal *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetches_total",
			Help: "Total fetch attempts by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch latency including retries.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total retry attempts scheduled by the fetcher.",
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Total listing pages processed.",
		},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_records_total",
			Help: "Total product records by disposition.",
		},
		[]string{"disposition"}, // accepted, rejected, filtered, duplicated
	)
	flushes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_flushes_total",
			Help: "Total checkpoint flushes to the sink by outcome.",
		},
		[]string{"outcome"},
	)
	sitemapHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_sitemap_lookups_total",
			Help: "Total sitemap identifier lookups by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(fetches, fetchDuration, retries, pages, records, flushes, sitemapHits)

	return &Metrics{
		Registry:         registry,
		FetchesTotal:     fetches,
		FetchDuration:    fetchDuration,
		RetriesTotal:     retries,
		PagesTotal:       pages,
		RecordsTotal:     records,
		FlushesTotal:     flushes,
		SitemapHitsTotal: sitemapHits,
	}
}

// IncFetch increments the fetch counter for an outcome label.
func (m *Metrics) IncFetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records a full fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncRetry increments the retry counter.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncPage increments the pages counter.
func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncRecord increments the record counter for a disposition label.
func (m *Metrics) IncRecord(disposition string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(disposition).Inc()
}

// IncFlush increments the flush counter for an outcome label.
func (m *Metrics) IncFlush(outcome string) {
	if m == nil {
		return
	}
	m.FlushesTotal.WithLabelValues(outcome).Inc()
}

// IncSitemapLookup increments the sitemap lookup counter for an outcome label.
func (m *Metrics) IncSitemapLookup(outcome string) {
	if m == nil {
		return
	}
	m.SitemapHitsTotal.WithLabelValues(outcome).Inc()
}
