package orchestrate

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/crawler"
	"catalog-crawler/pkg/fetch"
	"catalog-crawler/pkg/metrics"
	"catalog-crawler/pkg/sink"
	"catalog-crawler/pkg/sitemap"
)

// SiteResult contains the result of crawling a single site
type SiteResult struct {
	SiteKey  string
	Success  bool
	Err      error
	Stats    crawler.Stats
	Duration time.Duration
}

// SinkFactory builds the sink for one site's tables.
type SinkFactory func(siteKey string, siteCfg config.SiteConfig) (sink.Sink, error)

// Orchestrator crawls every configured site, bounded by site_concurrency.
// The HTTP client is shared across sites; gates, fetchers, resolvers, and
// sinks are per-site, so one slow or failing site never stalls another's
// pipeline.
type Orchestrator struct {
	appCfg      *config.AppConfig
	siteKeys    []string
	sinkFactory SinkFactory
	metrics     *metrics.Metrics
	logger      *logrus.Logger
	log         *logrus.Entry

	httpClient      *http.Client
	siteSem         *semaphore.Weighted
	siteConcurrency int

	results   []SiteResult
	resultsMu sync.Mutex
}

// New creates an orchestrator over the given site keys. With an empty key
// list every configured site is crawled, in deterministic key order.
func New(appCfg *config.AppConfig, siteKeys []string, sinkFactory SinkFactory, logger *logrus.Logger) *Orchestrator {
	if len(siteKeys) == 0 {
		for key := range appCfg.Sites {
			siteKeys = append(siteKeys, key)
		}
		sort.Strings(siteKeys)
	}

	// An unvalidated config must not yield a zero-capacity semaphore
	siteConcurrency := appCfg.SiteConcurrency
	if siteConcurrency < 1 {
		siteConcurrency = 1
	}

	return &Orchestrator{
		appCfg:          appCfg,
		siteKeys:        siteKeys,
		sinkFactory:     sinkFactory,
		logger:          logger,
		log:             logger.WithField("component", "orchestrator"),
		httpClient:      fetch.NewClient(appCfg.HTTPClientSettings, logger),
		siteSem:         semaphore.NewWeighted(int64(siteConcurrency)),
		siteConcurrency: siteConcurrency,
	}
}

// SetMetrics installs optional instrumentation shared by all site crawls.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) { o.metrics = m }

// Run crawls all selected sites and returns one result per site, in input
// order. A site failure is recorded, not propagated: the remaining sites
// still run.
func (o *Orchestrator) Run(ctx context.Context) []SiteResult {
	o.log.WithFields(logrus.Fields{
		"sites":       len(o.siteKeys),
		"concurrency": o.siteConcurrency,
	}).Info("Starting multi-site crawl")

	o.results = make([]SiteResult, len(o.siteKeys))

	var wg sync.WaitGroup
	for i, key := range o.siteKeys {
		if err := o.siteSem.Acquire(ctx, 1); err != nil {
			o.setResult(i, SiteResult{SiteKey: key, Err: err})
			continue
		}
		wg.Add(1)
		go func(idx int, siteKey string) {
			defer wg.Done()
			defer o.siteSem.Release(1)
			o.setResult(idx, o.crawlSite(ctx, siteKey))
		}(i, key)
	}
	wg.Wait()

	for _, res := range o.results {
		entry := o.log.WithFields(logrus.Fields{
			"site":     res.SiteKey,
			"duration": res.Duration.Round(time.Millisecond),
			"accepted": res.Stats.Accepted,
		})
		if res.Success {
			entry.Info("Site crawl succeeded")
		} else {
			entry.Errorf("Site crawl failed: %v", res.Err)
		}
	}
	return o.results
}

func (o *Orchestrator) setResult(idx int, res SiteResult) {
	o.resultsMu.Lock()
	o.results[idx] = res
	o.resultsMu.Unlock()
}

// crawlSite assembles one site's pipeline and runs it to completion.
func (o *Orchestrator) crawlSite(ctx context.Context, siteKey string) SiteResult {
	start := time.Now()
	result := SiteResult{SiteKey: siteKey}
	finish := func() SiteResult {
		result.Duration = time.Since(start)
		return result
	}

	siteCfg, ok := o.appCfg.Sites[siteKey]
	if !ok {
		result.Err = fmt.Errorf("site key %q not found in configuration", siteKey)
		return finish()
	}
	warnings, err := siteCfg.Validate()
	if err != nil {
		result.Err = fmt.Errorf("site %q configuration: %w", siteKey, err)
		return finish()
	}
	for _, w := range warnings {
		o.log.Warnf("[%s] %s", siteKey, w)
	}

	store, err := o.sinkFactory(siteKey, siteCfg)
	if err != nil {
		result.Err = fmt.Errorf("site %q sink: %w", siteKey, err)
		return finish()
	}
	defer store.Close()

	userAgent := config.EffectiveUserAgent(siteCfg, *o.appCfg)
	catalogGate := fetch.NewGate(o.appCfg.CatalogConcurrency, o.appCfg.Pacing,
		o.log.WithField("site", siteKey))
	sitemapGate := fetch.NewGate(o.appCfg.SitemapConcurrency, o.appCfg.Pacing,
		o.log.WithField("site", siteKey))

	fetcher := fetch.NewFetcher(o.httpClient, catalogGate, o.appCfg.Retry, userAgent, o.logger)
	fetcher.SetMetrics(o.metrics)
	sitemapFetcher := fetch.NewFetcher(o.httpClient, sitemapGate, o.appCfg.Retry, userAgent, o.logger)
	sitemapFetcher.SetMetrics(o.metrics)

	if o.appCfg.RespectRobots {
		robots := fetch.NewRobotsGate(o.httpClient, userAgent, o.log.WithField("site", siteKey))
		fetcher.SetRobots(robots)
		sitemapFetcher.SetRobots(robots)
	}

	var resolver *sitemap.Resolver
	if len(siteCfg.Sitemaps) > 0 {
		resolver, err = sitemap.NewResolver(sitemapFetcher, sitemapGate, siteCfg.Sitemaps,
			o.appCfg.SitemapCacheSize, o.logger)
		if err != nil {
			result.Err = fmt.Errorf("site %q resolver: %w", siteKey, err)
			return finish()
		}
		resolver.SetMetrics(o.metrics)
	}

	c, err := crawler.New(siteCfg, o.appCfg.MaxPages, fetcher, catalogGate, resolver, store, o.logger)
	if err != nil {
		result.Err = fmt.Errorf("site %q crawler: %w", siteKey, err)
		return finish()
	}
	c.SetMetrics(o.metrics)

	if err := c.Run(ctx); err != nil {
		result.Err = err
		result.Stats = c.Stats()
		return finish()
	}

	result.Success = true
	result.Stats = c.Stats()
	return finish()
}
