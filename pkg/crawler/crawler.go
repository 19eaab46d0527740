package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/extract"
	"catalog-crawler/pkg/fetch"
	"catalog-crawler/pkg/filter"
	"catalog-crawler/pkg/metrics"
	"catalog-crawler/pkg/models"
	"catalog-crawler/pkg/sink"
	"catalog-crawler/pkg/sitemap"
	"catalog-crawler/pkg/utils"
	"catalog-crawler/pkg/validate"
)

// Crawler walks one site's catalog and persists the extracted records. It
// runs in two modes: the paginated listing walk, and the identifier-list
// walk used for the backlog and error tables. A single Crawler serves one
// run; record accumulation is cumulative across both modes.
type Crawler struct {
	site     config.SiteConfig
	maxPages int

	fetcher  *fetch.Fetcher
	gate     *fetch.Gate
	links    *extract.LinkExtractor
	details  *extract.DetailExtractor
	filter   *filter.Filter
	resolver *sitemap.Resolver
	store    sink.Sink
	metrics  *metrics.Metrics

	runID string
	state *CrawlState
	stats Stats
	log   *logrus.Entry
}

// New assembles a Crawler for one site. resolver may be nil when the site
// has no sitemaps configured; the identifier modes then report every
// identifier as unresolvable.
func New(site config.SiteConfig, maxPages int, fetcher *fetch.Fetcher, gate *fetch.Gate, resolver *sitemap.Resolver, store sink.Sink, logger *logrus.Logger) (*Crawler, error) {
	links, err := extract.NewLinkExtractor(site, logger)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	return &Crawler{
		site:     site,
		maxPages: maxPages,
		fetcher:  fetcher,
		gate:     gate,
		links:    links,
		details:  extract.NewDetailExtractor(site, logger),
		filter:   filter.New(site.Filter, logger),
		resolver: resolver,
		store:    store,
		runID:    runID,
		state:    NewCrawlState(),
		log: logger.WithFields(logrus.Fields{
			"component": "crawler",
			"run_id":    runID,
			"site":      site.AllowedDomain,
		}),
	}, nil
}

// SetMetrics installs optional instrumentation.
func (c *Crawler) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// Stats returns a copy of the run counters.
func (c *Crawler) Stats() Stats { return c.stats }

// Run executes a full crawl: the paginated listing walk, then the backlog
// and error-table passes, then the final flush and summary.
func (c *Crawler) Run(ctx context.Context) error {
	start := time.Now()
	c.log.Info("Starting crawl run")

	if err := c.RunPaginated(ctx); err != nil {
		return err
	}
	if err := c.RunBacklog(ctx); err != nil {
		return err
	}
	if err := c.checkpoint(ctx); err != nil {
		return err
	}

	c.logSummary(time.Since(start))
	return nil
}

// RunPaginated walks the listing pages in order until a stop condition:
// the not-found sentinel, a page yielding no product links, the page cap,
// or exhausted retries on the listing fetch itself. Exhausted retries end
// the walk with whatever was collected; they do not fail the run. The
// snapshot is flushed to the output table after every completed page.
func (c *Crawler) RunPaginated(ctx context.Context) error {
	for page := 1; c.maxPages <= 0 || page <= c.maxPages; page++ {
		pageURL := fmt.Sprintf(c.site.ListingURLFormat, page)
		pageLog := c.log.WithFields(logrus.Fields{"page": page, "url": pageURL})

		doc, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pageLog.Warnf("Listing fetch failed, ending pagination: %v", err)
			break
		}
		if c.hitSentinel(doc) {
			pageLog.Info("Not-found sentinel reached, ending pagination")
			break
		}

		urls := c.links.Extract(doc)
		if len(urls) == 0 {
			pageLog.Info("No product links extracted, ending pagination")
			break
		}

		c.stats.Pages++
		c.metrics.IncPage()
		pageLog.WithField("links", len(urls)).Info("Processing listing page")

		for _, detailURL := range urls {
			if err := c.processItem(ctx, detailURL); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if err := c.gate.ItemPause(ctx); err != nil {
				return err
			}
		}

		if err := c.checkpoint(ctx); err != nil {
			return err
		}
		if err := c.gate.PagePause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RunIdentifiers resolves each identifier through the sitemaps and processes
// the matching detail page. Returns the identifiers that could not be
// resolved or whose detail fetch failed, for the error-table bookkeeping.
func (c *Crawler) RunIdentifiers(ctx context.Context, ids []string) ([]string, error) {
	var failed []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return failed, err
		}

		detailURL, err := c.resolve(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			if errors.Is(err, sitemap.ErrNotFound) {
				c.stats.NotFound++
				c.log.WithField("identifier", id).Debug("Identifier not found in sitemaps")
			} else {
				c.log.WithField("identifier", id).Warnf("Identifier resolution failed: %v", err)
			}
			failed = append(failed, id)
			continue
		}

		if err := c.processItem(ctx, detailURL); err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			failed = append(failed, id)
		}
		if err := c.gate.ItemPause(ctx); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

func (c *Crawler) resolve(ctx context.Context, id string) (string, error) {
	if c.resolver == nil {
		return "", sitemap.ErrNotFound
	}
	return c.resolver.Resolve(ctx, id)
}

// RunBacklog processes the backlog table, then the error table, and finally
// overwrites the error table with the identifiers that failed again this
// run. The error table is therefore self-draining: an identifier leaves it
// as soon as one run handles it successfully.
func (c *Crawler) RunBacklog(ctx context.Context) error {
	backlog := c.site.Backlog
	if backlog.Table == "" && backlog.ErrorTable == "" {
		return nil
	}

	var stillFailing []string
	for _, table := range []string{backlog.Table, backlog.ErrorTable} {
		if table == "" {
			continue
		}
		raw, err := c.store.ReadIdentifiers(ctx, table)
		if err != nil {
			c.log.WithField("table", table).Warnf("Cannot read identifier table: %v", err)
			continue
		}
		ids := sink.FilterIdentifiers(raw, backlog)
		c.log.WithFields(logrus.Fields{"table": table, "identifiers": len(ids)}).
			Info("Processing identifier table")

		failed, err := c.RunIdentifiers(ctx, ids)
		stillFailing = append(stillFailing, failed...)
		if err != nil {
			return err
		}
	}

	if backlog.ErrorTable != "" {
		rows := identifierRows(stillFailing)
		if err := c.store.ReplaceTable(ctx, backlog.ErrorTable, rows); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warnf("Error table rewrite failed: %v", err)
		} else {
			c.log.WithField("identifiers", len(rows)).Info("Rewrote error table")
		}
	}
	return nil
}

// checkpoint flushes the current snapshot, absorbing sink failures: the
// accumulator is untouched, so the next flush retries the full snapshot.
// Only context cancellation ends the run.
func (c *Crawler) checkpoint(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.stats.FlushErrors++
		c.log.Warnf("Checkpoint flush failed, keeping snapshot for retry: %v", err)
	}
	return nil
}

// Flush overwrites the output table with the duplication-expanded snapshot
// of everything accepted so far.
func (c *Crawler) Flush(ctx context.Context) error {
	records := c.state.Records()
	rows := c.filter.ExpandDuplicates(records)
	c.stats.Duplicated = len(rows) - len(records)

	if err := c.store.ReplaceTable(ctx, c.site.OutputTable, rows); err != nil {
		c.metrics.IncFlush("error")
		return fmt.Errorf("flushing output table: %w", err)
	}
	c.metrics.IncFlush("success")
	c.stats.Flushes++
	c.log.WithField("rows", len(rows)).Debug("Flushed snapshot")
	return nil
}

// processItem runs one detail page through the pipeline. Pipeline-level
// dispositions (no record, validation rejection, filter exclusion) are
// absorbed into the run counters; only fetch failures surface as errors so
// the identifier modes can track them.
func (c *Crawler) processItem(ctx context.Context, detailURL string) error {
	itemLog := c.log.WithField("url", detailURL)

	if !c.state.MarkSeen(detailURL) {
		itemLog.Debug("Already processed this run, skipping")
		return nil
	}

	doc, err := c.fetcher.Fetch(ctx, detailURL)
	if err != nil {
		c.stats.FetchErrors++
		itemLog.WithField("category", utils.CategorizeError(err)).
			Warnf("Detail fetch failed: %v", err)
		return err
	}
	if c.hitSentinel(doc) {
		c.stats.NoRecord++
		c.metrics.IncRecord("rejected")
		itemLog.Debug("Detail page shows not-found sentinel")
		return nil
	}

	raw, err := c.details.Extract(doc, detailURL)
	if err != nil {
		c.stats.NoRecord++
		c.metrics.IncRecord("rejected")
		return nil
	}

	rec, err := validate.Record(raw)
	if err != nil {
		c.stats.Rejected++
		c.metrics.IncRecord("rejected")
		itemLog.Debugf("Record rejected: %v", err)
		return nil
	}

	if c.filter.ShouldExclude(rec) {
		c.stats.Filtered++
		c.metrics.IncRecord("filtered")
		return nil
	}

	c.state.Append(*rec)
	c.stats.Accepted++
	c.metrics.IncRecord("accepted")
	itemLog.WithField("name", rec.FullName).Debug("Record accepted")
	return nil
}

// hitSentinel reports whether the document carries the configured
// product-not-found marker.
func (c *Crawler) hitSentinel(doc *goquery.Document) bool {
	sentinel := c.site.Sentinel
	if sentinel.Selector == "" {
		return false
	}
	found := false
	doc.Find(sentinel.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if sentinel.Text == "" || strings.Contains(s.Text(), sentinel.Text) {
			found = true
			return false
		}
		return true
	})
	return found
}

func (c *Crawler) logSummary(elapsed time.Duration) {
	c.log.WithFields(logrus.Fields{
		"pages":        c.stats.Pages,
		"accepted":     c.stats.Accepted,
		"rejected":     c.stats.Rejected,
		"filtered":     c.stats.Filtered,
		"no_record":    c.stats.NoRecord,
		"fetch_errors": c.stats.FetchErrors,
		"not_found":    c.stats.NotFound,
		"duplicated":   c.stats.Duplicated,
		"flushes":      c.stats.Flushes,
		"flush_errors": c.stats.FlushErrors,
		"elapsed":      elapsed.Round(time.Millisecond),
	}).Info("Crawl run finished")

	perCategory := make(map[string]int)
	for _, rec := range c.state.Records() {
		perCategory[rec.Category]++
	}
	for category, count := range perCategory {
		c.log.WithFields(logrus.Fields{"category": category, "records": count}).
			Info("Category total")
	}
}

// identifierRows wraps bare identifiers as rows for the error table.
func identifierRows(ids []string) []models.ProductRecord {
	rows := make([]models.ProductRecord, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, models.ProductRecord{SKU: id, FullName: id})
	}
	return rows
}
