package sitemap

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"catalog-crawler/pkg/fetch"
	"catalog-crawler/pkg/metrics"
	"catalog-crawler/pkg/utils"
)

// ErrNotFound means the identifier appears in none of the configured sitemap
// documents.
var ErrNotFound = errors.New("identifier not found in any sitemap")

// Resolver locates the detail URL for a product identifier by scanning a
// fixed ordered list of static sitemap documents. Order is significant:
// lower-numbered sitemaps are checked first, so a match is deterministic even
// if an identifier could appear in more than one document. Fetched documents
// are cached so one identifier batch does not refetch the same XML per item.
type Resolver struct {
	fetcher  *fetch.Fetcher
	gate     *fetch.Gate
	sitemaps []string
	cache    *lru.Cache[string, *XMLURLSet]
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewResolver creates a Resolver over the ordered sitemap URL list.
func NewResolver(fetcher *fetch.Fetcher, gate *fetch.Gate, sitemaps []string, cacheSize int, log *logrus.Logger) (*Resolver, error) {
	cache, err := lru.New[string, *XMLURLSet](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("sitemap cache: %w", err)
	}
	return &Resolver{
		fetcher:  fetcher,
		gate:     gate,
		sitemaps: sitemaps,
		cache:    cache,
		log:      log.WithField("component", "sitemap_resolver"),
	}, nil
}

// SetMetrics installs optional instrumentation.
func (r *Resolver) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Resolve returns the first sitemap location containing identifier as a
// substring, scanning documents in configured order. Returns ErrNotFound
// only after the full list is exhausted; individual document failures are
// logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	idLog := r.log.WithField("identifier", identifier)

	for i, sitemapURL := range r.sitemaps {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		urlSet, err := r.urlSet(ctx, sitemapURL)
		if err != nil {
			idLog.WithField("sitemap", sitemapURL).Warnf("Sitemap scan failed: %v", err)
		} else {
			for _, entry := range urlSet.URLs {
				if strings.Contains(entry.Loc, identifier) {
					idLog.WithField("sitemap_index", i+1).Debug("Identifier resolved")
					r.metrics.IncSitemapLookup("found")
					return entry.Loc, nil
				}
			}
		}

		// Short pause between document scans
		if err := r.gate.SitemapPause(ctx); err != nil {
			return "", err
		}
	}

	idLog.Debug("Identifier not present in any sitemap")
	r.metrics.IncSitemapLookup("not_found")
	return "", ErrNotFound
}

// urlSet fetches and parses one sitemap document, serving repeats from cache.
func (r *Resolver) urlSet(ctx context.Context, sitemapURL string) (*XMLURLSet, error) {
	if cached, ok := r.cache.Get(sitemapURL); ok {
		return cached, nil
	}

	body, err := r.fetcher.FetchBytes(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	var urlSet XMLURLSet
	if err := xml.Unmarshal(body, &urlSet); err != nil {
		return nil, fmt.Errorf("%w: XML unmarshal of %s: %w", utils.ErrParsing, sitemapURL, err)
	}

	r.cache.Add(sitemapURL, &urlSet)
	r.log.WithFields(logrus.Fields{"sitemap": sitemapURL, "urls": len(urlSet.URLs)}).
		Debug("Cached sitemap document")
	return &urlSet, nil
}
