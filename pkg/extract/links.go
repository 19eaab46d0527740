package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/utils"
)

// LinkExtractor resolves candidate product URLs from a listing page through
// an ordered chain of selection strategies: most specific structural selector
// first, progressively more generic. The first strategy that yields at least
// one valid candidate wins; strategies are never merged.
type LinkExtractor struct {
	base          *url.URL
	allowedDomain string
	strategies    []string
	hrefNoise     []string // Raw-href substrings that mark a non-product link
	pathNoise     []string // Resolved-URL substrings that mark a non-product page
	log           *logrus.Entry
}

// NewLinkExtractor builds an extractor from the site configuration.
func NewLinkExtractor(siteCfg config.SiteConfig, log *logrus.Logger) (*LinkExtractor, error) {
	base, err := url.Parse(siteCfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base URL %q: %w", utils.ErrParsing, siteCfg.BaseURL, err)
	}
	return &LinkExtractor{
		base:          base,
		allowedDomain: siteCfg.AllowedDomain,
		strategies:    siteCfg.LinkSelectors,
		hrefNoise:     siteCfg.LinkNoisePatterns,
		pathNoise:     siteCfg.PathNoisePatterns,
		log:           log.WithField("component", "link_extractor"),
	}, nil
}

// Extract returns the candidate product URLs of a listing document, absolute
// and deduplicated in first-seen order. An empty result means no strategy
// yielded an extractable link; the caller distinguishes that from the
// listing-exhausted sentinel itself.
func (le *LinkExtractor) Extract(doc *goquery.Document) []string {
	for _, selector := range le.strategies {
		candidates := le.collect(doc, selector)
		if len(candidates) > 0 {
			le.log.WithFields(logrus.Fields{"selector": selector, "count": len(candidates)}).
				Debug("Link strategy matched")
			return candidates
		}
	}
	le.log.Warn("No product links found by any strategy")
	return nil
}

// collect applies one selector strategy and filters its matches.
func (le *LinkExtractor) collect(doc *goquery.Document, selector string) []string {
	var valid []string
	seen := make(map[string]bool)

	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}

		lowerHref := strings.ToLower(href)
		for _, noise := range le.hrefNoise {
			if strings.Contains(lowerHref, noise) {
				return
			}
		}

		// Strip fragments before resolution
		if i := strings.IndexByte(href, '#'); i >= 0 {
			href = href[:i]
			if href == "" {
				return
			}
		}

		resolved, err := le.base.Parse(href)
		if err != nil {
			return
		}

		if !hostMatches(resolved.Hostname(), le.allowedDomain) {
			return
		}

		full := resolved.String()
		lowerFull := strings.ToLower(full)
		for _, noise := range le.pathNoise {
			if strings.Contains(lowerFull, noise) {
				return
			}
		}

		if seen[full] {
			return
		}
		seen[full] = true
		valid = append(valid, full)
	})

	return valid
}

// hostMatches accepts the domain itself and any subdomain of it.
func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
