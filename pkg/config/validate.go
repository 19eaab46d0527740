package config

import (
	"fmt"
	"strings"
	"time"

	"catalog-crawler/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Retry policy
	if c.Retry.MaxAttempts <= 0 {
		warnings = append(warnings, "retry.max_attempts should be > 0, defaulting to 3")
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseTimeout <= 0 {
		c.Retry.BaseTimeout = 20 * time.Second
	}
	if c.Retry.MaxTimeout <= 0 {
		c.Retry.MaxTimeout = 90 * time.Second
	}
	if c.Retry.BaseTimeout > c.Retry.MaxTimeout {
		warnings = append(warnings, fmt.Sprintf(
			"retry.base_timeout (%v) > retry.max_timeout (%v), using max_timeout as base",
			c.Retry.BaseTimeout, c.Retry.MaxTimeout))
		c.Retry.BaseTimeout = c.Retry.MaxTimeout
	}
	if c.Retry.BackoffFactor <= 1 {
		c.Retry.BackoffFactor = 2
	}

	// Pacing delays
	if c.Pacing.ItemDelay < 0 {
		warnings = append(warnings, "pacing.item_delay cannot be negative, setting to 0")
		c.Pacing.ItemDelay = 0
	}
	if c.Pacing.PageDelay < 0 {
		warnings = append(warnings, "pacing.page_delay cannot be negative, setting to 0")
		c.Pacing.PageDelay = 0
	}
	if c.Pacing.SitemapDelay < 0 {
		c.Pacing.SitemapDelay = 0
	}

	// Concurrency bounds: deliberately near-serial to stay under upstream
	// rate limiting, not a throughput knob
	if c.CatalogConcurrency <= 0 {
		c.CatalogConcurrency = 1
	}
	if c.SitemapConcurrency <= 0 {
		c.SitemapConcurrency = 2
	}
	if c.SiteConcurrency <= 0 {
		c.SiteConcurrency = 1
	}

	// MaxPages
	if c.MaxPages < 0 {
		warnings = append(warnings, "max_pages cannot be negative, setting to 0 (unbounded)")
		c.MaxPages = 0
	}

	// SitemapCacheSize
	if c.SitemapCacheSize <= 0 {
		c.SitemapCacheSize = 8
	}

	// StateDir
	if c.StateDir == "" {
		c.StateDir = "./crawler_state"
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		// Per-attempt timeouts come from the retry policy; this is a backstop
		h.Timeout = 2 * c.Retry.MaxTimeout
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 10
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 5
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: BaseURL
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: site has no base_url", utils.ErrConfigValidation)
	}

	// Required: AllowedDomain
	if c.AllowedDomain == "" {
		return nil, fmt.Errorf("%w: site needs allowed_domain", utils.ErrConfigValidation)
	}

	// Required: ListingURLFormat must take the page number
	if c.ListingURLFormat == "" {
		return nil, fmt.Errorf("%w: site needs listing_url_format", utils.ErrConfigValidation)
	}
	if !strings.Contains(c.ListingURLFormat, "%d") {
		return nil, fmt.Errorf("%w: listing_url_format must contain a %%d page placeholder", utils.ErrConfigValidation)
	}

	// Required: at least one link selection strategy
	if len(c.LinkSelectors) == 0 {
		return nil, fmt.Errorf("%w: site needs link_selectors", utils.ErrConfigValidation)
	}

	// Detail selector defaults
	if c.Selectors.Title == "" {
		c.Selectors.Title = "h1.title"
	}
	if c.Selectors.SKU == "" {
		c.Selectors.SKU = ".sku"
	}
	if c.Selectors.Breadcrumb == "" {
		c.Selectors.Breadcrumb = "ol.breadcrumb li"
	}
	if c.CurrencyMarker == "" {
		c.CurrencyMarker = "TL"
	}

	// Sentinel: missing selector means the crawl relies on empty extraction to stop
	if c.Sentinel.Selector == "" {
		warnings = append(warnings, "site has no sentinel selector; crawl ends only on empty link extraction")
	} else if c.Sentinel.Text == "" {
		warnings = append(warnings, "sentinel selector set but sentinel text empty; any element match will end the crawl")
	}

	// Duplication rule must be complete or absent
	d := c.Filter.Duplication
	if (d.Category != "" || d.TargetCategory != "" || len(d.Keywords) > 0) &&
		(d.Category == "" || d.TargetCategory == "" || len(d.Keywords) == 0) {
		return nil, fmt.Errorf("%w: filter.duplication needs category, keywords and target_category together", utils.ErrConfigValidation)
	}

	// Backlog identifier shape defaults (10-digit, prefix 3)
	if c.Backlog.Length <= 0 {
		c.Backlog.Length = 10
	}
	if c.Backlog.Prefix == "" {
		c.Backlog.Prefix = "3"
	}

	if c.OutputTable == "" {
		c.OutputTable = "products"
	}

	return warnings, nil
}
