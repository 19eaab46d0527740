package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig holds the adaptive retry policy for a single logical fetch
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts,omitempty"`   // Total attempts before terminal failure
	BaseTimeout   time.Duration `yaml:"base_timeout,omitempty"`   // Timeout for the first attempt
	MaxTimeout    time.Duration `yaml:"max_timeout,omitempty"`    // Ceiling for the per-attempt timeout
	BackoffFactor float64       `yaml:"backoff_factor,omitempty"` // Timeout multiplier per attempt
}

// PacingConfig holds the fixed politeness delays applied between units of work
type PacingConfig struct {
	ItemDelay    time.Duration `yaml:"item_delay,omitempty"`    // After each completed product
	PageDelay    time.Duration `yaml:"page_delay,omitempty"`    // After each completed listing page
	SitemapDelay time.Duration `yaml:"sitemap_delay,omitempty"` // Between sitemap document scans
}

// SentinelConfig identifies the listing-page marker that means "catalog exhausted"
type SentinelConfig struct {
	Selector string `yaml:"selector"` // e.g. ".alert.alert-warning"
	Text     string `yaml:"text"`     // Substring that must appear in the element text
}

// DetailSelectors holds the CSS selectors used on a product detail page.
// Comma-grouped selectors express ordered fallbacks within one field.
type DetailSelectors struct {
	Title         string `yaml:"title,omitempty"`
	SKU           string `yaml:"sku,omitempty"`
	Breadcrumb    string `yaml:"breadcrumb,omitempty"`
	OriginalPrice string `yaml:"original_price,omitempty"`
	DiscountPrice string `yaml:"discount_price,omitempty"`
	DiscountName  string `yaml:"discount_name,omitempty"`
	Profit        string `yaml:"profit,omitempty"`
}

// DuplicationRule duplicates matching records into a second category.
// Records whose category equals Category and whose name contains any of
// Keywords are emitted twice: once unchanged, once with TargetCategory.
type DuplicationRule struct {
	Category       string   `yaml:"category"`
	Keywords       []string `yaml:"keywords"`
	TargetCategory string   `yaml:"target_category"`
}

// FilterConfig holds the business exclusion and duplication rules.
// These are retailer taxonomy data, not algorithm: they ship in the config
// file rather than in code.
type FilterConfig struct {
	ExcludedCategory string          `yaml:"excluded_category,omitempty"`
	Keywords         []string        `yaml:"keywords,omitempty"` // Excluded when category is empty and name matches
	Duplication      DuplicationRule `yaml:"duplication,omitempty"`
}

// BacklogConfig describes the externally sourced identifier lists
type BacklogConfig struct {
	Table      string `yaml:"table,omitempty"`       // General backlog table in the sink
	ErrorTable string `yaml:"error_table,omitempty"` // Error backlog table in the sink
	Prefix     string `yaml:"prefix,omitempty"`      // Required leading digit(s) of an identifier
	Length     int    `yaml:"length,omitempty"`      // Required identifier length
}

// SiteConfig holds configuration specific to a single site crawl
type SiteConfig struct {
	BaseURL           string          `yaml:"base_url"`
	AllowedDomain     string          `yaml:"allowed_domain"`
	ListingURLFormat  string          `yaml:"listing_url_format"` // fmt string taking the page number
	LinkSelectors     []string        `yaml:"link_selectors,omitempty"`
	LinkNoisePatterns []string        `yaml:"link_noise_patterns,omitempty"` // Href substrings to reject pre-resolution
	PathNoisePatterns []string        `yaml:"path_noise_patterns,omitempty"` // URL substrings to reject post-resolution
	Sentinel          SentinelConfig  `yaml:"sentinel,omitempty"`
	Selectors         DetailSelectors `yaml:"selectors,omitempty"`
	BreadcrumbSkip    []string        `yaml:"breadcrumb_skip,omitempty"` // Generic entries such as the home label
	CurrencyMarker    string          `yaml:"currency_marker,omitempty"`
	Filter            FilterConfig    `yaml:"filter,omitempty"`
	Sitemaps          []string        `yaml:"sitemaps,omitempty"` // Ordered; lower-numbered documents win
	Backlog           BacklogConfig   `yaml:"backlog,omitempty"`
	OutputTable       string          `yaml:"output_table,omitempty"`
	UserAgent         string          `yaml:"user_agent,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent   string                `yaml:"default_user_agent"`
	Retry              RetryConfig           `yaml:"retry,omitempty"`
	Pacing             PacingConfig          `yaml:"pacing,omitempty"`
	CatalogConcurrency int                   `yaml:"catalog_concurrency,omitempty"` // In-flight fetch bound for the catalog crawl
	SitemapConcurrency int                   `yaml:"sitemap_concurrency,omitempty"` // In-flight fetch bound for sitemap lookups
	SiteConcurrency    int                   `yaml:"site_concurrency,omitempty"`    // Sites crawled in parallel when no single site is selected
	MaxPages           int                   `yaml:"max_pages,omitempty"`           // 0 = unbounded
	RespectRobots      bool                  `yaml:"respect_robots,omitempty"`
	SitemapCacheSize   int                   `yaml:"sitemap_cache_size,omitempty"`
	StateDir           string                `yaml:"state_dir,omitempty"` // Badger sink location
	HTTPClientSettings HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites              map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Load reads and parses the YAML config file at path
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// EffectiveUserAgent returns the site override or the global default
func EffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}
