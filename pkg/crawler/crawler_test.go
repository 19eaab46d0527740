package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/fetch"
	"catalog-crawler/pkg/models"
	"catalog-crawler/pkg/sink"
	"catalog-crawler/pkg/sitemap"
)

// memSink is an in-memory Sink capturing every table replacement.
type memSink struct {
	mu       sync.Mutex
	tables   map[string][]models.ProductRecord
	replaced map[string]int
}

func newMemSink() *memSink {
	return &memSink{
		tables:   make(map[string][]models.ProductRecord),
		replaced: make(map[string]int),
	}
}

func (m *memSink) ReplaceTable(_ context.Context, table string, rows []models.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]models.ProductRecord, len(rows))
	copy(stored, rows)
	m.tables[table] = stored
	m.replaced[table]++
	return nil
}

func (m *memSink) ReadIdentifiers(_ context.Context, table string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, rec := range m.tables[table] {
		if rec.SKU != "" {
			ids = append(ids, rec.SKU)
		}
	}
	return ids, nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) rows(table string) []models.ProductRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[table]
}

func (m *memSink) replaceCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaced[table]
}

// failOnceSink rejects the first table replacement, then behaves normally.
type failOnceSink struct {
	*memSink
	failed bool
}

func (f *failOnceSink) ReplaceTable(ctx context.Context, table string, rows []models.ProductRecord) error {
	if !f.failed {
		f.failed = true
		return errors.New("sink temporarily unavailable")
	}
	return f.memSink.ReplaceTable(ctx, table, rows)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func productHTML(collection, name, sku, category, price string) string {
	return fmt.Sprintf(`<html><body>
		<ol class="breadcrumb"><li>Ana Sayfa</li><li>%s</li></ol>
		<h1 class="title"><span>%s</span> %s</h1>
		<div class="sku">Kod: %s</div>
		<div class="sale-price blc">%s</div>
	</body></html>`, category, collection, name, sku, price)
}

// testSite wires an httptest server with one listing page of three products
// (two valid, one category landing page), a sentinel second page, a product
// sitemap, and one extra detail page reachable only through the sitemap.
// The returned func reports how many listing pages were fetched.
func testSite(t *testing.T) (*httptest.Server, func() int) {
	t.Helper()
	mux := http.NewServeMux()

	var mu sync.Mutex
	listingHits := 0

	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		listingHits++
		mu.Unlock()
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `<html><body><div class="alert alert-warning">Ürün bulunamadı</div></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><div class="card-product">
			<a href="/p/1">one</a>
			<a href="/p/2">two</a>
			<a href="/p/3">landing</a>
		</div></body></html>`)
	})

	mux.HandleFunc("/p/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, productHTML("Lizbon", "Yatak", "3001111111", "Yatak Odası", "45.000 TL"))
	})
	mux.HandleFunc("/p/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, productHTML("Roma", "Komodin", "3002222222", "Yemek Odası", "12.500 TL"))
	})
	mux.HandleFunc("/p/3", func(w http.ResponseWriter, r *http.Request) {
		// Collection label with no product name: not a record
		fmt.Fprint(w, `<html><body><h1 class="title"><span>Lizbon</span></h1></body></html>`)
	})
	mux.HandleFunc("/p/9", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, productHTML("Milano", "Koltuk", "3009999999", "Salon", "30.000 TL"))
	})

	mux.HandleFunc("/sitemap/1.xml", func(w http.ResponseWriter, r *http.Request) {
		host := "http://" + r.Host
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url><loc>%s/p/9?sku=3009999999</loc></url>
</urlset>`, host)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, func() int {
		mu.Lock()
		defer mu.Unlock()
		return listingHits
	}
}

func testSiteConfig(t *testing.T, serverURL string) config.SiteConfig {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)

	return config.SiteConfig{
		BaseURL:          serverURL,
		AllowedDomain:    u.Hostname(),
		ListingURLFormat: serverURL + "/list?page=%d",
		LinkSelectors:    []string{".card-product a"},
		Sentinel:         config.SentinelConfig{Selector: ".alert.alert-warning", Text: "Ürün bulunamadı"},
		Selectors: config.DetailSelectors{
			Title:         "h1.title",
			SKU:           ".sku",
			Breadcrumb:    "ol.breadcrumb li",
			OriginalPrice: ".sale-price.sale-variant-price, .sale-price.blc",
			DiscountPrice: ".discount-price, .new-sale-price",
		},
		BreadcrumbSkip: []string{"Ana Sayfa", "Home"},
		CurrencyMarker: "TL",
		Filter: config.FilterConfig{
			ExcludedCategory: "Doğtaş Home",
			Duplication: config.DuplicationRule{
				Category:       "Yemek Odası",
				Keywords:       []string{"komodin", "ayna"},
				TargetCategory: "Yatak Odası",
			},
		},
		Sitemaps:    []string{serverURL + "/sitemap/1.xml"},
		Backlog:     config.BacklogConfig{Table: "Other", ErrorTable: "Hata", Prefix: "3", Length: 10},
		OutputTable: "products",
	}
}

func newTestCrawler(t *testing.T, site config.SiteConfig, store sink.Sink) *Crawler {
	t.Helper()
	log := testLogger()

	client := &http.Client{Timeout: 10 * time.Second}
	policy := config.RetryConfig{MaxAttempts: 1, BaseTimeout: 5 * time.Second, MaxTimeout: 5 * time.Second, BackoffFactor: 2}
	gate := fetch.NewGate(1, config.PacingConfig{}, logrus.NewEntry(log))
	fetcher := fetch.NewFetcher(client, gate, policy, "test-agent", log)

	resolver, err := sitemap.NewResolver(fetcher, gate, site.Sitemaps, 4, log)
	require.NoError(t, err)

	c, err := New(site, 0, fetcher, gate, resolver, store, log)
	require.NoError(t, err)
	return c
}

func TestRunPaginated_TwoPageWalk(t *testing.T) {
	server, listingHits := testSite(t)
	store := newMemSink()
	c := newTestCrawler(t, testSiteConfig(t, server.URL), store)

	require.NoError(t, c.RunPaginated(context.Background()))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Pages) // sentinel page does not count
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.NoRecord)
	assert.Equal(t, 1, stats.Flushes)
	// Page 1 plus the sentinel page; nothing past the sentinel is fetched
	assert.Equal(t, 2, listingHits())

	// Snapshot flushed after page 1, duplication-expanded: the Yemek Odası
	// komodin appears a second time under Yatak Odası
	rows := store.rows("products")
	require.Len(t, rows, 3)

	categories := make(map[string]int)
	for _, rec := range rows {
		categories[rec.Category]++
	}
	assert.Equal(t, 1, categories["Yemek Odası"])
	assert.Equal(t, 2, categories["Yatak Odası"])
}

func TestRunPaginated_StopsOnListingFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	store := newMemSink()
	c := newTestCrawler(t, testSiteConfig(t, server.URL), store)

	// Exhausted listing retries end the walk, they do not fail the run
	require.NoError(t, c.RunPaginated(context.Background()))
	assert.Equal(t, 0, c.Stats().Pages)
}

func TestRunPaginated_HonorsMaxPages(t *testing.T) {
	var listingHits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/list" {
			listingHits++
			fmt.Fprintf(w, `<html><body><div class="card-product"><a href="/p/%d">p</a></div></body></html>`, listingHits)
			return
		}
		fmt.Fprint(w, productHTML("Lizbon", "Yatak", "3001111111", "Salon", "20.000 TL"))
	}))
	t.Cleanup(server.Close)

	site := testSiteConfig(t, server.URL)
	store := newMemSink()
	log := testLogger()
	client := &http.Client{Timeout: 10 * time.Second}
	policy := config.RetryConfig{MaxAttempts: 1, BaseTimeout: 5 * time.Second, MaxTimeout: 5 * time.Second, BackoffFactor: 2}
	gate := fetch.NewGate(1, config.PacingConfig{}, logrus.NewEntry(log))
	fetcher := fetch.NewFetcher(client, gate, policy, "test-agent", log)

	c, err := New(site, 2, fetcher, gate, nil, store, log)
	require.NoError(t, err)

	require.NoError(t, c.RunPaginated(context.Background()))
	assert.Equal(t, 2, c.Stats().Pages)
	assert.Equal(t, 2, listingHits)
}

func TestRunPaginated_ContinuesAfterFlushFailure(t *testing.T) {
	server, listingHits := testSite(t)
	store := &failOnceSink{memSink: newMemSink()}
	c := newTestCrawler(t, testSiteConfig(t, server.URL), store)

	// A failed checkpoint flush is logged and counted, never fatal
	require.NoError(t, c.RunPaginated(context.Background()))

	stats := c.Stats()
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.FlushErrors)
	assert.Equal(t, 0, stats.Flushes)
	// The walk went on to the sentinel page after the flush failed
	assert.Equal(t, 2, listingHits())

	// The accumulator survived: the next flush lands the full snapshot
	require.NoError(t, c.Flush(context.Background()))
	require.Len(t, store.rows("products"), 3)
}

func TestRunBacklog_ResolvesAndDrainsErrorTable(t *testing.T) {
	server, _ := testSite(t)
	store := newMemSink()

	// One resolvable backlog identifier, one unresolvable error identifier
	store.tables["Other"] = []models.ProductRecord{{SKU: "3009999999", FullName: "3009999999"}}
	store.tables["Hata"] = []models.ProductRecord{{SKU: "3008888888", FullName: "3008888888"}}

	c := newTestCrawler(t, testSiteConfig(t, server.URL), store)
	require.NoError(t, c.RunBacklog(context.Background()))

	stats := c.Stats()
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 1, stats.NotFound)

	// The error table now holds only the identifier that failed again
	hata := store.rows("Hata")
	require.Len(t, hata, 1)
	assert.Equal(t, "3008888888", hata[0].SKU)
}

func TestRun_FullCrawl(t *testing.T) {
	server, _ := testSite(t)
	store := newMemSink()
	store.tables["Other"] = []models.ProductRecord{{SKU: "3009999999", FullName: "3009999999"}}

	c := newTestCrawler(t, testSiteConfig(t, server.URL), store)
	require.NoError(t, c.Run(context.Background()))

	stats := c.Stats()
	assert.Equal(t, 3, stats.Accepted) // two from listing, one from backlog

	// Final snapshot: three records plus the duplicated komodin
	rows := store.rows("products")
	assert.Len(t, rows, 4)

	// Page flush plus final flush
	assert.Equal(t, 2, store.replaceCount("products"))
}

func TestRunIdentifiers_SkipsAlreadySeenURL(t *testing.T) {
	server, _ := testSite(t)
	store := newMemSink()
	c := newTestCrawler(t, testSiteConfig(t, server.URL), store)

	ctx := context.Background()
	failed, err := c.RunIdentifiers(ctx, []string{"3009999999", "3009999999"})
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, 1, c.Stats().Accepted)
}
