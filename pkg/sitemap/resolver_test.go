package sitemap

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-crawler/pkg/config"
	"catalog-crawler/pkg/fetch"
)

const (
	sitemapOne = "https://www.example.com/sitemap/products/1.xml"
	sitemapTwo = "https://www.example.com/sitemap/products/2.xml"
)

const sitemapOneXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url><loc>https://www.example.com/lizbon-yatak-3001111111</loc></url>
	<url><loc>https://www.example.com/roma-konsol-3002222222</loc></url>
</urlset>`

const sitemapTwoXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url><loc>https://www.example.com/milano-ayna-3003333333</loc></url>
</urlset>`

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodGet, sitemapOne,
		httpmock.NewStringResponder(http.StatusOK, sitemapOneXML))
	httpmock.RegisterResponder(http.MethodGet, sitemapTwo,
		httpmock.NewStringResponder(http.StatusOK, sitemapTwoXML))

	log := testLogger()
	gate := fetch.NewGate(2, config.PacingConfig{}, logrus.NewEntry(log))
	policy := config.RetryConfig{MaxAttempts: 1, BaseTimeout: 5 * time.Second, MaxTimeout: 5 * time.Second, BackoffFactor: 2}
	fetcher := fetch.NewFetcher(client, gate, policy, "test-agent", log)

	resolver, err := NewResolver(fetcher, gate, []string{sitemapOne, sitemapTwo}, 4, log)
	require.NoError(t, err)
	return resolver
}

func TestResolve_FindsInFirstSitemap(t *testing.T) {
	r := newTestResolver(t)

	loc, err := r.Resolve(context.Background(), "3002222222")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.com/roma-konsol-3002222222", loc)

	// Only the first document was needed
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestResolve_FallsThroughToSecondSitemap(t *testing.T) {
	r := newTestResolver(t)

	loc, err := r.Resolve(context.Background(), "3003333333")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.com/milano-ayna-3003333333", loc)
}

func TestResolve_NotFound(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "3009999999")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolve_CachesDocumentsAcrossLookups(t *testing.T) {
	r := newTestResolver(t)

	for _, id := range []string{"3001111111", "3002222222", "3003333333"} {
		_, err := r.Resolve(context.Background(), id)
		require.NoError(t, err)
	}

	// Two documents exist; repeated lookups must not refetch them
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestResolve_SkipsBrokenSitemap(t *testing.T) {
	r := newTestResolver(t)
	httpmock.RegisterResponder(http.MethodGet, sitemapOne,
		httpmock.NewStringResponder(http.StatusOK, "not xml at all <<<"))

	loc, err := r.Resolve(context.Background(), "3003333333")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.com/milano-ayna-3003333333", loc)
}
