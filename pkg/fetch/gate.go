package fetch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"catalog-crawler/pkg/config"
)

// Gate bounds the number of in-flight fetches and carries the fixed pacing
// delays applied between completed items, pages, and sitemap scans. The
// pacing delays are politeness controls, not correctness controls: they are
// honored even when the gate is never contended.
type Gate struct {
	sem    *semaphore.Weighted
	pacing config.PacingConfig
	log    *logrus.Entry
}

// NewGate creates a Gate with the given in-flight bound.
func NewGate(maxConcurrent int, pacing config.PacingConfig, log *logrus.Entry) *Gate {
	limit := int64(maxConcurrent)
	if limit <= 0 {
		limit = 1
		log.Warnf("max concurrent invalid or zero, defaulting to %d", limit)
	}
	return &Gate{
		sem:    semaphore.NewWeighted(limit),
		pacing: pacing,
		log:    log,
	}
}

// Acquire blocks until an in-flight slot is available or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release returns an in-flight slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// ItemPause applies the inter-item pacing delay, respecting cancellation.
func (g *Gate) ItemPause(ctx context.Context) error {
	return g.pause(ctx, g.pacing.ItemDelay)
}

// PagePause applies the inter-page pacing delay, respecting cancellation.
func (g *Gate) PagePause(ctx context.Context) error {
	return g.pause(ctx, g.pacing.PageDelay)
}

// SitemapPause applies the inter-sitemap pacing delay, respecting cancellation.
func (g *Gate) SitemapPause(ctx context.Context) error {
	return g.pause(ctx, g.pacing.SitemapDelay)
}

func (g *Gate) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	g.log.WithField("sleep", d).Debug("Pacing delay")
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
