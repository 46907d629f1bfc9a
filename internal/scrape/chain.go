package scrape

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-kb/internal/apperr"
)

// Checker reports whether a URL is reachable.
type Checker interface {
	Check(ctx context.Context, url string) *URLStatus
}

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	scrapers []Scraper
	shooter  Screenshotter
	checker  Checker
}

// NewChain creates a Chain with the given scrapers.
// Scrapers are tried in order; the first successful result is returned.
func NewChain(scrapers ...Scraper) *Chain {
	return &Chain{scrapers: scrapers}
}

// WithScreenshotter enables Screenshot.
func (c *Chain) WithScreenshotter(s Screenshotter) *Chain {
	c.shooter = s
	return c
}

// WithChecker enables Check and CheckAll.
func (c *Chain) WithChecker(ch Checker) *Chain {
	c.checker = ch
	return c
}

// Scrape tries each scraper in order for a single URL.
// Returns the first successful result, or the last error if all fail.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	var lastErr error
	for _, s := range c.scrapers {
		if !s.Supports(targetURL) {
			continue
		}
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil {
			return result, nil
		}
		if err != nil {
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		if apperr.IsFetch(lastErr) {
			return nil, lastErr
		}
		return nil, apperr.Fetch(targetURL, 0, eris.Wrap(lastErr, "scrape: all scrapers failed"))
	}
	return nil, apperr.Fetch(targetURL, 0, eris.Errorf("scrape: no suitable scraper for url: %s", targetURL))
}

// CanScreenshot reports whether a screenshotter is configured.
func (c *Chain) CanScreenshot() bool {
	return c.shooter != nil
}

// Screenshot captures targetURL into dir.
func (c *Chain) Screenshot(ctx context.Context, targetURL, dir string) (*Shot, error) {
	if c.shooter == nil {
		return nil, eris.New("scrape: screenshots are disabled")
	}
	return c.shooter.Screenshot(ctx, targetURL, dir)
}

// Check reports whether targetURL is reachable.
func (c *Chain) Check(ctx context.Context, targetURL string) *URLStatus {
	if c.checker == nil {
		return &URLStatus{URL: targetURL, Error: "url checks are disabled"}
	}
	return c.checker.Check(ctx, targetURL)
}

// CheckAll checks urls in parallel with at most maxConcurrent in flight.
// Results are in input order.
func (c *Chain) CheckAll(ctx context.Context, urls []string, maxConcurrent int) []*URLStatus {
	out := make([]*URLStatus, len(urls))
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			st := c.Check(gCtx, u)
			mu.Lock()
			out[i] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
