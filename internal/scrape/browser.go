package scrape

import (
	"context"
	"crypto/md5" //nolint:gosec // filename fingerprint
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
)

// BrowserOptions configures a BrowserScraper.
type BrowserOptions struct {
	Headless       bool
	UserAgent      string
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	Limiter        *HostLimiter
}

// BrowserScraper renders pages in headless Chrome so JavaScript-built
// content is visible. The browser is launched on first use and shared until
// Close.
type BrowserScraper struct {
	opts BrowserOptions

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewBrowserScraper creates a BrowserScraper. Zero options get sensible
// defaults.
func NewBrowserScraper(opts BrowserOptions) *BrowserScraper {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ViewportWidth == 0 {
		opts.ViewportWidth = 1920
	}
	if opts.ViewportHeight == 0 {
		opts.ViewportHeight = 1080
	}
	return &BrowserScraper{opts: opts}
}

func (b *BrowserScraper) Name() string { return "browser" }

func (b *BrowserScraper) Supports(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

func (b *BrowserScraper) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().Headless(b.opts.Headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "browser: launch chrome")
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, eris.Wrap(err, "browser: connect")
	}
	zap.L().Debug("browser: started", zap.Bool("headless", b.opts.Headless))
	b.browser = browser
	b.launcher = l
	return browser, nil
}

// open creates a page with the configured viewport and user agent, navigates
// to targetURL, and waits for load. The returned status is that of the main
// document response, or 0 if none was observed.
func (b *BrowserScraper) open(ctx context.Context, targetURL string) (*rod.Page, int, error) {
	if err := b.opts.Limiter.Wait(ctx, targetURL); err != nil {
		return nil, 0, eris.Wrap(err, "browser: rate limit wait")
	}
	browser, err := b.ensure()
	if err != nil {
		return nil, 0, apperr.Fetch(targetURL, 0, err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, 0, apperr.Fetch(targetURL, 0, eris.Wrap(err, "browser: new page"))
	}
	page = page.Context(ctx).Timeout(b.opts.Timeout)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent}); err != nil {
		_ = page.Close()
		return nil, 0, apperr.Fetch(targetURL, 0, eris.Wrap(err, "browser: set user agent"))
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.ViewportWidth,
		Height:            b.opts.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = page.Close()
		return nil, 0, apperr.Fetch(targetURL, 0, eris.Wrap(err, "browser: set viewport"))
	}

	status := 0
	waitDoc := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			status = e.Response.Status
			return true
		}
		return false
	})
	if err := page.Navigate(targetURL); err != nil {
		_ = page.Close()
		return nil, 0, apperr.Fetch(targetURL, 0, eris.Wrap(err, "browser: navigate"))
	}
	if err := page.WaitLoad(); err != nil {
		_ = page.Close()
		return nil, 0, apperr.Fetch(targetURL, 0, eris.Wrap(err, "browser: wait load"))
	}
	waitDoc()
	return page, status, nil
}

// Scrape renders targetURL and returns its HTML and visible text.
func (b *BrowserScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	page, status, err := b.open(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = page.Close() }()

	if status != 0 && !isSuccess(status) {
		return nil, apperr.Fetch(targetURL, status, eris.Errorf("browser: status %d", status))
	}

	html, err := page.HTML()
	if err != nil {
		return nil, apperr.Fetch(targetURL, status, eris.Wrap(err, "browser: read html"))
	}
	res, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return nil, apperr.Fetch(targetURL, status, eris.Wrap(err, "browser: read text"))
	}
	text := res.Value.Str()

	info, err := page.Info()
	if err != nil {
		return nil, apperr.Fetch(targetURL, status, eris.Wrap(err, "browser: page info"))
	}

	return &Result{
		URL:         targetURL,
		FinalURL:    info.URL,
		StatusCode:  status,
		Title:       info.Title,
		HTML:        html,
		Text:        text,
		ContentHash: ContentHash(text),
		Source:      b.Name(),
	}, nil
}

// Screenshot captures a full-page PNG of targetURL under dir/YYYY-MM/.
func (b *BrowserScraper) Screenshot(ctx context.Context, targetURL, dir string) (*Shot, error) {
	page, _, err := b.open(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = page.Close() }()

	img, err := page.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return nil, eris.Wrap(err, "browser: capture screenshot")
	}

	now := time.Now().UTC()
	path, err := ScreenshotPath(dir, targetURL, now)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "browser: create screenshot dir")
	}
	if err := os.WriteFile(path, img, 0o644); err != nil { //nolint:gosec
		return nil, eris.Wrap(err, "browser: write screenshot")
	}

	return &Shot{
		FilePath:   path,
		URL:        targetURL,
		FullPage:   true,
		Width:      b.opts.ViewportWidth,
		Height:     b.opts.ViewportHeight,
		CapturedAt: now,
	}, nil
}

// ScreenshotPath returns dir/YYYY-MM/<host-with-dashes>-<md5(url)[:8]>.png.
func ScreenshotPath(dir, targetURL string, at time.Time) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil || u.Hostname() == "" {
		return "", apperr.Validationf("invalid url %q", targetURL)
	}
	sum := md5.Sum([]byte(targetURL)) //nolint:gosec
	name := fmt.Sprintf("%s-%s.png", strings.ReplaceAll(u.Hostname(), ".", "-"), hex.EncodeToString(sum[:])[:8])
	return filepath.Join(dir, at.Format("2006-01"), name), nil
}

// Close shuts down the browser if it was started.
func (b *BrowserScraper) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.launcher.Cleanup()
	b.browser = nil
	b.launcher = nil
	return eris.Wrap(err, "browser: close")
}
