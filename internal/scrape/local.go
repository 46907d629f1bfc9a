package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-kb/internal/apperr"
)

const maxBodyBytes = 2 << 20

// LocalOptions configures a LocalScraper.
type LocalOptions struct {
	UserAgent string
	Timeout   time.Duration
	Limiter   *HostLimiter
}

// LocalScraper fetches HTML via net/http, detects blocks, and converts to
// plaintext. Falls through to the browser when blocked or when the page is a
// JavaScript shell.
type LocalScraper struct {
	client  *http.Client
	ua      string
	limiter *HostLimiter
}

// NewLocalScraper creates a LocalScraper. Zero options get sensible defaults.
func NewLocalScraper(opts LocalOptions) *LocalScraper {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &LocalScraper{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		ua:      opts.UserAgent,
		limiter: opts.Limiter,
	}
}

func (l *LocalScraper) Name() string { return "local_http" }

func (l *LocalScraper) Supports(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

func (l *LocalScraper) get(ctx context.Context, method, targetURL string) (*http.Response, error) {
	if err := l.limiter.Wait(ctx, targetURL); err != nil {
		return nil, eris.Wrap(err, "local_http: rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, apperr.Fetch(targetURL, 0, eris.Wrap(err, "local_http: create request"))
	}
	req.Header.Set("User-Agent", l.ua)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, apperr.Fetch(targetURL, 0, eris.Wrap(err, "local_http: fetch"))
	}
	if lim := l.limiter.For(targetURL); lim != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		} else {
			lim.OnSuccess()
		}
	}
	return resp, nil
}

// Scrape fetches a URL, detects blocks, strips HTML to plaintext.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := l.get(ctx, http.MethodGet, targetURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Fetch(targetURL, resp.StatusCode, eris.Wrap(err, "local_http: read body"))
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, apperr.Fetch(targetURL, resp.StatusCode, eris.Errorf("local_http: blocked (%s)", blockType))
	}
	if !isSuccess(resp.StatusCode) {
		return nil, apperr.Fetch(targetURL, resp.StatusCode, eris.Errorf("local_http: status %d", resp.StatusCode))
	}
	if len(body) < 100 {
		return nil, apperr.Fetch(targetURL, resp.StatusCode, eris.New("local_http: empty page"))
	}

	html := string(body)
	text := stripHTML(html)
	return &Result{
		URL:         targetURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Title:       extractTitle(body),
		HTML:        html,
		Text:        text,
		ContentHash: ContentHash(text),
		Source:      l.Name(),
	}, nil
}

// Check reports whether targetURL is reachable, following redirects.
func (l *LocalScraper) Check(ctx context.Context, targetURL string) *URLStatus {
	st := &URLStatus{URL: targetURL}
	resp, err := l.get(ctx, http.MethodGet, targetURL)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	_ = resp.Body.Close()

	st.StatusCode = resp.StatusCode
	st.IsAccessible = isSuccess(resp.StatusCode)
	st.ContentType = resp.Header.Get("Content-Type")
	if final := resp.Request.URL.String(); final != targetURL {
		st.RedirectURL = final
	}
	return st
}

var (
	titleRe    = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	blockRes   = compileBlockRes("script", "style", "nav", "footer", "noscript", "svg")
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	spaceRe    = regexp.MustCompile(`[ \t]+`)
	blankRe    = regexp.MustCompile(`\n[ \t]*`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
	entities   = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
)

func compileBlockRes(tags ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(tags))
	for i, tag := range tags {
		out[i] = regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
	}
	return out
}

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(entities.Replace(string(m[1])))
	}
	return ""
}

// stripHTML removes non-content blocks, strips tags, decodes entities,
// and collapses whitespace.
func stripHTML(html string) string {
	for _, re := range blockRes {
		html = re.ReplaceAllString(html, "")
	}
	html = tagRe.ReplaceAllString(html, " ")
	html = entities.Replace(html)
	html = spaceRe.ReplaceAllString(html, " ")
	html = blankRe.ReplaceAllString(html, "\n")
	html = newlinesRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
