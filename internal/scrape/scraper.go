// Package scrape fetches web pages for extraction. A Chain tries a plain
// HTTP fetch and a headless browser in order; the browser also captures
// screenshots used as evidence.
package scrape

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not security
	"encoding/hex"
	"time"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Result holds a fetched page.
type Result struct {
	URL         string `json:"url"`
	FinalURL    string `json:"finalUrl"`
	StatusCode  int    `json:"statusCode"`
	Title       string `json:"title,omitempty"`
	HTML        string `json:"html,omitempty"`
	Text        string `json:"text"`
	ContentHash string `json:"contentHash"`
	Source      string `json:"source"` // e.g. "local_http", "browser"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}

// Shot describes a captured screenshot on disk.
type Shot struct {
	FilePath   string    `json:"filePath"`
	URL        string    `json:"url"`
	FullPage   bool      `json:"fullPage"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Screenshotter captures a page image into dir.
type Screenshotter interface {
	Screenshot(ctx context.Context, url, dir string) (*Shot, error)
}

// URLStatus is the result of checking whether a URL is reachable.
type URLStatus struct {
	URL          string `json:"url"`
	IsAccessible bool   `json:"isAccessible"`
	StatusCode   int    `json:"statusCode"`
	RedirectURL  string `json:"redirectUrl,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ContentHash fingerprints page text for change detection.
func ContentHash(text string) string {
	sum := md5.Sum([]byte(text)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func isSuccess(status int) bool {
	return status >= 200 && status < 400
}
