// Package extract fetches vendor pages, asks the model for structured data
// of one schema type, and records the result as an extraction with derived
// assertions. Without an API key pages are cached for manual extraction.
package extract

import (
	"context"
	"crypto/md5" //nolint:gosec // cache key, not security
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/research"
	"github.com/sells-group/research-kb/internal/scrape"
	"github.com/sells-group/research-kb/internal/store"
)

const (
	previewChars = 2000
	previewNote  = "\n\n[Content truncated - full content in cache file]"

	sourceTypeVendorDocs = "vendor_docs"
)

// Fetcher loads pages and optionally captures screenshots. scrape.Chain
// satisfies it.
type Fetcher interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
	CanScreenshot() bool
	Screenshot(ctx context.Context, url, dir string) (*scrape.Shot, error)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	CacheDir          string
	ScreenshotDir     string
	DefaultConfidence float64
	ExpiryDays        int
}

func (o Options) withDefaults() Options {
	if o.CacheDir == "" {
		o.CacheDir = ".cache/extractions"
	}
	if o.ScreenshotDir == "" {
		o.ScreenshotDir = "screenshots"
	}
	if o.DefaultConfidence <= 0 {
		o.DefaultConfidence = 0.9
	}
	if o.ExpiryDays <= 0 {
		o.ExpiryDays = 30
	}
	return o
}

// Service runs extractions.
type Service struct {
	store    store.Store
	research *research.Service
	fetcher  Fetcher
	parser   *Parser
	opts     Options
	now      func() time.Time
}

// New creates a Service. A nil parser means no API key is configured and
// Extract caches content for manual extraction.
func New(rs *research.Service, fetcher Fetcher, parser *Parser, opts Options) *Service {
	return &Service{
		store:    rs.Store(),
		research: rs,
		fetcher:  fetcher,
		parser:   parser,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CacheEntry is the on-disk copy of a fetched page.
type CacheEntry struct {
	URL            string    `json:"url"`
	EntityID       string    `json:"entityId"`
	EntityName     string    `json:"entityName"`
	SchemaType     string    `json:"schemaType,omitempty"`
	FetchedAt      time.Time `json:"fetchedAt"`
	ScreenshotPath string    `json:"screenshotPath,omitempty"`
	Title          string    `json:"title,omitempty"`
	Text           string    `json:"text"`
	HTML           string    `json:"html,omitempty"`
}

// FetchInput names the page to fetch and the entity it documents.
type FetchInput struct {
	URL        string `json:"url"`
	EntityID   string `json:"entityId"`
	Screenshot bool   `json:"screenshot"`
}

// FetchResult describes a fetched and cached page.
type FetchResult struct {
	CacheID        string    `json:"cacheId"`
	CachePath      string    `json:"cachePath"`
	URL            string    `json:"url"`
	EntityID       string    `json:"entityId"`
	EntityName     string    `json:"entityName"`
	SourceID       string    `json:"sourceId"`
	Title          string    `json:"title,omitempty"`
	ScreenshotPath string    `json:"screenshotPath,omitempty"`
	ContentLength  int       `json:"contentLength"`
	ContentPreview string    `json:"contentPreview"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

// CacheID is the cache key for a url and entity pair.
func CacheID(url, entityID string) string {
	sum := md5.Sum([]byte(url + entityID)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:12]
}

// Fetch loads the page, records it as a source for the entity, and writes
// the content to the cache.
func (s *Service) Fetch(ctx context.Context, in FetchInput) (*FetchResult, error) {
	entry, res, err := s.fetch(ctx, in, "")
	if err != nil {
		return nil, err
	}
	res.ContentPreview = preview(entry.Text)
	return res, nil
}

func (s *Service) fetch(ctx context.Context, in FetchInput, schemaType string) (*CacheEntry, *FetchResult, error) {
	url := strings.TrimSpace(in.URL)
	if url == "" || in.EntityID == "" {
		return nil, nil, apperr.Validation("url and entityId are required")
	}
	entity, err := s.store.GetEntity(ctx, in.EntityID)
	if err != nil {
		return nil, nil, err
	}

	page, err := s.fetcher.Scrape(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	src, err := s.ensureSource(ctx, url, entity.Name)
	if err != nil {
		return nil, nil, err
	}

	entry := &CacheEntry{
		URL:        url,
		EntityID:   entity.ID,
		EntityName: entity.Name,
		SchemaType: schemaType,
		FetchedAt:  s.now(),
		Title:      page.Title,
		Text:       page.Text,
		HTML:       page.HTML,
	}
	if in.Screenshot {
		entry.ScreenshotPath = s.screenshot(ctx, url)
	}

	id := CacheID(url, entity.ID)
	path, err := s.writeCache(id, entry)
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("extract: page cached",
		zap.String("url", url),
		zap.String("entity", entity.Name),
		zap.String("cache_id", id),
		zap.Int("content_length", len(entry.Text)),
	)
	return entry, &FetchResult{
		CacheID:        id,
		CachePath:      path,
		URL:            url,
		EntityID:       entity.ID,
		EntityName:     entity.Name,
		SourceID:       src.ID,
		Title:          page.Title,
		ScreenshotPath: entry.ScreenshotPath,
		ContentLength:  len(entry.Text),
		FetchedAt:      entry.FetchedAt,
	}, nil
}

// ensureSource returns the source stored under url, creating it with title
// when missing. Existing sources keep their title and review state.
func (s *Service) ensureSource(ctx context.Context, url, title string) (*model.Source, error) {
	existing, err := s.research.FindSourceByURL(ctx, url)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.research.CreateSource(ctx, research.CreateSourceInput{
		URL:        url,
		Title:      title,
		SourceType: sourceTypeVendorDocs,
	})
}

// screenshot captures url and returns the file path, or "" when capture is
// unavailable or fails.
func (s *Service) screenshot(ctx context.Context, url string) string {
	if !s.fetcher.CanScreenshot() {
		return ""
	}
	shot, err := s.fetcher.Screenshot(ctx, url, s.opts.ScreenshotDir)
	if err != nil {
		zap.L().Warn("extract: screenshot failed", zap.String("url", url), zap.Error(err))
		return ""
	}
	return shot.FilePath
}

func (s *Service) writeCache(id string, entry *CacheEntry) (string, error) {
	if err := os.MkdirAll(s.opts.CacheDir, 0o755); err != nil {
		return "", eris.Wrap(err, "extract: create cache dir")
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "extract: marshal cache entry")
	}
	path := filepath.Join(s.opts.CacheDir, id+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil { //nolint:gosec // cache is not secret
		return "", eris.Wrap(err, "extract: write cache")
	}
	return path, nil
}

// ReadCache loads a cache entry by id or by file path.
func (s *Service) ReadCache(idOrPath string) (*CacheEntry, error) {
	path := idOrPath
	if !strings.HasSuffix(path, ".json") {
		path = filepath.Join(s.opts.CacheDir, idOrPath+".json")
	}
	b, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("cache", idOrPath)
	}
	if err != nil {
		return nil, eris.Wrap(err, "extract: read cache")
	}
	var entry CacheEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, eris.Wrapf(err, "extract: decode cache %s", path)
	}
	return &entry, nil
}

func preview(text string) string {
	if head, cut := clip(text, previewChars); cut {
		return head + previewNote
	}
	return text
}

// clip returns the first n characters of s and whether anything was cut off.
// It never splits a multi-byte character.
func clip(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
