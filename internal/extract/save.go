package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/research"
	"github.com/sells-group/research-kb/internal/schema"
	"github.com/sells-group/research-kb/internal/store"
)

const manualExtractionMessage = "No ANTHROPIC_API_KEY - content cached for manual extraction. Use extract:save to persist after Claude analyzes."

// SaveInput is extracted data ready to persist.
type SaveInput struct {
	EntityID         string           `json:"entityId"`
	SchemaType       model.SchemaType `json:"schemaType"`
	Data             json.RawMessage  `json:"data"`
	URL              string           `json:"url"`
	ScreenshotPath   string           `json:"screenshotPath,omitempty"`
	Confidence       *float64         `json:"confidence,omitempty"`
	RawQuotes        []string         `json:"rawQuotes,omitempty"`
	CreateAssertions *bool            `json:"createAssertions,omitempty"`
	ExpiresInDays    int              `json:"expiresInDays,omitempty"`
}

// SaveResult reports a persisted extraction.
type SaveResult struct {
	ExtractionID      string            `json:"extractionId"`
	Extraction        *model.Extraction `json:"extraction"`
	AssertionsCreated []string          `json:"assertionsCreated"`
}

// Save validates in.Data, records the source and screenshot, inserts a
// completed extraction, and derives assertions from it.
func (s *Service) Save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	if !in.SchemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", in.SchemaType)
	}
	url := strings.TrimSpace(in.URL)
	if in.EntityID == "" || url == "" {
		return nil, apperr.Validation("entityId and url are required")
	}
	if len(in.Data) == 0 {
		return nil, apperr.Validation("data is required")
	}
	entity, err := s.store.GetEntity(ctx, in.EntityID)
	if err != nil {
		return nil, err
	}
	// Validate before any writes so bad data leaves no orphan source.
	if _, _, err := schema.Validate(in.SchemaType, in.Data); err != nil {
		return nil, err
	}

	src, err := s.ensureSource(ctx, url, fmt.Sprintf("%s - %s", entity.Name, in.SchemaType))
	if err != nil {
		return nil, err
	}

	conf := s.opts.DefaultConfidence
	if in.Confidence != nil {
		conf = *in.Confidence
	}
	nx := store.NewExtraction{
		EntityID:     entity.ID,
		SourceID:     src.ID,
		ScreenshotID: s.recordScreenshot(ctx, in.ScreenshotPath, url),
		SchemaType:   in.SchemaType,
		Data:         in.Data,
		Confidence:   &conf,
		ExtractedAt:  s.now(),
		ExpiresAt:    s.expiry(in.ExpiresInDays),
	}
	if nx.RawQuotes, err = marshalQuotes(in.RawQuotes); err != nil {
		return nil, err
	}

	x, err := s.store.SaveExtraction(ctx, nx)
	if err != nil {
		return nil, err
	}

	ids := []string{}
	if in.CreateAssertions == nil || *in.CreateAssertions {
		ids = s.createAssertions(ctx, x, url, conf)
	}

	zap.L().Info("extract: extraction saved",
		zap.String("extraction_id", x.ID),
		zap.String("entity", entity.Name),
		zap.String("schema_type", string(x.SchemaType)),
		zap.Int("assertions", len(ids)),
	)
	return &SaveResult{ExtractionID: x.ID, Extraction: x, AssertionsCreated: ids}, nil
}

// createAssertions records one assertion per derived claim and attaches
// their ids to x. Failures are logged and skipped.
func (s *Service) createAssertions(ctx context.Context, x *model.Extraction, url string, conf float64) []string {
	ids := []string{}
	p, err := schema.Decode(x.SchemaType, x.Data)
	if err != nil {
		zap.L().Warn("extract: decode for assertions", zap.String("extraction_id", x.ID), zap.Error(err))
		return ids
	}
	for _, c := range Claims(p) {
		a, err := s.research.CreateAssertion(ctx, research.CreateAssertionInput{
			EntityID:   x.EntityID,
			Claim:      c.Text,
			Category:   c.Category,
			Confidence: &conf,
			SourceURL:  url,
		})
		if err != nil {
			zap.L().Warn("extract: create assertion", zap.String("claim", c.Text), zap.Error(err))
			continue
		}
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		return ids
	}
	if err := s.store.UpdateExtraction(ctx, x.ID, store.ExtractionUpdate{AssertionIDs: ids}); err != nil {
		zap.L().Warn("extract: attach assertions", zap.String("extraction_id", x.ID), zap.Error(err))
		return ids
	}
	x.AssertionIDs = ids
	return ids
}

// recordScreenshot stores a screenshot row when path exists on disk and
// returns its id.
func (s *Service) recordScreenshot(ctx context.Context, path, url string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	shot := &model.Screenshot{FilePath: path, URL: url, FullPage: true}
	if err := s.store.CreateScreenshot(ctx, shot); err != nil {
		zap.L().Warn("extract: record screenshot", zap.String("path", path), zap.Error(err))
		return ""
	}
	return shot.ID
}

func (s *Service) expiry(days int) *time.Time {
	if days <= 0 {
		days = s.opts.ExpiryDays
	}
	t := s.now().AddDate(0, 0, days)
	return &t
}

func marshalQuotes(quotes []string) (json.RawMessage, error) {
	if len(quotes) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(quotes)
	if err != nil {
		return nil, eris.Wrap(err, "extract: marshal quotes")
	}
	return b, nil
}

// ExtractInput names a page and the schema type to pull from it.
type ExtractInput struct {
	EntityID         string           `json:"entityId"`
	URL              string           `json:"url"`
	SchemaType       model.SchemaType `json:"schemaType"`
	Screenshot       *bool            `json:"screenshot,omitempty"`
	CreateAssertions *bool            `json:"createAssertions,omitempty"`
	ExpiresInDays    int              `json:"expiresInDays,omitempty"`
}

// ExtractResult reports an extraction run. NeedsManualExtraction is set
// when no model is configured and the page was only cached.
type ExtractResult struct {
	ExtractionID          string                 `json:"extractionId,omitempty"`
	Status                model.ExtractionStatus `json:"status,omitempty"`
	SchemaType            model.SchemaType       `json:"schemaType"`
	Data                  json.RawMessage        `json:"data,omitempty"`
	Confidence            float64                `json:"confidence,omitempty"`
	Quotes                []string               `json:"quotes,omitempty"`
	ScreenshotPath        string                 `json:"screenshotPath,omitempty"`
	AssertionsCreated     []string               `json:"assertionsCreated,omitempty"`
	SourceValidated       bool                   `json:"sourceValidated"`
	Warning               string                 `json:"warning,omitempty"`
	NeedsManualExtraction bool                   `json:"needsManualExtraction,omitempty"`
	CacheID               string                 `json:"cacheId,omitempty"`
	CachePath             string                 `json:"cachePath,omitempty"`
	Message               string                 `json:"message,omitempty"`
}

// Extract fetches the page and asks the model for schema data. A model
// failure is recorded as a failed extraction and returned as an error. Data
// that fails validation is kept on a failed row so it can be repaired and
// resubmitted through Save.
func (s *Service) Extract(ctx context.Context, in ExtractInput) (*ExtractResult, error) {
	if !in.SchemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", in.SchemaType)
	}
	shoot := in.Screenshot == nil || *in.Screenshot

	entry, fetched, err := s.fetch(ctx, FetchInput{URL: in.URL, EntityID: in.EntityID, Screenshot: shoot}, string(in.SchemaType))
	if err != nil {
		return nil, err
	}

	res := &ExtractResult{SchemaType: in.SchemaType, ScreenshotPath: entry.ScreenshotPath}
	if s.parser == nil {
		res.NeedsManualExtraction = true
		res.CacheID = fetched.CacheID
		res.CachePath = fetched.CachePath
		res.Message = manualExtractionMessage
		return res, nil
	}

	parsed, err := s.parser.Parse(ctx, entry.Text, in.SchemaType)
	if err != nil {
		x, recErr := s.store.RecordFailedExtraction(ctx, store.NewExtraction{
			EntityID:    entry.EntityID,
			SourceID:    fetched.SourceID,
			SchemaType:  in.SchemaType,
			Data:        json.RawMessage(`{}`),
			Error:       err.Error(),
			ExtractedAt: s.now(),
		})
		if recErr != nil {
			zap.L().Error("extract: record failed extraction", zap.Error(recErr))
		} else {
			zap.L().Warn("extract: model extraction failed", zap.String("extraction_id", x.ID), zap.Error(err))
		}
		return nil, eris.Wrap(err, "extract: extraction failed")
	}

	res.Quotes = parsed.Quotes
	res.Confidence = parsed.Confidence
	res.Data = parsed.Data

	if !parsed.Valid() {
		quotes, err := marshalQuotes(parsed.Quotes)
		if err != nil {
			return nil, err
		}
		x, err := s.store.RecordFailedExtraction(ctx, store.NewExtraction{
			EntityID:    entry.EntityID,
			SourceID:    fetched.SourceID,
			SchemaType:  in.SchemaType,
			Data:        parsed.Data,
			RawQuotes:   quotes,
			Confidence:  &parsed.Confidence,
			Error:       parsed.Warning,
			ExtractedAt: s.now(),
		})
		if err != nil {
			return nil, err
		}
		res.ExtractionID = x.ID
		res.Status = x.Status
		res.Warning = parsed.Warning
		return res, nil
	}

	saved, err := s.Save(ctx, SaveInput{
		EntityID:         entry.EntityID,
		SchemaType:       in.SchemaType,
		Data:             parsed.Data,
		URL:              entry.URL,
		ScreenshotPath:   entry.ScreenshotPath,
		Confidence:       &parsed.Confidence,
		RawQuotes:        parsed.Quotes,
		CreateAssertions: in.CreateAssertions,
		ExpiresInDays:    in.ExpiresInDays,
	})
	if err != nil {
		return nil, err
	}
	res.ExtractionID = saved.ExtractionID
	res.Status = saved.Extraction.Status
	res.AssertionsCreated = saved.AssertionsCreated
	res.SourceValidated = true
	return res, nil
}

// ValidateResult reports whether data matches its schema.
type ValidateResult struct {
	Valid  bool            `json:"valid"`
	Data   json.RawMessage `json:"data,omitempty"`
	Issues []string        `json:"issues,omitempty"`
}

// Validate checks data against schemaType without saving it. Schema
// mismatches are reported in the result; an unknown schema type is an error.
func (s *Service) Validate(schemaType model.SchemaType, data json.RawMessage) (*ValidateResult, error) {
	if !schemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", schemaType)
	}
	_, normalized, err := schema.Validate(schemaType, data)
	if err != nil {
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		issues := ve.Issues
		if len(issues) == 0 {
			issues = []string{ve.Msg}
		}
		return &ValidateResult{Valid: false, Issues: issues}, nil
	}
	return &ValidateResult{Valid: true, Data: normalized}, nil
}
