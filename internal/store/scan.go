package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/schema"
)

// Column lists shared by both drivers. Scan functions below read them in
// this order.
const (
	projectColumns = `p.id, p.name, p.description, p.search_query, p.workflow, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM entities e WHERE e.project_id = p.id)`

	entityColumns = `e.id, e.project_id, p.name, e.name, e.description, e.entity_type, e.url, e.created_at, e.updated_at,
	(SELECT COUNT(*) FROM assertions a WHERE a.entity_id = e.id)`

	assertionColumns = `a.id, a.entity_id, e.name, a.claim, a.status, a.category, a.confidence, a.criticality,
	a.cited_in_conclusion, a.validated_at, a.validated_by, a.rejection_reason, a.human_response,
	a.partially_validated, a.evidence_screenshots, a.validation_notes, a.created_at, a.updated_at`

	sourceColumns = `s.id, s.url, s.title, s.description, s.source_type, s.status, s.validated_at, s.validated_by,
	s.created_at, s.updated_at, (SELECT COUNT(*) FROM assertion_sources l WHERE l.source_id = s.id)`

	extractionColumns = `x.id, x.entity_id, x.source_id, x.screenshot_id, x.schema_type, x.data, x.raw_quotes,
	x.status, x.confidence, x.error, x.assertion_ids, x.extracted_at, x.expires_at, e.name, s.url`

	entityFrom     = ` FROM entities e JOIN projects p ON p.id = e.project_id`
	assertionFrom  = ` FROM assertions a JOIN entities e ON e.id = a.entity_id`
	extractionFrom = ` FROM extractions x JOIN entities e ON e.id = x.entity_id LEFT JOIN sources s ON s.id = x.source_id`
)

type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func scanProject(row scannable) (*model.Project, error) {
	var p model.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.SearchQuery, &p.Workflow, &p.CreatedAt, &p.UpdatedAt, &p.EntityCount)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	err := row.Scan(&e.ID, &e.ProjectID, &e.ProjectName, &e.Name, &e.Description, &e.EntityType, &e.URL,
		&e.CreatedAt, &e.UpdatedAt, &e.AssertionCount)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanAssertion(row scannable) (*model.Assertion, error) {
	var a model.Assertion
	var screenshots, notes []byte
	err := row.Scan(&a.ID, &a.EntityID, &a.EntityName, &a.Claim, &a.Status, &a.Category, &a.Confidence,
		&a.Criticality, &a.CitedInConclusion, &a.ValidatedAt, &a.ValidatedBy, &a.RejectionReason,
		&a.HumanResponse, &a.PartiallyValidated, &screenshots, &notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.EvidenceScreenshots = []string{}
	if len(screenshots) > 0 {
		if err := json.Unmarshal(screenshots, &a.EvidenceScreenshots); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal evidence screenshots")
		}
	}
	a.ValidationNotes = []model.ValidationNote{}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &a.ValidationNotes); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal validation notes")
		}
	}
	return &a, nil
}

func scanSource(row scannable) (*model.Source, error) {
	var s model.Source
	err := row.Scan(&s.ID, &s.URL, &s.Title, &s.Description, &s.SourceType, &s.Status, &s.ValidatedAt,
		&s.ValidatedBy, &s.CreatedAt, &s.UpdatedAt, &s.AssertionCount)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanLog(row scannable) (*model.ResearchLog, error) {
	var l model.ResearchLog
	var details []byte
	if err := row.Scan(&l.ID, &l.Action, &details, &l.AgentID, &l.CreatedAt); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		l.Details = json.RawMessage(details)
	}
	return &l, nil
}

func scanExtraction(row scannable) (*model.Extraction, error) {
	var x model.Extraction
	var screenshotID, sourceURL *string
	var data, quotes, assertionIDs []byte
	err := row.Scan(&x.ID, &x.EntityID, &x.SourceID, &screenshotID, &x.SchemaType, &data, &quotes,
		&x.Status, &x.Confidence, &x.Error, &assertionIDs, &x.ExtractedAt, &x.ExpiresAt, &x.EntityName, &sourceURL)
	if err != nil {
		return nil, err
	}
	if screenshotID != nil {
		x.ScreenshotID = *screenshotID
	}
	if sourceURL != nil {
		x.SourceURL = *sourceURL
	}
	x.Data = json.RawMessage(data)
	if len(quotes) > 0 {
		x.RawQuotes = json.RawMessage(quotes)
	}
	x.AssertionIDs = []string{}
	if len(assertionIDs) > 0 {
		if err := json.Unmarshal(assertionIDs, &x.AssertionIDs); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal assertion ids")
		}
	}
	return &x, nil
}

// newExtraction builds the row for in. Completed rows must conform to their
// schema; the stored data is the normalized form. Failed rows keep whatever
// data they were given.
func newExtraction(in NewExtraction, status model.ExtractionStatus) (*model.Extraction, error) {
	if in.EntityID == "" {
		return nil, apperr.Validation("extraction requires an entity", "entityId: required")
	}
	if in.SourceID == "" {
		return nil, apperr.Validation("extraction requires a source", "sourceId: required")
	}
	if !in.SchemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", in.SchemaType)
	}

	data := in.Data
	if status == model.ExtractionStatusCompleted {
		_, normalized, err := schema.Validate(in.SchemaType, in.Data)
		if err != nil {
			return nil, err
		}
		data = normalized
	}
	if len(data) == 0 || !json.Valid(data) {
		data = json.RawMessage(`{}`)
	}

	x := &model.Extraction{
		ID:           uuid.New().String(),
		EntityID:     in.EntityID,
		SourceID:     in.SourceID,
		ScreenshotID: in.ScreenshotID,
		SchemaType:   in.SchemaType,
		Data:         data,
		Status:       status,
		Confidence:   in.Confidence,
		Error:        in.Error,
		AssertionIDs: in.AssertionIDs,
		ExtractedAt:  in.ExtractedAt.UTC(),
		ExpiresAt:    in.ExpiresAt,
	}
	if len(in.RawQuotes) > 0 && json.Valid(in.RawQuotes) {
		x.RawQuotes = in.RawQuotes
	}
	if x.AssertionIDs == nil {
		x.AssertionIDs = []string{}
	}
	if in.ExtractedAt.IsZero() {
		x.ExtractedAt = time.Now().UTC()
	}
	if x.ExpiresAt != nil {
		t := x.ExpiresAt.UTC()
		x.ExpiresAt = &t
	}
	return x, nil
}

// nullable returns nil for empty strings so optional foreign keys store NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal string list")
	}
	return string(b), nil
}

func marshalNotes(notes []model.ValidationNote) (string, error) {
	if notes == nil {
		notes = []model.ValidationNote{}
	}
	b, err := json.Marshal(notes)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal validation notes")
	}
	return string(b), nil
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

func likePattern(q string) string {
	return "%" + q + "%"
}
