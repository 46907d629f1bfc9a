// Package history reports how an entity's extractions evolve over time:
// per-pair history, pairwise diffs, recent changes across a project, and
// staleness.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/diff"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

const (
	// DefaultHistoryLimit caps ExtractionHistory when no limit is given.
	DefaultHistoryLimit = 20
	// DefaultDaysBack is the RecentChanges window when none is given.
	DefaultDaysBack = 30
	// DefaultMaxAge is the staleness threshold when none is given.
	DefaultMaxAge = 90 * 24 * time.Hour
)

const day = 24 * time.Hour

// Service answers history and diff questions against a store.
type Service struct {
	store store.Store
	now   func() time.Time
}

// New creates a Service backed by st.
func New(st store.Store) *Service {
	return &Service{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Item is one extraction in a history listing with a truncated data preview.
type Item struct {
	ID           string                 `json:"id"`
	ExtractedAt  time.Time              `json:"extractedAt"`
	Status       model.ExtractionStatus `json:"status"`
	Confidence   *float64               `json:"confidence,omitempty"`
	SourceURL    string                 `json:"sourceUrl,omitempty"`
	ScreenshotID string                 `json:"screenshotId,omitempty"`
	DataPreview  json.RawMessage        `json:"dataPreview"`
}

// History lists the extractions of one (entity, schema type) pair, newest first.
type History struct {
	EntityID           string           `json:"entityId"`
	EntityName         string           `json:"entityName"`
	SchemaType         model.SchemaType `json:"schemaType"`
	TotalExtractions   int              `json:"totalExtractions"`
	Extractions        []Item           `json:"extractions"`
	FirstExtraction    *time.Time       `json:"firstExtraction"`
	LatestExtraction   *time.Time       `json:"latestExtraction"`
	AverageDaysBetween *float64         `json:"averageDaysBetween"`
}

// Result is the diff between two extractions of the same pair.
type Result struct {
	SchemaType      model.SchemaType `json:"schemaType"`
	EntityID        string           `json:"entityId"`
	EntityName      string           `json:"entityName,omitempty"`
	OldExtractionID string           `json:"oldExtractionId,omitempty"`
	NewExtractionID string           `json:"newExtractionId,omitempty"`
	OldExtractedAt  *time.Time       `json:"oldExtractedAt,omitempty"`
	NewExtractedAt  *time.Time       `json:"newExtractedAt,omitempty"`
	OldSourceURL    string           `json:"oldSourceUrl,omitempty"`
	NewSourceURL    string           `json:"newSourceUrl,omitempty"`
	DaysBetween     int              `json:"daysBetween"`
	Changes         []diff.Change    `json:"changes"`
	Summary         diff.Summary     `json:"summary"`
	HasPriorVersion bool             `json:"hasPriorVersion"`
	Message         string           `json:"message,omitempty"`
}

// HasChanges reports whether the diff found any change.
func (r *Result) HasChanges() bool {
	return len(r.Changes) > 0
}

// ExtractionHistory returns up to limit extractions for the pair, newest
// first. A limit of zero means DefaultHistoryLimit.
func (s *Service) ExtractionHistory(ctx context.Context, entityID string, schemaType model.SchemaType, limit int) (*History, error) {
	if !schemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", schemaType)
	}
	entity, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	xs, err := s.store.GetExtractionHistory(ctx, entityID, schemaType, limit)
	if err != nil {
		return nil, err
	}

	h := &History{
		EntityID:         entityID,
		EntityName:       entity.Name,
		SchemaType:       schemaType,
		TotalExtractions: len(xs),
		Extractions:      make([]Item, 0, len(xs)),
	}
	for _, x := range xs {
		h.Extractions = append(h.Extractions, Item{
			ID:           x.ID,
			ExtractedAt:  x.ExtractedAt,
			Status:       x.Status,
			Confidence:   x.Confidence,
			SourceURL:    x.SourceURL,
			ScreenshotID: x.ScreenshotID,
			DataPreview:  diff.Preview(x.Data),
		})
	}
	if len(xs) == 0 {
		return h, nil
	}

	latest := xs[0].ExtractedAt
	first := xs[len(xs)-1].ExtractedAt
	h.LatestExtraction = &latest
	h.FirstExtraction = &first
	if len(xs) > 1 {
		var total float64
		for i := 0; i < len(xs)-1; i++ {
			total += math.Abs(xs[i].ExtractedAt.Sub(xs[i+1].ExtractedAt).Hours()) / 24
		}
		avg := math.Round(total/float64(len(xs)-1)*10) / 10
		h.AverageDaysBetween = &avg
	}
	return h, nil
}

// CompareExtractions diffs two extractions by id. Both must belong to the
// same entity and schema type.
func (s *Service) CompareExtractions(ctx context.Context, oldID, newID string) (*Result, error) {
	oldX, err := s.store.GetExtraction(ctx, oldID)
	if err != nil {
		return nil, err
	}
	newX, err := s.store.GetExtraction(ctx, newID)
	if err != nil {
		return nil, err
	}
	if oldX.SchemaType != newX.SchemaType {
		return nil, apperr.Validationf("cannot diff extractions of different schema types (%s vs %s)", oldX.SchemaType, newX.SchemaType)
	}
	if oldX.EntityID != newX.EntityID {
		return nil, apperr.Validation("cannot diff extractions of different entities")
	}
	return compare(oldX, newX)
}

func compare(oldX, newX *model.Extraction) (*Result, error) {
	changes, err := diff.Compare(oldX.Data, newX.Data)
	if err != nil {
		return nil, err
	}
	oldAt, newAt := oldX.ExtractedAt, newX.ExtractedAt
	return &Result{
		SchemaType:      newX.SchemaType,
		EntityID:        newX.EntityID,
		EntityName:      newX.EntityName,
		OldExtractionID: oldX.ID,
		NewExtractionID: newX.ID,
		OldExtractedAt:  &oldAt,
		NewExtractedAt:  &newAt,
		OldSourceURL:    oldX.SourceURL,
		NewSourceURL:    newX.SourceURL,
		DaysBetween:     int(math.Round(math.Abs(newAt.Sub(oldAt).Hours()) / 24)),
		Changes:         changes,
		Summary:         diff.Summarize(changes),
		HasPriorVersion: true,
	}, nil
}

// LatestDiff diffs the two most recent completed extractions of the pair.
// With fewer than two the result has HasPriorVersion false and no changes.
func (s *Service) LatestDiff(ctx context.Context, entityID string, schemaType model.SchemaType) (*Result, error) {
	if !schemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", schemaType)
	}
	entity, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
		EntityID:   entityID,
		SchemaType: schemaType,
		Status:     model.ExtractionStatusCompleted,
		Limit:      2,
	})
	if err != nil {
		return nil, err
	}

	switch len(xs) {
	case 0:
		return &Result{
			SchemaType: schemaType,
			EntityID:   entityID,
			EntityName: entity.Name,
			Changes:    []diff.Change{},
			Message:    fmt.Sprintf("No %s extractions found for %s", schemaType, entity.Name),
		}, nil
	case 1:
		at := xs[0].ExtractedAt
		return &Result{
			SchemaType:      schemaType,
			EntityID:        entityID,
			EntityName:      entity.Name,
			NewExtractionID: xs[0].ID,
			NewExtractedAt:  &at,
			NewSourceURL:    xs[0].SourceURL,
			Changes:         []diff.Change{},
			Message:         fmt.Sprintf("Only one %s extraction exists for %s; need at least 2 to diff", schemaType, entity.Name),
		}, nil
	}

	r, err := compare(&xs[1], &xs[0])
	if err != nil {
		return nil, err
	}
	r.EntityName = entity.Name
	return r, nil
}

// RecentChangesInput scopes RecentChanges.
type RecentChangesInput struct {
	ProjectID  string           `json:"projectId"`
	SchemaType model.SchemaType `json:"schemaType,omitempty"`
	DaysBack   int              `json:"daysBack,omitempty"`
}

// EntityChange is one pair whose two latest in-window extractions differ.
type EntityChange struct {
	EntityID        string           `json:"entityId"`
	EntityName      string           `json:"entityName"`
	SchemaType      model.SchemaType `json:"schemaType"`
	ChangeCount     int              `json:"changeCount"`
	LatestChange    time.Time        `json:"latestChange"`
	ChangeTypes     diff.Summary     `json:"changeTypes"`
	OldExtractionID string           `json:"oldExtractionId"`
	NewExtractionID string           `json:"newExtractionId"`
}

// RecentChangesSummary aggregates a RecentChanges report.
type RecentChangesSummary struct {
	EntitiesChecked     int `json:"entitiesChecked"`
	EntitiesWithChanges int `json:"entitiesWithChanges"`
	TotalChanges        int `json:"totalChanges"`
}

// RecentChanges is the result of RecentChanges.
type RecentChanges struct {
	ProjectID           string               `json:"projectId"`
	DaysBack            int                  `json:"daysBack"`
	EntitiesWithChanges []EntityChange       `json:"entitiesWithChanges"`
	Summary             RecentChangesSummary `json:"summary"`
}

type pairKey struct {
	entityID   string
	schemaType model.SchemaType
}

// RecentChanges finds every pair in the project with at least two completed
// extractions inside the window and reports those whose two latest differ,
// most changes first.
func (s *Service) RecentChanges(ctx context.Context, in RecentChangesInput) (*RecentChanges, error) {
	if in.ProjectID == "" {
		return nil, apperr.Validation("projectId is required", "projectId: required")
	}
	if in.SchemaType != "" && !in.SchemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", in.SchemaType)
	}
	if _, err := s.store.GetProject(ctx, in.ProjectID); err != nil {
		return nil, err
	}
	daysBack := in.DaysBack
	if daysBack <= 0 {
		daysBack = DefaultDaysBack
	}

	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
		ProjectID:  in.ProjectID,
		SchemaType: in.SchemaType,
		Status:     model.ExtractionStatusCompleted,
		Since:      s.now().Add(-time.Duration(daysBack) * day),
	})
	if err != nil {
		return nil, err
	}

	// xs is newest first, so each group is too.
	var order []pairKey
	groups := make(map[pairKey][]int)
	for i, x := range xs {
		k := pairKey{x.EntityID, x.SchemaType}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	out := &RecentChanges{
		ProjectID:           in.ProjectID,
		DaysBack:            daysBack,
		EntitiesWithChanges: []EntityChange{},
	}
	out.Summary.EntitiesChecked = len(order)
	for _, k := range order {
		idx := groups[k]
		if len(idx) < 2 {
			continue
		}
		newX, oldX := xs[idx[0]], xs[idx[1]]
		changes, err := diff.Compare(oldX.Data, newX.Data)
		if err != nil {
			zap.L().Warn("history: skipping undiffable pair",
				zap.String("entity_id", k.entityID),
				zap.String("schema_type", string(k.schemaType)),
				zap.Error(err),
			)
			continue
		}
		if len(changes) == 0 {
			continue
		}
		out.EntitiesWithChanges = append(out.EntitiesWithChanges, EntityChange{
			EntityID:        newX.EntityID,
			EntityName:      newX.EntityName,
			SchemaType:      newX.SchemaType,
			ChangeCount:     len(changes),
			LatestChange:    newX.ExtractedAt,
			ChangeTypes:     diff.Summarize(changes),
			OldExtractionID: oldX.ID,
			NewExtractionID: newX.ID,
		})
		out.Summary.TotalChanges += len(changes)
	}

	sort.SliceStable(out.EntitiesWithChanges, func(i, j int) bool {
		return out.EntitiesWithChanges[i].ChangeCount > out.EntitiesWithChanges[j].ChangeCount
	})
	out.Summary.EntitiesWithChanges = len(out.EntitiesWithChanges)
	return out, nil
}

// StaleReason explains why an extraction was reported stale.
type StaleReason string

const (
	StaleMarked  StaleReason = "marked_stale"
	StaleExpired StaleReason = "expired"
	StaleAged    StaleReason = "aged"
)

// StaleExtraction is one row of a staleness report.
type StaleExtraction struct {
	model.Extraction
	Reason  StaleReason `json:"reason"`
	AgeDays int         `json:"ageDays"`
}

// StaleExtractions lists extractions that need refreshing: marked stale,
// past their expiry, or the latest of their pair and older than maxAge.
// A zero maxAge means DefaultMaxAge.
func (s *Service) StaleExtractions(ctx context.Context, maxAge time.Duration) ([]StaleExtraction, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	xs, err := s.store.ListStaleExtractions(ctx, maxAge)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]StaleExtraction, 0, len(xs))
	for _, x := range xs {
		reason := StaleAged
		switch {
		case x.Status == model.ExtractionStatusStale:
			reason = StaleMarked
		case x.IsExpired(now):
			reason = StaleExpired
		}
		out = append(out, StaleExtraction{
			Extraction: x,
			Reason:     reason,
			AgeDays:    int(now.Sub(x.ExtractedAt) / day),
		})
	}
	return out, nil
}

// SummarizeChanges renders changes as human-readable lines.
func SummarizeChanges(changes []diff.Change) []string {
	if len(changes) == 0 {
		return []string{}
	}
	return strings.Split(diff.Describe(changes), "\n")
}
