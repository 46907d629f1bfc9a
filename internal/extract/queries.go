package extract

import (
	"context"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

// List returns the extractions of an entity, newest first, optionally only
// those of schemaType.
func (s *Service) List(ctx context.Context, entityID string, schemaType model.SchemaType) ([]model.Extraction, error) {
	if entityID == "" {
		return nil, apperr.Validation("entityId is required")
	}
	return s.store.ListExtractions(ctx, store.ExtractionFilter{EntityID: entityID, SchemaType: schemaType})
}

// Latest returns the newest completed extraction for the pair, or nil.
func (s *Service) Latest(ctx context.Context, entityID string, schemaType model.SchemaType) (*model.Extraction, error) {
	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
		EntityID:   entityID,
		SchemaType: schemaType,
		Status:     model.ExtractionStatusCompleted,
		Limit:      1,
	})
	if err != nil || len(xs) == 0 {
		return nil, err
	}
	return &xs[0], nil
}

// Stale returns extractions marked stale or past their expiry, optionally
// only within a project.
func (s *Service) Stale(ctx context.Context, projectID string) ([]model.Extraction, error) {
	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := []model.Extraction{}
	for i := range xs {
		if xs[i].Status == model.ExtractionStatusStale || xs[i].IsExpired(now) {
			out = append(out, xs[i])
		}
	}
	return out, nil
}

// SummaryCounts tallies extractions of one schema type by status.
type SummaryCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Stale     int `json:"stale"`
}

// Summary counts a project's extractions per schema type. Every schema type
// is present in the result.
func (s *Service) Summary(ctx context.Context, projectID string) (map[model.SchemaType]SummaryCounts, error) {
	if projectID == "" {
		return nil, apperr.Validation("projectId is required")
	}
	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	out := make(map[model.SchemaType]SummaryCounts, len(model.SchemaTypes))
	for _, t := range model.SchemaTypes {
		out[t] = SummaryCounts{}
	}
	for _, x := range xs {
		c := out[x.SchemaType]
		c.Total++
		switch x.Status {
		case model.ExtractionStatusCompleted:
			c.Completed++
		case model.ExtractionStatusFailed:
			c.Failed++
		case model.ExtractionStatusStale:
			c.Stale++
		}
		out[x.SchemaType] = c
	}
	return out, nil
}
