package research

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

// Priority ranks which entities to research next.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// EntityGap describes which schema types an entity still lacks.
type EntityGap struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	URL             string             `json:"url,omitempty"`
	EntityType      string             `json:"entityType,omitempty"`
	ExtractionCount int                `json:"extractionCount"`
	MissingSchemas  []model.SchemaType `json:"missingSchemas"`
	ExistingSchemas []model.SchemaType `json:"existingSchemas"`
	HasURL          bool               `json:"hasUrl"`
	Priority        Priority           `json:"priority"`
}

// SchemaCoverage is the share of entities with a completed extraction of
// one schema type.
type SchemaCoverage struct {
	SchemaType                model.SchemaType `json:"schemaType"`
	EntitiesWithExtraction    int              `json:"entitiesWithExtraction"`
	EntitiesWithoutExtraction int              `json:"entitiesWithoutExtraction"`
	CoveragePercent           int              `json:"coveragePercent"`
}

// GapsSummary aggregates the gap report.
type GapsSummary struct {
	TotalEntities             int     `json:"totalEntities"`
	EntitiesWithURL           int     `json:"entitiesWithUrl"`
	EntitiesWithNoExtractions int     `json:"entitiesWithNoExtractions"`
	EntitiesFullyCovered      int     `json:"entitiesFullyCovered"`
	AverageExtractionCount    float64 `json:"averageExtractionCount"`
	TotalExtractions          int     `json:"totalExtractions"`
}

// GapPriorities splits the entity gaps by priority.
type GapPriorities struct {
	High   []EntityGap `json:"high"`
	Medium []EntityGap `json:"medium"`
	Low    []EntityGap `json:"low"`
}

// GapsReport is the research gap analysis for a project.
type GapsReport struct {
	Project          ProjectRef       `json:"project"`
	Summary          GapsSummary      `json:"summary"`
	CoverageBySchema []SchemaCoverage `json:"coverageBySchema"`
	EntityGaps       []EntityGap      `json:"entityGaps"`
	Priorities       GapPriorities    `json:"priorities"`
	NextActions      []string         `json:"nextActions"`
}

// gapPriority is high for an entity with a URL and nothing extracted,
// medium when some schemas are missing, and low otherwise or without a URL.
func gapPriority(hasURL bool, existing, missing int) Priority {
	switch {
	case !hasURL:
		return PriorityLow
	case existing == 0:
		return PriorityHigh
	case missing > 0:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ResearchGaps reports which entities are missing which schema types, the
// coverage per schema type, and what to research next.
func (s *Service) ResearchGaps(ctx context.Context, projectID string) (*GapsReport, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	entities, err := s.store.ListEntities(ctx, store.EntityFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	xs, err := s.store.ListExtractions(ctx, store.ExtractionFilter{
		ProjectID: projectID,
		Status:    model.ExtractionStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	have := map[string]map[model.SchemaType]bool{}
	for _, x := range xs {
		if have[x.EntityID] == nil {
			have[x.EntityID] = map[model.SchemaType]bool{}
		}
		have[x.EntityID][x.SchemaType] = true
	}

	gaps := make([]EntityGap, 0, len(entities))
	for _, e := range entities {
		g := EntityGap{
			ID:              e.ID,
			Name:            e.Name,
			URL:             e.URL,
			EntityType:      e.EntityType,
			HasURL:          e.URL != "",
			MissingSchemas:  []model.SchemaType{},
			ExistingSchemas: []model.SchemaType{},
		}
		for _, t := range model.SchemaTypes {
			if have[e.ID][t] {
				g.ExistingSchemas = append(g.ExistingSchemas, t)
			} else {
				g.MissingSchemas = append(g.MissingSchemas, t)
			}
		}
		g.ExtractionCount = len(g.ExistingSchemas)
		g.Priority = gapPriority(g.HasURL, len(g.ExistingSchemas), len(g.MissingSchemas))
		gaps = append(gaps, g)
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Priority != gaps[j].Priority {
			return gaps[i].Priority.rank() < gaps[j].Priority.rank()
		}
		return gaps[i].ExtractionCount < gaps[j].ExtractionCount
	})

	r := &GapsReport{
		Project:    ProjectRef{ID: p.ID, Name: p.Name, Workflow: p.Workflow},
		EntityGaps: gaps,
		Priorities: GapPriorities{High: []EntityGap{}, Medium: []EntityGap{}, Low: []EntityGap{}},
	}

	total := len(entities)
	for _, t := range model.SchemaTypes {
		c := SchemaCoverage{SchemaType: t}
		for _, g := range gaps {
			if have[g.ID][t] {
				c.EntitiesWithExtraction++
			}
		}
		c.EntitiesWithoutExtraction = total - c.EntitiesWithExtraction
		if total > 0 {
			c.CoveragePercent = int(math.Round(float64(c.EntitiesWithExtraction) / float64(total) * 100))
		}
		r.CoverageBySchema = append(r.CoverageBySchema, c)
	}

	r.Summary.TotalEntities = total
	for _, g := range gaps {
		if g.HasURL {
			r.Summary.EntitiesWithURL++
		}
		if g.ExtractionCount == 0 {
			r.Summary.EntitiesWithNoExtractions++
		}
		if len(g.MissingSchemas) == 0 {
			r.Summary.EntitiesFullyCovered++
		}
		r.Summary.TotalExtractions += g.ExtractionCount

		switch g.Priority {
		case PriorityHigh:
			r.Priorities.High = append(r.Priorities.High, g)
		case PriorityMedium:
			r.Priorities.Medium = append(r.Priorities.Medium, g)
		default:
			r.Priorities.Low = append(r.Priorities.Low, g)
		}
	}
	if total > 0 {
		r.Summary.AverageExtractionCount = math.Round(float64(r.Summary.TotalExtractions)/float64(total)*10) / 10
	}

	r.NextActions = nextActions(r)
	return r, nil
}

func nextActions(r *GapsReport) []string {
	actions := []string{}

	if len(r.CoverageBySchema) > 0 {
		lowest := r.CoverageBySchema[0]
		for _, c := range r.CoverageBySchema[1:] {
			if c.CoveragePercent < lowest.CoveragePercent {
				lowest = c
			}
		}
		if lowest.CoveragePercent < 100 {
			actions = append(actions, fmt.Sprintf("Extract %s data (%d%% coverage, %d entities missing)",
				lowest.SchemaType, lowest.CoveragePercent, lowest.EntitiesWithoutExtraction))
		}
	}

	if high := r.Priorities.High; len(high) > 0 {
		names := make([]string, 0, 3)
		for _, g := range high[:min(3, len(high))] {
			names = append(names, g.Name)
		}
		actions = append(actions, "Research high-priority entities with URLs but no extractions: "+strings.Join(names, ", "))
	}

	noURL := 0
	for _, g := range r.EntityGaps {
		if !g.HasURL {
			noURL++
		}
	}
	if noURL > 0 {
		actions = append(actions, fmt.Sprintf("Add URLs to %d entities before extraction", noURL))
	}

	nearComplete := 0
	for _, g := range r.Priorities.Medium {
		if len(g.MissingSchemas) <= 2 {
			nearComplete++
		}
	}
	if nearComplete > 0 {
		actions = append(actions, fmt.Sprintf("Complete %d entities that are nearly fully researched", nearComplete))
	}
	return actions
}
