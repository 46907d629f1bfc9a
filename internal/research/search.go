package research

import (
	"context"
	"sort"
	"strings"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

const (
	defaultSearchLimit   = 20
	defaultActivityLimit = 50
	pendingClaimLimit    = 100
)

// GlobalSearchInput controls GlobalSearch. The Include flags default to true.
type GlobalSearchInput struct {
	Query             string `json:"query"`
	ProjectID         string `json:"projectId,omitempty"`
	IncludeEntities   *bool  `json:"includeEntities,omitempty"`
	IncludeAssertions *bool  `json:"includeAssertions,omitempty"`
	IncludeSources    *bool  `json:"includeSources,omitempty"`
	Limit             int    `json:"limit,omitempty"`
}

// SearchResults holds the matches of a global search by kind.
type SearchResults struct {
	Entities   []model.Entity    `json:"entities"`
	Assertions []model.Assertion `json:"assertions"`
	Sources    []model.Source    `json:"sources"`
}

// ProjectRef identifies a project in reports.
type ProjectRef struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Workflow model.Workflow `json:"workflow,omitempty"`
}

// Summary counts the research state of one project.
type Summary struct {
	Project              ProjectRef `json:"project"`
	EntityCount          int        `json:"entityCount"`
	ClaimCount           int        `json:"claimCount"`
	EvidenceCount        int        `json:"evidenceCount"`
	RejectedCount        int        `json:"rejectedCount"`
	SourceCount          int        `json:"sourceCount"`
	ValidatedSourceCount int        `json:"validatedSourceCount"`
}

// CriticalityCounts tallies pending claims by criticality.
type CriticalityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// PendingInput filters PendingValidation.
type PendingInput struct {
	ProjectID   string            `json:"projectId,omitempty"`
	Criticality model.Criticality `json:"criticality,omitempty"`
}

// Pending lists what still needs a human decision.
type Pending struct {
	Claims  []model.Assertion `json:"claims"`
	Sources []model.Source    `json:"sources"`
	Counts  CriticalityCounts `json:"counts"`
}

// AssertionRef is the compact assertion row used in the sidebar grouping.
type AssertionRef struct {
	ID          string                `json:"id"`
	Claim       string                `json:"claim"`
	Category    string                `json:"category,omitempty"`
	Criticality model.Criticality     `json:"criticality"`
	Status      model.AssertionStatus `json:"status"`
	EntityID    string                `json:"entityId"`
	EntityName  string                `json:"entityName"`
}

// ProjectAssertions groups assertion refs under their project.
type ProjectAssertions struct {
	ProjectID   string         `json:"projectId"`
	ProjectName string         `json:"projectName"`
	Assertions  []AssertionRef `json:"assertions"`
}

func include(flag *bool) bool {
	return flag == nil || *flag
}

// GlobalSearch matches query against entities, assertions, and sources.
func (s *Service) GlobalSearch(ctx context.Context, in GlobalSearchInput) (*SearchResults, error) {
	q := strings.TrimSpace(in.Query)
	if q == "" {
		return nil, apperr.Validation("query is required", "query: required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	res := &SearchResults{
		Entities:   []model.Entity{},
		Assertions: []model.Assertion{},
		Sources:    []model.Source{},
	}
	var err error
	if include(in.IncludeEntities) {
		res.Entities, err = s.store.ListEntities(ctx, store.EntityFilter{ProjectID: in.ProjectID, Query: q, Limit: limit})
		if err != nil {
			return nil, err
		}
	}
	if include(in.IncludeAssertions) {
		as, err := s.store.ListAssertions(ctx, store.AssertionFilter{ProjectID: in.ProjectID, Query: q, Limit: limit})
		if err != nil {
			return nil, err
		}
		if res.Assertions, err = s.withDetail(ctx, as); err != nil {
			return nil, err
		}
	}
	if include(in.IncludeSources) {
		res.Sources, err = s.store.ListSources(ctx, store.SourceFilter{Query: q, Limit: limit})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ProjectSummary counts entities, assertions by status, and the distinct
// sources backing the project's assertions.
func (s *Service) ProjectSummary(ctx context.Context, projectID string) (*Summary, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	as, err = s.withDetail(ctx, as)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Project:     ProjectRef{ID: p.ID, Name: p.Name, Workflow: p.Workflow},
		EntityCount: p.EntityCount,
	}
	sources := map[string]model.SourceStatus{}
	for _, a := range as {
		switch a.Status {
		case model.AssertionStatusClaim:
			sum.ClaimCount++
		case model.AssertionStatusEvidence:
			sum.EvidenceCount++
		case model.AssertionStatusRejected:
			sum.RejectedCount++
		}
		for _, l := range a.Sources {
			if l.Source != nil {
				sources[l.SourceID] = l.Source.Status
			}
		}
	}
	sum.SourceCount = len(sources)
	for _, st := range sources {
		if st == model.SourceStatusValidated {
			sum.ValidatedSourceCount++
		}
	}
	return sum, nil
}

// sortForReview orders assertions critical first, then those cited in a
// conclusion, then newest.
func sortForReview(as []model.Assertion) {
	sort.SliceStable(as, func(i, j int) bool {
		ri, rj := as[i].Criticality.Rank(), as[j].Criticality.Rank()
		if ri != rj {
			return ri < rj
		}
		if as[i].CitedInConclusion != as[j].CitedInConclusion {
			return as[i].CitedInConclusion
		}
		return as[i].CreatedAt.After(as[j].CreatedAt)
	})
}

// PendingValidation returns open claims in review order with counts by
// criticality, plus every proposed source.
func (s *Service) PendingValidation(ctx context.Context, in PendingInput) (*Pending, error) {
	if in.Criticality != "" && !in.Criticality.Valid() {
		return nil, apperr.Validationf("unknown criticality %q", in.Criticality)
	}
	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{
		ProjectID:   in.ProjectID,
		Status:      model.AssertionStatusClaim,
		Criticality: in.Criticality,
	})
	if err != nil {
		return nil, err
	}

	out := &Pending{}
	for _, a := range as {
		switch a.Criticality {
		case model.CriticalityCritical:
			out.Counts.Critical++
		case model.CriticalityHigh:
			out.Counts.High++
		case model.CriticalityMedium:
			out.Counts.Medium++
		default:
			out.Counts.Low++
		}
	}
	out.Counts.Total = len(as)

	sortForReview(as)
	if len(as) > pendingClaimLimit {
		as = as[:pendingClaimLimit]
	}
	if out.Claims, err = s.withDetail(ctx, as); err != nil {
		return nil, err
	}

	sources, err := s.store.ListSources(ctx, store.SourceFilter{Status: model.SourceStatusProposed})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].CreatedAt.Before(sources[j].CreatedAt) })
	out.Sources = sources
	return out, nil
}

// NextPendingAssertion returns the first claim in review order, or nil when
// nothing is pending.
func (s *Service) NextPendingAssertion(ctx context.Context, projectID string) (*model.Assertion, error) {
	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{ProjectID: projectID, Status: model.AssertionStatusClaim})
	if err != nil {
		return nil, err
	}
	if len(as) == 0 {
		return nil, nil
	}
	sortForReview(as)
	return s.store.GetAssertion(ctx, as[0].ID)
}

// AssertionsByProject groups every assertion, in any status, under its
// project.
func (s *Service) AssertionsByProject(ctx context.Context, projectID string) ([]ProjectAssertions, error) {
	entities, err := s.store.ListEntities(ctx, store.EntityFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	byEntity := make(map[string]model.Entity, len(entities))
	for _, e := range entities {
		byEntity[e.ID] = e
	}

	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(as, func(i, j int) bool {
		ri, rj := as[i].Criticality.Rank(), as[j].Criticality.Rank()
		if ri != rj {
			return ri < rj
		}
		return as[i].CreatedAt.After(as[j].CreatedAt)
	})

	groups := []ProjectAssertions{}
	index := map[string]int{}
	for _, a := range as {
		e, ok := byEntity[a.EntityID]
		if !ok {
			continue
		}
		i, ok := index[e.ProjectID]
		if !ok {
			i = len(groups)
			index[e.ProjectID] = i
			groups = append(groups, ProjectAssertions{ProjectID: e.ProjectID, ProjectName: e.ProjectName, Assertions: []AssertionRef{}})
		}
		groups[i].Assertions = append(groups[i].Assertions, AssertionRef{
			ID:          a.ID,
			Claim:       a.Claim,
			Category:    a.Category,
			Criticality: a.Criticality,
			Status:      a.Status,
			EntityID:    a.EntityID,
			EntityName:  a.EntityName,
		})
	}
	return groups, nil
}

// RecentActivity returns the newest activity log rows.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]model.ResearchLog, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	return s.store.ListLogs(ctx, limit)
}

// EntitiesWithoutAssertions lists the project's entities that have no
// claims yet.
func (s *Service) EntitiesWithoutAssertions(ctx context.Context, projectID string) ([]model.Entity, error) {
	entities, err := s.ListEntities(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := []model.Entity{}
	for _, e := range entities {
		if e.AssertionCount == 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// AssertionsWithoutSources lists assertions with no linked source,
// optionally within one project.
func (s *Service) AssertionsWithoutSources(ctx context.Context, projectID string) ([]model.Assertion, error) {
	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	as, err = s.withDetail(ctx, as)
	if err != nil {
		return nil, err
	}
	out := []model.Assertion{}
	for _, a := range as {
		if len(a.Sources) == 0 {
			out = append(out, a)
		}
	}
	return out, nil
}
