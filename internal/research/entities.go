package research

import (
	"context"
	"strings"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

const entitySearchLimit = 50

// CreateEntityInput is the input to CreateEntity.
type CreateEntityInput struct {
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	EntityType  string `json:"entityType,omitempty"`
	URL         string `json:"url,omitempty"`
}

// UpdateEntityInput carries the fields to change. Nil fields are kept.
type UpdateEntityInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	EntityType  *string `json:"entityType,omitempty"`
	URL         *string `json:"url,omitempty"`
}

// SearchEntitiesInput filters SearchEntities.
type SearchEntitiesInput struct {
	ProjectID  string `json:"projectId,omitempty"`
	Query      string `json:"query,omitempty"`
	EntityType string `json:"entityType,omitempty"`
}

// EntityDetail is an entity with its project and assertions.
type EntityDetail struct {
	model.Entity
	Project    *model.Project    `json:"project"`
	Assertions []model.Assertion `json:"assertions"`
}

// CreateEntity adds an entity to a project. An entity with the same name in
// the project is updated instead, keeping stored values for empty fields.
func (s *Service) CreateEntity(ctx context.Context, in CreateEntityInput) (*model.Entity, error) {
	var issues []string
	if in.ProjectID == "" {
		issues = append(issues, "projectId: required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		issues = append(issues, "name: required")
	}
	if len(issues) > 0 {
		return nil, apperr.Validation("invalid entity", issues...)
	}
	if _, err := s.store.GetProject(ctx, in.ProjectID); err != nil {
		return nil, err
	}

	e := &model.Entity{
		ProjectID:   in.ProjectID,
		Name:        name,
		Description: in.Description,
		EntityType:  in.EntityType,
		URL:         in.URL,
	}
	if err := s.store.UpsertEntity(ctx, e); err != nil {
		return nil, err
	}
	s.record(ctx, ActionEntityCreated, "", map[string]any{"entityId": e.ID, "name": e.Name, "projectId": e.ProjectID})
	return e, nil
}

// GetEntity returns the entity with its project and assertions, newest
// assertion first.
func (s *Service) GetEntity(ctx context.Context, id string) (*EntityDetail, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProject(ctx, e.ProjectID)
	if err != nil {
		return nil, err
	}
	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{EntityID: id})
	if err != nil {
		return nil, err
	}
	as, err = s.withDetail(ctx, as)
	if err != nil {
		return nil, err
	}
	return &EntityDetail{Entity: *e, Project: p, Assertions: as}, nil
}

// FindEntityByName looks an entity up by name within a project, ignoring
// case. It returns nil when none matches.
func (s *Service) FindEntityByName(ctx context.Context, projectID, name string) (*model.Entity, error) {
	return s.store.FindEntityByName(ctx, projectID, strings.TrimSpace(name))
}

// ListEntities returns the entities of a project.
func (s *Service) ListEntities(ctx context.Context, projectID string) ([]model.Entity, error) {
	if projectID == "" {
		return nil, apperr.Validation("projectId is required", "projectId: required")
	}
	return s.store.ListEntities(ctx, store.EntityFilter{ProjectID: projectID})
}

// SearchEntities matches name or description across projects.
func (s *Service) SearchEntities(ctx context.Context, in SearchEntitiesInput) ([]model.Entity, error) {
	return s.store.ListEntities(ctx, store.EntityFilter{
		ProjectID:  in.ProjectID,
		EntityType: in.EntityType,
		Query:      in.Query,
		Limit:      entitySearchLimit,
	})
}

// UpdateEntity applies in to the entity with id.
func (s *Service) UpdateEntity(ctx context.Context, id string, in UpdateEntityInput) (*model.Entity, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("entity name cannot be empty", "name: required")
		}
		e.Name = name
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.EntityType != nil {
		e.EntityType = *in.EntityType
	}
	if in.URL != nil {
		e.URL = *in.URL
	}

	if err := s.store.UpdateEntity(ctx, e); err != nil {
		return nil, err
	}
	s.record(ctx, ActionEntityUpdated, "", map[string]any{"entityId": id, "changes": in})
	return e, nil
}

// DeleteEntity removes the entity with its assertions and extractions.
func (s *Service) DeleteEntity(ctx context.Context, id string) error {
	if err := s.store.DeleteEntity(ctx, id); err != nil {
		return err
	}
	s.record(ctx, ActionEntityDeleted, "", map[string]any{"entityId": id})
	return nil
}

// EntityExists reports whether the project has an entity with name.
func (s *Service) EntityExists(ctx context.Context, projectID, name string) (bool, error) {
	e, err := s.FindEntityByName(ctx, projectID, name)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}
