package research

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

// CreateProjectInput is the input to CreateProject.
type CreateProjectInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	SearchQuery string         `json:"searchQuery,omitempty"`
	Workflow    model.Workflow `json:"workflow,omitempty"`
}

// UpdateProjectInput carries the fields to change. Nil fields are kept.
type UpdateProjectInput struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	SearchQuery *string         `json:"searchQuery,omitempty"`
	Workflow    *model.Workflow `json:"workflow,omitempty"`
}

// CreateProject creates a research project. Workflow defaults to discovery.
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (*model.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("project requires a name", "name: required")
	}
	if in.Workflow == "" {
		in.Workflow = model.WorkflowDiscovery
	}
	if !in.Workflow.Valid() {
		return nil, apperr.Validationf("unknown workflow %q", in.Workflow)
	}

	p := &model.Project{
		Name:        name,
		Description: in.Description,
		SearchQuery: in.SearchQuery,
		Workflow:    in.Workflow,
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	s.record(ctx, ActionProjectCreated, "", map[string]any{"projectId": p.ID, "name": p.Name})
	return p, nil
}

// GetProject returns the project with its entity count.
func (s *Service) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return s.store.GetProject(ctx, id)
}

// ListProjects returns every project, most recently updated first.
func (s *Service) ListProjects(ctx context.Context) ([]model.Project, error) {
	return s.store.ListProjects(ctx)
}

// UpdateProject applies in to the project with id.
func (s *Service) UpdateProject(ctx context.Context, id string, in UpdateProjectInput) (*model.Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("project name cannot be empty", "name: required")
		}
		p.Name = name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.SearchQuery != nil {
		p.SearchQuery = *in.SearchQuery
	}
	if in.Workflow != nil {
		if !in.Workflow.Valid() {
			return nil, apperr.Validationf("unknown workflow %q", *in.Workflow)
		}
		p.Workflow = *in.Workflow
	}

	if err := s.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	s.record(ctx, ActionProjectUpdated, "", map[string]any{"projectId": id, "changes": in})
	return p, nil
}

// DeleteProject removes the project and, by cascade, everything under it.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.record(ctx, ActionProjectDeleted, "", map[string]any{"projectId": id})
	return nil
}

// FindProjectByName looks a project up by name, ignoring case. It returns
// nil when no project matches.
func (s *Service) FindProjectByName(ctx context.Context, name string) (*model.Project, error) {
	p, err := s.store.FindProjectByName(ctx, name)
	if err != nil || p != nil {
		return p, err
	}

	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(name))
	for i := range projects {
		if fold.String(projects[i].Name) == want {
			return &projects[i], nil
		}
	}
	return nil, nil
}
