package research

import (
	"context"
	"net/url"
	"strings"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

const sourceSearchLimit = 50

// CreateSourceInput is the input to CreateSource.
type CreateSourceInput struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	SourceType  string `json:"sourceType,omitempty"`
}

// UpdateSourceInput carries the fields to change. Nil fields are kept.
type UpdateSourceInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	SourceType  *string `json:"sourceType,omitempty"`
}

// LinkSourceInput attaches a source to an assertion. Either SourceID or
// SourceURL must be set; a URL is upserted as a proposed source.
type LinkSourceInput struct {
	AssertionID string `json:"assertionId"`
	SourceID    string `json:"sourceId,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	Quote       string `json:"quote,omitempty"`
	AgentID     string `json:"agentId,omitempty"`
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperr.Validation("invalid source url", "url: must be an absolute http(s) URL")
	}
	return nil
}

// CreateSource creates a proposed source, or refreshes the metadata of the
// source already stored under the same URL.
func (s *Service) CreateSource(ctx context.Context, in CreateSourceInput) (*model.Source, error) {
	raw := strings.TrimSpace(in.URL)
	if err := checkURL(raw); err != nil {
		return nil, err
	}
	src := &model.Source{
		URL:         raw,
		Title:       in.Title,
		Description: in.Description,
		SourceType:  in.SourceType,
		Status:      model.SourceStatusProposed,
	}
	if err := s.store.UpsertSource(ctx, src); err != nil {
		return nil, err
	}
	s.record(ctx, ActionSourceCreated, "", map[string]any{"sourceId": src.ID, "url": src.URL})
	return src, nil
}

// GetSource returns the source with id.
func (s *Service) GetSource(ctx context.Context, id string) (*model.Source, error) {
	return s.store.GetSource(ctx, id)
}

// FindSourceByURL returns the source stored under url, or nil.
func (s *Service) FindSourceByURL(ctx context.Context, url string) (*model.Source, error) {
	return s.store.FindSourceByURL(ctx, strings.TrimSpace(url))
}

// ListSources returns sources, optionally only those with status.
func (s *Service) ListSources(ctx context.Context, status model.SourceStatus) ([]model.Source, error) {
	return s.store.ListSources(ctx, store.SourceFilter{Status: status})
}

// SearchSources matches url, title, or description.
func (s *Service) SearchSources(ctx context.Context, query string) ([]model.Source, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("query is required", "query: required")
	}
	return s.store.ListSources(ctx, store.SourceFilter{Query: query, Limit: sourceSearchLimit})
}

// SourcesByType returns the sources of one type, for example vendor_docs.
func (s *Service) SourcesByType(ctx context.Context, sourceType string) ([]model.Source, error) {
	if sourceType == "" {
		return nil, apperr.Validation("sourceType is required", "sourceType: required")
	}
	return s.store.ListSources(ctx, store.SourceFilter{SourceType: sourceType})
}

// LinkSource attaches a source to an assertion. Linking the same pair again
// replaces the quote.
func (s *Service) LinkSource(ctx context.Context, in LinkSourceInput) (*model.SourceLink, error) {
	if in.AssertionID == "" {
		return nil, apperr.Validation("assertionId is required", "assertionId: required")
	}
	if in.SourceID == "" && in.SourceURL == "" {
		return nil, apperr.Validation("either sourceId or sourceUrl must be provided")
	}
	if _, err := s.store.GetAssertion(ctx, in.AssertionID); err != nil {
		return nil, err
	}

	sourceID := in.SourceID
	if sourceID == "" {
		raw := strings.TrimSpace(in.SourceURL)
		if err := checkURL(raw); err != nil {
			return nil, err
		}
		src := &model.Source{URL: raw}
		if err := s.store.UpsertSource(ctx, src); err != nil {
			return nil, err
		}
		sourceID = src.ID
	} else if _, err := s.store.GetSource(ctx, sourceID); err != nil {
		return nil, err
	}

	link := &model.SourceLink{AssertionID: in.AssertionID, SourceID: sourceID, Quote: in.Quote, AddedBy: in.AgentID}
	if err := s.store.LinkSource(ctx, link); err != nil {
		return nil, err
	}
	s.record(ctx, ActionSourceLinked, in.AgentID, map[string]any{
		"assertionId": in.AssertionID,
		"sourceId":    sourceID,
		"quote":       in.Quote,
	})
	return link, nil
}

// UpdateSource applies in to the source with id.
func (s *Service) UpdateSource(ctx context.Context, id string, in UpdateSourceInput) (*model.Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		src.Title = *in.Title
	}
	if in.Description != nil {
		src.Description = *in.Description
	}
	if in.SourceType != nil {
		src.SourceType = *in.SourceType
	}
	if err := s.store.UpdateSource(ctx, src); err != nil {
		return nil, err
	}
	s.record(ctx, ActionSourceUpdated, "", map[string]any{"sourceId": id, "changes": in})
	return src, nil
}

// ValidateSource marks a source as vetted. This is a human action.
func (s *Service) ValidateSource(ctx context.Context, id, validatedBy string) (*model.Source, error) {
	return s.review(ctx, id, validatedBy, model.SourceStatusValidated, ActionSourceValidated)
}

// RejectSource marks a source as unusable. This is a human action.
func (s *Service) RejectSource(ctx context.Context, id, validatedBy string) (*model.Source, error) {
	return s.review(ctx, id, validatedBy, model.SourceStatusRejected, ActionSourceRejected)
}

func (s *Service) review(ctx context.Context, id, validatedBy string, status model.SourceStatus, action string) (*model.Source, error) {
	if validatedBy == "" {
		return nil, apperr.Validation("validatedBy is required", "validatedBy: required")
	}
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	src.Status = status
	src.ValidatedAt = &now
	src.ValidatedBy = validatedBy
	if err := s.store.UpdateSource(ctx, src); err != nil {
		return nil, err
	}
	s.record(ctx, action, "", map[string]any{"sourceId": id, "validatedBy": validatedBy})
	return src, nil
}

// DeleteSource removes the source and its assertion links.
func (s *Service) DeleteSource(ctx context.Context, id string) error {
	if err := s.store.DeleteSource(ctx, id); err != nil {
		return err
	}
	s.record(ctx, ActionSourceDeleted, "", map[string]any{"sourceId": id})
	return nil
}
