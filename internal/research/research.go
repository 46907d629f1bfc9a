// Package research implements the knowledge-base tools: projects, entities,
// assertions, sources, and the search and gap reports built on them. Every
// mutation appends a ResearchLog row so the activity feed can replay what
// agents and humans did.
package research

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

// detailConcurrency bounds parallel assertion detail loads.
const detailConcurrency = 8

// Log actions written by this package.
const (
	ActionProjectCreated     = "project_created"
	ActionProjectUpdated     = "project_updated"
	ActionProjectDeleted     = "project_deleted"
	ActionEntityCreated      = "entity_created"
	ActionEntityUpdated      = "entity_updated"
	ActionEntityDeleted      = "entity_deleted"
	ActionAssertionCreated   = "assertion_created"
	ActionAssertionUpdated   = "assertion_updated"
	ActionAssertionValidated = "assertion_validated"
	ActionAssertionRejected  = "assertion_rejected"
	ActionAssertionDeleted   = "assertion_deleted"
	ActionReasoningAdded     = "reasoning_added"
	ActionHumanResponse      = "human_response_added"
	ActionEvidenceAdded      = "evidence_screenshot_added"
	ActionValidationNote     = "validation_note_added"
	ActionSourceCreated      = "source_created"
	ActionSourceUpdated      = "source_updated"
	ActionSourceValidated    = "source_validated"
	ActionSourceRejected     = "source_rejected"
	ActionSourceDeleted      = "source_deleted"
	ActionSourceLinked       = "source_linked"
)

// Service exposes the research tools over a store.
type Service struct {
	store store.Store
	now   func() time.Time
}

// New creates a Service backed by st.
func New(st store.Store) *Service {
	return &Service{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Store returns the underlying store.
func (s *Service) Store() store.Store {
	return s.store
}

// record appends an activity log row. Logging is best-effort: a failure is
// reported but never undoes the mutation it describes.
func (s *Service) record(ctx context.Context, action, agentID string, details map[string]any) {
	raw, err := json.Marshal(details)
	if err != nil {
		zap.L().Warn("research: marshal log details", zap.String("action", action), zap.Error(err))
		raw = nil
	}
	l := &model.ResearchLog{Action: action, AgentID: agentID, Details: raw}
	if err := s.store.AddLog(ctx, l); err != nil {
		zap.L().Warn("research: write activity log", zap.String("action", action), zap.Error(err))
	}
}

// withDetail reloads each assertion with its reasoning and source links.
func (s *Service) withDetail(ctx context.Context, as []model.Assertion) ([]model.Assertion, error) {
	out := make([]model.Assertion, len(as))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)
	for i := range as {
		g.Go(func() error {
			a, err := s.store.GetAssertion(gctx, as[i].ID)
			if err != nil {
				return err
			}
			out[i] = *a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
