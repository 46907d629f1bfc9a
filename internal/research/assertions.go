package research

import (
	"context"
	"strings"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

const (
	assertionSearchLimit = 100
	similarPrefixWords   = 3
)

// CreateAssertionInput is the input to CreateAssertion. Reasoning and
// SourceURL are optional and attached in the same call.
type CreateAssertionInput struct {
	EntityID    string            `json:"entityId"`
	Claim       string            `json:"claim"`
	Category    string            `json:"category,omitempty"`
	Confidence  *float64          `json:"confidence,omitempty"`
	Criticality model.Criticality `json:"criticality,omitempty"`
	Reasoning   string            `json:"reasoning,omitempty"`
	SourceURL   string            `json:"sourceUrl,omitempty"`
	SourceQuote string            `json:"sourceQuote,omitempty"`
	SourceType  string            `json:"sourceType,omitempty"`
	AgentID     string            `json:"agentId,omitempty"`
}

// UpdateAssertionInput carries the fields to change. Nil fields are kept.
type UpdateAssertionInput struct {
	Claim             *string            `json:"claim,omitempty"`
	Category          *string            `json:"category,omitempty"`
	Confidence        *float64           `json:"confidence,omitempty"`
	Criticality       *model.Criticality `json:"criticality,omitempty"`
	CitedInConclusion *bool              `json:"citedInConclusion,omitempty"`
}

// SearchAssertionsInput filters SearchAssertions.
type SearchAssertionsInput struct {
	EntityID    string                `json:"entityId,omitempty"`
	ProjectID   string                `json:"projectId,omitempty"`
	Query       string                `json:"query,omitempty"`
	Category    string                `json:"category,omitempty"`
	Status      model.AssertionStatus `json:"status,omitempty"`
	Criticality model.Criticality     `json:"criticality,omitempty"`
}

// HumanResponseInput records a validator's notes on an assertion.
type HumanResponseInput struct {
	Response           string `json:"response"`
	ValidatedBy        string `json:"validatedBy"`
	PartiallyValidated bool   `json:"partiallyValidated,omitempty"`
}

// CreateAssertion records a new claim about an entity. A sourceUrl is
// upserted as a proposed source and linked with the optional quote.
func (s *Service) CreateAssertion(ctx context.Context, in CreateAssertionInput) (*model.Assertion, error) {
	var issues []string
	if in.EntityID == "" {
		issues = append(issues, "entityId: required")
	}
	claim := strings.TrimSpace(in.Claim)
	if claim == "" {
		issues = append(issues, "claim: required")
	}
	if in.Criticality != "" && !in.Criticality.Valid() {
		issues = append(issues, "criticality: unknown value "+string(in.Criticality))
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		issues = append(issues, "confidence: must be between 0 and 1")
	}
	if in.SourceURL != "" && checkURL(in.SourceURL) != nil {
		issues = append(issues, "sourceUrl: must be an absolute http(s) URL")
	}
	if len(issues) > 0 {
		return nil, apperr.Validation("invalid assertion", issues...)
	}
	if _, err := s.store.GetEntity(ctx, in.EntityID); err != nil {
		return nil, err
	}

	a := &model.Assertion{
		EntityID:    in.EntityID,
		Claim:       claim,
		Status:      model.AssertionStatusClaim,
		Category:    in.Category,
		Confidence:  in.Confidence,
		Criticality: in.Criticality,
	}
	if err := s.store.CreateAssertion(ctx, a); err != nil {
		return nil, err
	}

	if in.Reasoning != "" {
		if _, err := s.store.AddReasoning(ctx, a.ID, in.Reasoning); err != nil {
			return nil, err
		}
	}
	if in.SourceURL != "" {
		src := &model.Source{URL: in.SourceURL, SourceType: in.SourceType}
		if err := s.store.UpsertSource(ctx, src); err != nil {
			return nil, err
		}
		link := &model.SourceLink{AssertionID: a.ID, SourceID: src.ID, Quote: in.SourceQuote, AddedBy: in.AgentID}
		if err := s.store.LinkSource(ctx, link); err != nil {
			return nil, err
		}
	}

	s.record(ctx, ActionAssertionCreated, in.AgentID, map[string]any{
		"assertionId": a.ID,
		"entityId":    in.EntityID,
		"claim":       claim,
	})
	return s.store.GetAssertion(ctx, a.ID)
}

// GetAssertion returns the assertion with its reasoning and sources.
func (s *Service) GetAssertion(ctx context.Context, id string) (*model.Assertion, error) {
	return s.store.GetAssertion(ctx, id)
}

// ListAssertions returns the assertions of an entity with detail, newest
// first.
func (s *Service) ListAssertions(ctx context.Context, entityID string) ([]model.Assertion, error) {
	if entityID == "" {
		return nil, apperr.Validation("entityId is required", "entityId: required")
	}
	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{EntityID: entityID})
	if err != nil {
		return nil, err
	}
	return s.withDetail(ctx, as)
}

// SearchAssertions filters assertions across entities and projects.
func (s *Service) SearchAssertions(ctx context.Context, in SearchAssertionsInput) ([]model.Assertion, error) {
	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{
		EntityID:    in.EntityID,
		ProjectID:   in.ProjectID,
		Status:      in.Status,
		Category:    in.Category,
		Criticality: in.Criticality,
		Query:       in.Query,
		Limit:       assertionSearchLimit,
	})
	if err != nil {
		return nil, err
	}
	return s.withDetail(ctx, as)
}

// UpdateAssertion applies in to the assertion with id.
func (s *Service) UpdateAssertion(ctx context.Context, id string, in UpdateAssertionInput) (*model.Assertion, error) {
	a, err := s.store.GetAssertion(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Claim != nil {
		claim := strings.TrimSpace(*in.Claim)
		if claim == "" {
			return nil, apperr.Validation("claim cannot be empty", "claim: required")
		}
		a.Claim = claim
	}
	if in.Category != nil {
		a.Category = *in.Category
	}
	if in.Confidence != nil {
		a.Confidence = in.Confidence
	}
	if in.Criticality != nil {
		if !in.Criticality.Valid() {
			return nil, apperr.Validationf("unknown criticality %q", *in.Criticality)
		}
		a.Criticality = *in.Criticality
	}
	if in.CitedInConclusion != nil {
		a.CitedInConclusion = *in.CitedInConclusion
	}

	if err := s.store.UpdateAssertion(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, ActionAssertionUpdated, "", map[string]any{"assertionId": id, "changes": in})
	return a, nil
}

// ValidateAssertion promotes a claim to evidence. This is a human action.
func (s *Service) ValidateAssertion(ctx context.Context, id, validatedBy string) (*model.Assertion, error) {
	if validatedBy == "" {
		return nil, apperr.Validation("validatedBy is required", "validatedBy: required")
	}
	a, err := s.store.GetAssertion(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	a.Status = model.AssertionStatusEvidence
	a.ValidatedAt = &now
	a.ValidatedBy = validatedBy
	a.RejectionReason = ""
	if err := s.store.UpdateAssertion(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, ActionAssertionValidated, "", map[string]any{"assertionId": id, "validatedBy": validatedBy})
	return a, nil
}

// RejectAssertion marks a claim rejected with an optional reason. This is a
// human action.
func (s *Service) RejectAssertion(ctx context.Context, id, validatedBy, reason string) (*model.Assertion, error) {
	if validatedBy == "" {
		return nil, apperr.Validation("validatedBy is required", "validatedBy: required")
	}
	a, err := s.store.GetAssertion(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	a.Status = model.AssertionStatusRejected
	a.ValidatedAt = &now
	a.ValidatedBy = validatedBy
	a.RejectionReason = reason
	if err := s.store.UpdateAssertion(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, ActionAssertionRejected, "", map[string]any{
		"assertionId":     id,
		"validatedBy":     validatedBy,
		"rejectionReason": reason,
	})
	return a, nil
}

// AddHumanResponse stores a validator's notes without changing the status.
func (s *Service) AddHumanResponse(ctx context.Context, id string, in HumanResponseInput) (*model.Assertion, error) {
	var issues []string
	if strings.TrimSpace(in.Response) == "" {
		issues = append(issues, "response: required")
	}
	if in.ValidatedBy == "" {
		issues = append(issues, "validatedBy: required")
	}
	if len(issues) > 0 {
		return nil, apperr.Validation("response and validatedBy are required", issues...)
	}
	a, err := s.store.GetAssertion(ctx, id)
	if err != nil {
		return nil, err
	}
	a.HumanResponse = in.Response
	a.ValidatedBy = in.ValidatedBy
	a.PartiallyValidated = in.PartiallyValidated
	if in.PartiallyValidated {
		now := s.now()
		a.ValidatedAt = &now
	}
	if err := s.store.UpdateAssertion(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, ActionHumanResponse, "", map[string]any{
		"assertionId":        id,
		"validatedBy":        in.ValidatedBy,
		"partiallyValidated": in.PartiallyValidated,
	})
	return a, nil
}

// AddEvidenceScreenshot appends a stored screenshot path to the assertion.
func (s *Service) AddEvidenceScreenshot(ctx context.Context, id, path string) (*model.Assertion, error) {
	if path == "" {
		return nil, apperr.Validation("screenshot path is required", "path: required")
	}
	a, err := s.store.GetAssertion(ctx, id)
	if err != nil {
		return nil, err
	}
	a.EvidenceScreenshots = append(a.EvidenceScreenshots, path)
	if err := s.store.UpdateAssertion(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, ActionEvidenceAdded, "", map[string]any{"assertionId": id, "path": path})
	return a, nil
}

// AddValidationNote appends a message to the assertion's validation thread.
func (s *Service) AddValidationNote(ctx context.Context, id string, role model.NoteRole, content string) (*model.Assertion, error) {
	if role != model.NoteRoleHuman && role != model.NoteRoleAgent {
		return nil, apperr.Validationf("role must be human or agent, got %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("note content is required", "content: required")
	}
	a, err := s.store.GetAssertion(ctx, id)
	if err != nil {
		return nil, err
	}
	a.ValidationNotes = append(a.ValidationNotes, model.ValidationNote{Role: role, Content: content, Timestamp: s.now()})
	if err := s.store.UpdateAssertion(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, ActionValidationNote, "", map[string]any{"assertionId": id, "role": role})
	return a, nil
}

// DeleteAssertion removes the assertion with its reasoning and source links.
func (s *Service) DeleteAssertion(ctx context.Context, id string) error {
	if err := s.store.DeleteAssertion(ctx, id); err != nil {
		return err
	}
	s.record(ctx, ActionAssertionDeleted, "", map[string]any{"assertionId": id})
	return nil
}

// AddReasoning attaches an explanation to an existing assertion.
func (s *Service) AddReasoning(ctx context.Context, assertionID, content, agentID string) (*model.Reasoning, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("reasoning content is required", "content: required")
	}
	if _, err := s.store.GetAssertion(ctx, assertionID); err != nil {
		return nil, err
	}
	r, err := s.store.AddReasoning(ctx, assertionID, content)
	if err != nil {
		return nil, err
	}
	s.record(ctx, ActionReasoningAdded, agentID, map[string]any{"assertionId": assertionID, "reasoningId": r.ID})
	return r, nil
}

// FindSimilarAssertions returns assertions on the entity whose claim
// contains the first three words of claim. Use it before creating a claim to
// avoid duplicates.
func (s *Service) FindSimilarAssertions(ctx context.Context, entityID, claim string) ([]model.Assertion, error) {
	words := strings.Fields(claim)
	if len(words) == 0 {
		return []model.Assertion{}, nil
	}
	if len(words) > similarPrefixWords {
		words = words[:similarPrefixWords]
	}
	as, err := s.store.ListAssertions(ctx, store.AssertionFilter{
		EntityID: entityID,
		Query:    strings.Join(words, " "),
	})
	if err != nil {
		return nil, err
	}
	return s.withDetail(ctx, as)
}
