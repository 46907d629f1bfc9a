package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store/storetest"
)

func TestCreateAssertion_WithReasoningAndSource(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")

	a, err := svc.CreateAssertion(ctx, CreateAssertionInput{
		EntityID:    e.ID,
		Claim:       "Pro plan: $29/monthly",
		Category:    "pricing",
		Criticality: model.CriticalityHigh,
		Reasoning:   "Listed on the pricing page",
		SourceURL:   "https://acme.dev/pricing",
		SourceQuote: "$29 per month",
		AgentID:     "agent-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.AssertionStatusClaim, a.Status)
	assert.Equal(t, model.CriticalityHigh, a.Criticality)
	assert.Equal(t, "Acme", a.EntityName)
	require.Len(t, a.Reasoning, 1)
	assert.Equal(t, "Listed on the pricing page", a.Reasoning[0].Content)
	require.Len(t, a.Sources, 1)
	assert.Equal(t, "$29 per month", a.Sources[0].Quote)
	assert.Equal(t, model.SourceStatusProposed, a.Sources[0].Source.Status)

	logs, err := st.ListLogs(ctx, 10)
	require.NoError(t, err)
	var created *model.ResearchLog
	for i := range logs {
		if logs[i].Action == ActionAssertionCreated {
			created = &logs[i]
		}
	}
	require.NotNil(t, created)
	assert.Equal(t, "agent-1", created.AgentID)
	assert.JSONEq(t, `{"assertionId":"`+a.ID+`","entityId":"`+e.ID+`","claim":"Pro plan: $29/monthly"}`, string(created.Details))
}

func TestCreateAssertion_Validation(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")

	tests := []struct {
		name string
		in   CreateAssertionInput
	}{
		{"missing claim", CreateAssertionInput{EntityID: e.ID}},
		{"missing entity id", CreateAssertionInput{Claim: "x"}},
		{"bad criticality", CreateAssertionInput{EntityID: e.ID, Claim: "x", Criticality: "urgent"}},
		{"bad confidence", CreateAssertionInput{EntityID: e.ID, Claim: "x", Confidence: ptr(1.5)}},
		{"bad source url", CreateAssertionInput{EntityID: e.ID, Claim: "x", SourceURL: "acme.dev"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateAssertion(ctx, tt.in)
			assert.True(t, apperr.IsValidation(err), err)
		})
	}

	_, err := svc.CreateAssertion(ctx, CreateAssertionInput{EntityID: "missing", Claim: "x"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestValidateAndRejectAssertion(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")

	a, err := svc.CreateAssertion(ctx, CreateAssertionInput{EntityID: e.ID, Claim: "SOC 2 certified"})
	require.NoError(t, err)

	_, err = svc.ValidateAssertion(ctx, a.ID, "")
	assert.True(t, apperr.IsValidation(err))

	got, err := svc.ValidateAssertion(ctx, a.ID, "jo")
	require.NoError(t, err)
	assert.Equal(t, model.AssertionStatusEvidence, got.Status)
	assert.Equal(t, "jo", got.ValidatedBy)
	require.NotNil(t, got.ValidatedAt)

	got, err = svc.RejectAssertion(ctx, a.ID, "jo", "report is from 2021")
	require.NoError(t, err)
	assert.Equal(t, model.AssertionStatusRejected, got.Status)
	assert.Equal(t, "report is from 2021", got.RejectionReason)

	stored, err := svc.GetAssertion(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssertionStatusRejected, stored.Status)
	assert.Subset(t, actions(t, st), []string{ActionAssertionValidated, ActionAssertionRejected})

	_, err = svc.ValidateAssertion(ctx, "missing", "jo")
	assert.True(t, apperr.IsNotFound(err))
}

func TestAddHumanResponseAndEvidence(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")
	a, err := svc.CreateAssertion(ctx, CreateAssertionInput{EntityID: e.ID, Claim: "Supports SSO"})
	require.NoError(t, err)

	_, err = svc.AddHumanResponse(ctx, a.ID, HumanResponseInput{Response: "only on Enterprise"})
	assert.True(t, apperr.IsValidation(err))

	got, err := svc.AddHumanResponse(ctx, a.ID, HumanResponseInput{Response: "only on Enterprise", ValidatedBy: "jo", PartiallyValidated: true})
	require.NoError(t, err)
	assert.Equal(t, model.AssertionStatusClaim, got.Status)
	assert.True(t, got.PartiallyValidated)
	assert.NotNil(t, got.ValidatedAt)

	_, err = svc.AddEvidenceScreenshot(ctx, a.ID, "evidence/validation/a.png")
	require.NoError(t, err)
	got, err = svc.AddEvidenceScreenshot(ctx, a.ID, "evidence/validation/b.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"evidence/validation/a.png", "evidence/validation/b.png"}, got.EvidenceScreenshots)

	stored, err := svc.GetAssertion(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "only on Enterprise", stored.HumanResponse)
	assert.Len(t, stored.EvidenceScreenshots, 2)
}

func TestUpdateAssertion(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")
	a, err := svc.CreateAssertion(ctx, CreateAssertionInput{EntityID: e.ID, Claim: "Supports SSO"})
	require.NoError(t, err)

	got, err := svc.UpdateAssertion(ctx, a.ID, UpdateAssertionInput{
		Criticality:       ptr(model.CriticalityCritical),
		CitedInConclusion: ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "Supports SSO", got.Claim)
	assert.Equal(t, model.CriticalityCritical, got.Criticality)
	assert.True(t, got.CitedInConclusion)

	_, err = svc.UpdateAssertion(ctx, a.ID, UpdateAssertionInput{Criticality: ptr(model.Criticality("urgent"))})
	assert.True(t, apperr.IsValidation(err))
}

func TestAddReasoningAndDelete(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")
	a, err := svc.CreateAssertion(ctx, CreateAssertionInput{EntityID: e.ID, Claim: "Supports SSO"})
	require.NoError(t, err)

	r, err := svc.AddReasoning(ctx, a.ID, "Docs list SAML", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, r.AssertionID)

	_, err = svc.AddReasoning(ctx, "missing", "x", "")
	assert.True(t, apperr.IsNotFound(err))
	_, err = svc.AddReasoning(ctx, a.ID, " ", "")
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, svc.DeleteAssertion(ctx, a.ID))
	_, err = svc.GetAssertion(ctx, a.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestFindSimilarAssertions(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")

	for _, claim := range []string{"Offers a free tier with features: chat", "Offers enterprise pricing", "SOC 2 compliant"} {
		_, err := svc.CreateAssertion(ctx, CreateAssertionInput{EntityID: e.ID, Claim: claim})
		require.NoError(t, err)
	}

	similar, err := svc.FindSimilarAssertions(ctx, e.ID, "offers a free tier for students")
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "Offers a free tier with features: chat", similar[0].Claim)

	none, err := svc.FindSimilarAssertions(ctx, e.ID, "   ")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAddValidationNote(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")
	a, err := svc.CreateAssertion(ctx, CreateAssertionInput{EntityID: e.ID, Claim: "Has SSO"})
	require.NoError(t, err)

	_, err = svc.AddValidationNote(ctx, a.ID, model.NoteRoleAgent, "Checked the security page")
	require.NoError(t, err)
	_, err = svc.AddValidationNote(ctx, a.ID, model.NoteRoleHuman, "Only on enterprise")
	require.NoError(t, err)

	got, err := svc.GetAssertion(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got.ValidationNotes, 2)
	assert.Equal(t, model.NoteRoleAgent, got.ValidationNotes[0].Role)
	assert.Equal(t, "Only on enterprise", got.ValidationNotes[1].Content)
	assert.Equal(t, model.AssertionStatusClaim, got.Status)

	_, err = svc.AddValidationNote(ctx, a.ID, "bot", "x")
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.AddValidationNote(ctx, a.ID, model.NoteRoleHuman, " ")
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.AddValidationNote(ctx, "missing", model.NoteRoleHuman, "x")
	assert.True(t, apperr.IsNotFound(err))
}
