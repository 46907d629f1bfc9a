package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seed creates a project, one entity and one source.
func seed(t *testing.T, st Store) (*model.Project, *model.Entity, *model.Source) {
	t.Helper()
	ctx := context.Background()

	p := &model.Project{Name: "Dev Tools", Description: "AI coding assistants"}
	require.NoError(t, st.CreateProject(ctx, p))

	e := &model.Entity{ProjectID: p.ID, Name: "Acme", URL: "https://acme.dev", EntityType: "product"}
	require.NoError(t, st.UpsertEntity(ctx, e))

	src := &model.Source{URL: "https://acme.dev/pricing", Title: "Pricing"}
	require.NoError(t, st.UpsertSource(ctx, src))
	return p, e, src
}

const freeTier = `{"tiers":[{"name":"Free","price":0,"billingCycle":"monthly","features":[]}],"hasFreeTier":true,"hasEnterprise":false}`

// --- Projects ---

func TestSQLite_ProjectLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := &model.Project{Name: "CRM", SearchQuery: "best crm"}
	require.NoError(t, st.CreateProject(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, model.WorkflowDiscovery, p.Workflow)

	got, err := st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "best crm", got.SearchQuery)
	assert.Equal(t, 0, got.EntityCount)

	byName, err := st.FindProjectByName(ctx, "CRM")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, p.ID, byName.ID)

	missing, err := st.FindProjectByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	p.Workflow = model.WorkflowAnalysis
	require.NoError(t, st.UpdateProject(ctx, p))
	got, err = st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowAnalysis, got.Workflow)

	require.NoError(t, st.DeleteProject(ctx, p.ID))
	_, err = st.GetProject(ctx, p.ID)
	assert.True(t, apperr.IsNotFound(err))
	assert.True(t, apperr.IsNotFound(st.DeleteProject(ctx, p.ID)))
}

func TestSQLite_ListProjectsCountsEntities(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p, _, _ := seed(t, st)

	projects, err := st.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, p.ID, projects[0].ID)
	assert.Equal(t, 1, projects[0].EntityCount)
}

// --- Entities ---

func TestSQLite_UpsertEntityKeepsExistingFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p, e, _ := seed(t, st)

	again := &model.Entity{ProjectID: p.ID, Name: "Acme", Description: "Autocomplete"}
	require.NoError(t, st.UpsertEntity(ctx, again))
	assert.Equal(t, e.ID, again.ID)
	assert.Equal(t, "https://acme.dev", again.URL)
	assert.Equal(t, "Autocomplete", again.Description)
	assert.Equal(t, "Dev Tools", again.ProjectName)

	found, err := st.FindEntityByName(ctx, "", "acme")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, e.ID, found.ID)
}

func TestSQLite_ListEntitiesFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p, _, _ := seed(t, st)

	require.NoError(t, st.UpsertEntity(ctx, &model.Entity{ProjectID: p.ID, Name: "Beta", EntityType: "service"}))

	all, err := st.ListEntities(ctx, EntityFilter{ProjectID: p.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Acme", all[0].Name)

	services, err := st.ListEntities(ctx, EntityFilter{EntityType: "service"})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "Beta", services[0].Name)

	search, err := st.ListEntities(ctx, EntityFilter{Query: "acm"})
	require.NoError(t, err)
	assert.Len(t, search, 1)
}

func TestSQLite_DeleteProjectCascades(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p, e, _ := seed(t, st)

	require.NoError(t, st.DeleteProject(ctx, p.ID))
	_, err := st.GetEntity(ctx, e.ID)
	assert.True(t, apperr.IsNotFound(err))
}

// --- Assertions ---

func TestSQLite_AssertionWithReasoningAndSources(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, e, src := seed(t, st)

	conf := 0.8
	a := &model.Assertion{EntityID: e.ID, Claim: "Acme offers a free tier", Confidence: &conf, Category: "pricing"}
	require.NoError(t, st.CreateAssertion(ctx, a))
	assert.Equal(t, model.AssertionStatusClaim, a.Status)
	assert.Equal(t, model.CriticalityMedium, a.Criticality)

	_, err := st.AddReasoning(ctx, a.ID, "Pricing page lists Free plan")
	require.NoError(t, err)

	link := &model.SourceLink{AssertionID: a.ID, SourceID: src.ID, Quote: "Free forever"}
	require.NoError(t, st.LinkSource(ctx, link))
	assert.NotEmpty(t, link.ID)

	// Linking again updates the quote in place.
	relink := &model.SourceLink{AssertionID: a.ID, SourceID: src.ID, Quote: "Free plan"}
	require.NoError(t, st.LinkSource(ctx, relink))
	assert.Equal(t, link.ID, relink.ID)

	got, err := st.GetAssertion(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.EntityName)
	require.Len(t, got.Reasoning, 1)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "Free plan", got.Sources[0].Quote)
	require.NotNil(t, got.Sources[0].Source)
	assert.Equal(t, src.URL, got.Sources[0].Source.URL)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.8, *got.Confidence, 0.0001)

	entity, err := st.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entity.AssertionCount)
}

func TestSQLite_UpdateAssertion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, e, _ := seed(t, st)

	a := &model.Assertion{EntityID: e.ID, Claim: "SOC 2 certified", Criticality: model.CriticalityCritical}
	require.NoError(t, st.CreateAssertion(ctx, a))

	now := time.Now().UTC()
	a.Status = model.AssertionStatusEvidence
	a.ValidatedAt = &now
	a.ValidatedBy = "reviewer"
	a.EvidenceScreenshots = []string{"evidence/validation/x.png"}
	require.NoError(t, st.UpdateAssertion(ctx, a))

	got, err := st.GetAssertion(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssertionStatusEvidence, got.Status)
	assert.Equal(t, "reviewer", got.ValidatedBy)
	require.NotNil(t, got.ValidatedAt)
	assert.Equal(t, []string{"evidence/validation/x.png"}, got.EvidenceScreenshots)

	claims, err := st.ListAssertions(ctx, AssertionFilter{Status: model.AssertionStatusClaim})
	require.NoError(t, err)
	assert.Empty(t, claims)

	require.NoError(t, st.DeleteAssertion(ctx, a.ID))
	_, err = st.GetAssertion(ctx, a.ID)
	assert.True(t, apperr.IsNotFound(err))
}

// --- Sources ---

func TestSQLite_UpsertSourceByURL(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, _, src := seed(t, st)

	again := &model.Source{URL: src.URL, Description: "Plans"}
	require.NoError(t, st.UpsertSource(ctx, again))
	assert.Equal(t, src.ID, again.ID)
	assert.Equal(t, "Pricing", again.Title)
	assert.Equal(t, model.SourceStatusProposed, again.Status)

	again.Status = model.SourceStatusValidated
	require.NoError(t, st.UpdateSource(ctx, again))

	validated, err := st.ListSources(ctx, SourceFilter{Status: model.SourceStatusValidated})
	require.NoError(t, err)
	require.Len(t, validated, 1)

	missing, err := st.FindSourceByURL(ctx, "https://nowhere.dev")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// --- Logs ---

func TestSQLite_Logs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddLog(ctx, &model.ResearchLog{Action: "create_project", Details: json.RawMessage(`{"name":"x"}`)}))
	require.NoError(t, st.AddLog(ctx, &model.ResearchLog{Action: "create_entity", AgentID: "agent-1"}))

	logs, err := st.ListLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "create_entity", logs[0].Action)
	assert.JSONEq(t, `{"name":"x"}`, string(logs[1].Details))
}

// --- Extractions ---

func TestSQLite_HistoryEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	history, err := st.GetExtractionHistory(ctx, "missing", model.SchemaPricing, 0)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)

	latest, err := st.GetLatestExtraction(ctx, "missing", model.SchemaPricing)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSQLite_SaveExtractionValidates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, e, src := seed(t, st)

	_, err := st.SaveExtraction(ctx, NewExtraction{
		EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaPricing,
		Data: json.RawMessage(`{"tiers":"nope"}`),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	history, err := st.GetExtractionHistory(ctx, e.ID, model.SchemaPricing, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSQLite_SaveExtractionAppendsHistory(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, e, src := seed(t, st)

	base := time.Now().UTC().Add(-48 * time.Hour)
	conf := 0.9
	first, err := st.SaveExtraction(ctx, NewExtraction{
		EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaPricing,
		Data: json.RawMessage(freeTier), Confidence: &conf, ExtractedAt: base,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionStatusCompleted, first.Status)
	assert.Equal(t, "USD", gjsonString(first.Data, "currency"))

	second, err := st.SaveExtraction(ctx, NewExtraction{
		EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaPricing,
		Data: json.RawMessage(freeTier), ExtractedAt: base.Add(24 * time.Hour),
		RawQuotes: json.RawMessage(`{"hasFreeTier":"Free forever"}`),
	})
	require.NoError(t, err)

	history, err := st.GetExtractionHistory(ctx, e.ID, model.SchemaPricing, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
	assert.Equal(t, "Acme", history[0].EntityName)
	assert.Equal(t, src.URL, history[0].SourceURL)
	assert.JSONEq(t, `{"hasFreeTier":"Free forever"}`, string(history[0].RawQuotes))

	limited, err := st.GetExtractionHistory(ctx, e.ID, model.SchemaPricing, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	latest, err := st.GetLatestExtraction(ctx, e.ID, model.SchemaPricing)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)

	// The earlier row is untouched.
	got, err := st.GetExtraction(ctx, first.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(first.Data), string(got.Data))
	require.NotNil(t, got.Confidence)
}

func TestSQLite_RecordFailedAndUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, e, src := seed(t, st)

	x, err := st.RecordFailedExtraction(ctx, NewExtraction{
		EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaCompany,
		Data: json.RawMessage(`{"founded":1999}`), Error: "name: required",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionStatusFailed, x.Status)

	stale := model.ExtractionStatusStale
	require.NoError(t, st.UpdateExtraction(ctx, x.ID, ExtractionUpdate{Status: &stale, AssertionIDs: []string{"a1", "a2"}}))

	got, err := st.GetExtraction(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionStatusStale, got.Status)
	assert.Equal(t, "name: required", got.Error)
	assert.Equal(t, []string{"a1", "a2"}, got.AssertionIDs)
	assert.JSONEq(t, `{"founded":1999}`, string(got.Data))

	assert.True(t, apperr.IsValidation(st.UpdateExtraction(ctx, x.ID, ExtractionUpdate{})))
	assert.True(t, apperr.IsNotFound(st.UpdateExtraction(ctx, "missing", ExtractionUpdate{Status: &stale})))

	_, err = st.GetExtraction(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestSQLite_ListExtractionsByProjectSince(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p, e, src := seed(t, st)

	old := time.Now().UTC().AddDate(0, 0, -60)
	_, err := st.SaveExtraction(ctx, NewExtraction{EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaPricing, Data: json.RawMessage(freeTier), ExtractedAt: old})
	require.NoError(t, err)
	recent, err := st.SaveExtraction(ctx, NewExtraction{EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaPricing, Data: json.RawMessage(freeTier)})
	require.NoError(t, err)

	xs, err := st.ListExtractions(ctx, ExtractionFilter{ProjectID: p.ID, Since: time.Now().UTC().AddDate(0, 0, -30)})
	require.NoError(t, err)
	require.Len(t, xs, 1)
	assert.Equal(t, recent.ID, xs[0].ID)
}

func TestSQLite_ListStaleExtractions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, e, src := seed(t, st)
	now := time.Now().UTC()

	// Old but superseded: not stale.
	_, err := st.SaveExtraction(ctx, NewExtraction{EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaPricing,
		Data: json.RawMessage(freeTier), ExtractedAt: now.AddDate(0, 0, -200)})
	require.NoError(t, err)
	// Latest for pricing and older than 90 days: stale.
	agedLatest, err := st.SaveExtraction(ctx, NewExtraction{EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaPricing,
		Data: json.RawMessage(freeTier), ExtractedAt: now.AddDate(0, 0, -100)})
	require.NoError(t, err)
	// Fresh but expired: stale.
	past := now.Add(-time.Hour)
	expired, err := st.SaveExtraction(ctx, NewExtraction{EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaFeatures,
		Data: json.RawMessage(`{"categories":[],"highlights":[]}`), ExpiresAt: &past})
	require.NoError(t, err)
	// Fresh and unexpired: not stale.
	future := now.AddDate(0, 0, 30)
	_, err = st.SaveExtraction(ctx, NewExtraction{EntityID: e.ID, SourceID: src.ID, SchemaType: model.SchemaCompany,
		Data: json.RawMessage(`{"name":"Acme"}`), ExpiresAt: &future})
	require.NoError(t, err)

	stale, err := st.ListStaleExtractions(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	var ids []string
	for _, x := range stale {
		ids = append(ids, x.ID)
	}
	assert.ElementsMatch(t, []string{agedLatest.ID, expired.ID}, ids)
}

func TestSQLite_ScreenshotLinkedToExtraction(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, e, src := seed(t, st)

	shot := &model.Screenshot{FilePath: "screenshots/acme.png", URL: src.URL, FullPage: true, Width: 1920, Height: 1080}
	require.NoError(t, st.CreateScreenshot(ctx, shot))

	x, err := st.SaveExtraction(ctx, NewExtraction{EntityID: e.ID, SourceID: src.ID, ScreenshotID: shot.ID,
		SchemaType: model.SchemaPricing, Data: json.RawMessage(freeTier)})
	require.NoError(t, err)

	got, err := st.GetExtraction(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, shot.ID, got.ScreenshotID)
}

func gjsonString(raw []byte, path string) string {
	return gjson.GetBytes(raw, path).String()
}
