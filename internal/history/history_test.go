package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/diff"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
	"github.com/sells-group/research-kb/internal/store/storetest"
)

const features = `{"categories":[{"name":"AI","features":[{"name":"Autocomplete"}]}],"highlights":["fast"]}`

type fixture struct {
	svc     *Service
	st      store.Store
	project *model.Project
	acme    *model.Entity
	source  *model.Source
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New(t)
	p := storetest.Project(t, st, "Dev Tools")
	now := time.Now().UTC().Truncate(time.Second)
	svc := New(st)
	svc.now = func() time.Time { return now }
	return &fixture{
		svc:     svc,
		st:      st,
		project: p,
		acme:    storetest.Entity(t, st, p.ID, "Acme"),
		source:  storetest.Source(t, st, "https://acme.dev/pricing"),
		now:     now,
	}
}

func (f *fixture) save(t *testing.T, e *model.Entity, st model.SchemaType, data string, daysAgo int) *model.Extraction {
	t.Helper()
	return storetest.Extraction(t, f.st, e.ID, f.source.ID, st, data, f.now.AddDate(0, 0, -daysAgo))
}

func TestExtractionHistory_Empty(t *testing.T) {
	f := newFixture(t)

	h, err := f.svc.ExtractionHistory(context.Background(), f.acme.ID, model.SchemaPricing, 0)
	require.NoError(t, err)
	assert.Equal(t, "Acme", h.EntityName)
	assert.Equal(t, 0, h.TotalExtractions)
	assert.NotNil(t, h.Extractions)
	assert.Empty(t, h.Extractions)
	assert.Nil(t, h.FirstExtraction)
	assert.Nil(t, h.AverageDaysBetween)
}

func TestExtractionHistory_Stats(t *testing.T) {
	f := newFixture(t)
	f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 20)
	f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 10)
	latest := f.save(t, f.acme, model.SchemaPricing, storetest.FreeAndPro, 5)

	h, err := f.svc.ExtractionHistory(context.Background(), f.acme.ID, model.SchemaPricing, 0)
	require.NoError(t, err)
	require.Len(t, h.Extractions, 3)
	assert.Equal(t, latest.ID, h.Extractions[0].ID)
	assert.Equal(t, "https://acme.dev/pricing", h.Extractions[0].SourceURL)
	require.NotNil(t, h.AverageDaysBetween)
	assert.InDelta(t, 7.5, *h.AverageDaysBetween, 0.001)
	assert.True(t, h.FirstExtraction.Equal(f.now.AddDate(0, 0, -20)))
	assert.True(t, h.LatestExtraction.Equal(f.now.AddDate(0, 0, -5)))

	// Three tiers is within the preview's item cap, so both survive.
	preview := gjson.ParseBytes(h.Extractions[0].DataPreview)
	assert.Equal(t, "Pro", preview.Get("tiers.1.name").String())
}

func TestExtractionHistory_UnknownEntity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ExtractionHistory(context.Background(), "missing", model.SchemaPricing, 0)
	assert.True(t, apperr.IsNotFound(err))
}

func TestLatestDiff_SingleExtraction(t *testing.T) {
	f := newFixture(t)
	only := f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 1)

	r, err := f.svc.LatestDiff(context.Background(), f.acme.ID, model.SchemaPricing)
	require.NoError(t, err)
	assert.False(t, r.HasPriorVersion)
	assert.Empty(t, r.Changes)
	assert.Equal(t, only.ID, r.NewExtractionID)
	assert.Contains(t, r.Message, "Only one pricing extraction")
}

func TestLatestDiff_NoExtractions(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.LatestDiff(context.Background(), f.acme.ID, model.SchemaPricing)
	require.NoError(t, err)
	assert.False(t, r.HasPriorVersion)
	assert.NotNil(t, r.Changes)
	assert.Equal(t, 0, r.Summary.Total())
}

func TestLatestDiff_AddedTier(t *testing.T) {
	f := newFixture(t)
	oldX := f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 14)
	newX := f.save(t, f.acme, model.SchemaPricing, storetest.FreeAndPro, 0)

	r, err := f.svc.LatestDiff(context.Background(), f.acme.ID, model.SchemaPricing)
	require.NoError(t, err)
	assert.True(t, r.HasPriorVersion)
	assert.Equal(t, oldX.ID, r.OldExtractionID)
	assert.Equal(t, newX.ID, r.NewExtractionID)
	assert.Equal(t, 14, r.DaysBetween)
	require.Len(t, r.Changes, 1)
	assert.Equal(t, diff.Added, r.Changes[0].Type)
	assert.Equal(t, "tiers[1]", r.Changes[0].Path)
	assert.Equal(t, "Pro", gjson.GetBytes(r.Changes[0].NewValue, "name").String())
	assert.Equal(t, diff.Summary{AddedCount: 1}, r.Summary)
}

func TestLatestDiff_IgnoresFailed(t *testing.T) {
	f := newFixture(t)
	f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 3)
	_, err := f.st.RecordFailedExtraction(context.Background(), store.NewExtraction{
		EntityID: f.acme.ID, SourceID: f.source.ID, SchemaType: model.SchemaPricing,
		Error: "timeout", ExtractedAt: f.now,
	})
	require.NoError(t, err)

	r, err := f.svc.LatestDiff(context.Background(), f.acme.ID, model.SchemaPricing)
	require.NoError(t, err)
	assert.False(t, r.HasPriorVersion)
}

func TestCompareExtractions(t *testing.T) {
	f := newFixture(t)
	a := f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 2)
	b := f.save(t, f.acme, model.SchemaPricing, storetest.FreeAndPro, 1)
	feat := f.save(t, f.acme, model.SchemaFeatures, features, 1)

	r, err := f.svc.CompareExtractions(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Summary.AddedCount)

	back, err := f.svc.CompareExtractions(context.Background(), b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Summary.RemovedCount)
	assert.Equal(t, diff.Reverse(r.Changes), back.Changes)

	_, err = f.svc.CompareExtractions(context.Background(), a.ID, feat.ID)
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.CompareExtractions(context.Background(), a.ID, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCompareExtractions_DifferentEntities(t *testing.T) {
	f := newFixture(t)
	other := storetest.Entity(t, f.st, f.project.ID, "Globex")
	a := f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 2)
	b := f.save(t, other, model.SchemaPricing, storetest.FreeTier, 1)

	_, err := f.svc.CompareExtractions(context.Background(), a.ID, b.ID)
	assert.True(t, apperr.IsValidation(err))
}

func TestRecentChanges_OnlyChangedPairInWindow(t *testing.T) {
	f := newFixture(t)
	globex := storetest.Entity(t, f.st, f.project.ID, "Globex")
	initech := storetest.Entity(t, f.st, f.project.ID, "Initech")

	// Acme: two in-window extractions that differ.
	f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 10)
	f.save(t, f.acme, model.SchemaPricing, storetest.FreeAndPro, 2)
	// Globex: two in-window extractions, identical.
	f.save(t, globex, model.SchemaPricing, storetest.FreeTier, 9)
	f.save(t, globex, model.SchemaPricing, storetest.FreeTier, 3)
	// Initech: only one in-window extraction.
	f.save(t, initech, model.SchemaPricing, storetest.FreeTier, 60)
	f.save(t, initech, model.SchemaPricing, storetest.FreeAndPro, 4)

	rc, err := f.svc.RecentChanges(context.Background(), RecentChangesInput{ProjectID: f.project.ID})
	require.NoError(t, err)
	assert.Equal(t, DefaultDaysBack, rc.DaysBack)
	require.Len(t, rc.EntitiesWithChanges, 1)
	assert.Equal(t, "Acme", rc.EntitiesWithChanges[0].EntityName)
	assert.Equal(t, 1, rc.EntitiesWithChanges[0].ChangeCount)
	assert.Equal(t, RecentChangesSummary{EntitiesChecked: 3, EntitiesWithChanges: 1, TotalChanges: 1}, rc.Summary)
}

func TestRecentChanges_SortedByChangeCount(t *testing.T) {
	f := newFixture(t)
	globex := storetest.Entity(t, f.st, f.project.ID, "Globex")

	f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 5)
	f.save(t, f.acme, model.SchemaPricing, storetest.FreeAndPro, 1)
	f.save(t, globex, model.SchemaPricing, storetest.FreeTier, 5)
	f.save(t, globex, model.SchemaPricing,
		`{"tiers":[{"name":"Starter","price":5,"billingCycle":"annual","features":["sso"]}],"hasFreeTier":false,"hasEnterprise":true}`, 1)

	rc, err := f.svc.RecentChanges(context.Background(), RecentChangesInput{ProjectID: f.project.ID, SchemaType: model.SchemaPricing, DaysBack: 7})
	require.NoError(t, err)
	require.Len(t, rc.EntitiesWithChanges, 2)
	assert.Equal(t, "Globex", rc.EntitiesWithChanges[0].EntityName)
	assert.Greater(t, rc.EntitiesWithChanges[0].ChangeCount, rc.EntitiesWithChanges[1].ChangeCount)
}

func TestRecentChanges_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecentChanges(context.Background(), RecentChangesInput{})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.RecentChanges(context.Background(), RecentChangesInput{ProjectID: f.project.ID, SchemaType: "bogus"})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.RecentChanges(context.Background(), RecentChangesInput{ProjectID: "missing"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestStaleExtractions(t *testing.T) {
	f := newFixture(t)
	// Superseded old row is not stale; its replacement is recent.
	f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 200)
	f.save(t, f.acme, model.SchemaPricing, storetest.FreeTier, 1)
	// Latest of its pair and older than the threshold.
	old := f.save(t, f.acme, model.SchemaFeatures, features, 120)

	stale, err := f.svc.StaleExtractions(context.Background(), 0)
	require.NoError(t, err)

	var ids []string
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, old.ID)
	for _, s := range stale {
		if s.ID == old.ID {
			assert.Equal(t, StaleAged, s.Reason)
			assert.Greater(t, s.AgeDays, 90)
		}
	}
}

func TestSummarizeChanges(t *testing.T) {
	changes, err := diff.Compare([]byte(`{"price":10,"name":"Pro"}`), []byte(`{"price":"10","seats":5}`))
	require.NoError(t, err)

	assert.Equal(t, []string{
		`~ price: 10 → "10"`,
		`+ seats: 5`,
		`- name: "Pro"`,
	}, SummarizeChanges(changes))
	assert.Empty(t, SummarizeChanges(nil))
}
