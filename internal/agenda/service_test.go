package agenda

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
	"github.com/sells-group/research-kb/internal/store/storetest"
)

type fixture struct {
	svc     *Service
	st      store.Store
	project *model.Project
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New(t)
	f := &fixture{
		st:      st,
		project: storetest.Project(t, st, "Dev Tools"),
		clock:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = New(filepath.Join(t.TempDir(), "agenda"), st)
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	return f
}

func (f *fixture) entity(t *testing.T, name, url, entityType string) *model.Entity {
	t.Helper()
	e := &model.Entity{ProjectID: f.project.ID, Name: name, URL: url, EntityType: entityType}
	require.NoError(t, f.st.UpsertEntity(context.Background(), e))
	return e
}

func (f *fixture) create(t *testing.T, in CreateInput) *Agenda {
	t.Helper()
	in.ProjectID = f.project.ID
	if in.Name == "" {
		in.Name = "Pricing sweep"
	}
	if in.TaskType == "" {
		in.TaskType = "extract:pricing"
	}
	a, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return a
}

func names(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.EntityName)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestCreate_AllEntitiesByName(t *testing.T) {
	f := newFixture(t)
	f.entity(t, "Zed", "https://zed.dev", "product")
	f.entity(t, "Acme", "https://acme.io", "product")

	a := f.create(t, CreateInput{})

	assert.Len(t, a.ID, idLen)
	assert.Equal(t, "Dev Tools", a.ProjectName)
	assert.Equal(t, []string{"Acme", "Zed"}, names(a.Items))
	assert.Equal(t, Stats{Total: 2, Pending: 2}, a.Stats)
	assert.FileExists(t, filepath.Join(f.svc.dir, a.ID+".json"))

	got, err := f.svc.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Items, got.Items)
}

func TestCreate_EntityIDs(t *testing.T) {
	f := newFixture(t)
	f.entity(t, "Acme", "", "product")
	zed := f.entity(t, "Zed", "", "product")
	other := storetest.Project(t, f.st, "Other")
	stray := storetest.Entity(t, f.st, other.ID, "Stray")

	a := f.create(t, CreateInput{EntityIDs: []string{zed.ID, stray.ID}})
	assert.Equal(t, []string{"Zed"}, names(a.Items))
}

func TestCreate_Filter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acme := f.entity(t, "Acme", "https://acme.io", "product")
	f.entity(t, "Beta", "https://beta.io", "product")
	f.entity(t, "Corp", "", "product")
	f.entity(t, "Delta", "https://delta.io", "vendor")

	src := storetest.Source(t, f.st, "https://acme.io/pricing")
	storetest.Extraction(t, f.st, acme.ID, src.ID, model.SchemaPricing, storetest.FreeTier, f.clock)

	a := f.create(t, CreateInput{Filter: &Filter{MissingSchemaType: model.SchemaPricing, HasURL: ptr(true)}})
	assert.Equal(t, []string{"Beta", "Delta"}, names(a.Items))

	a = f.create(t, CreateInput{Filter: &Filter{HasURL: ptr(false)}})
	assert.Equal(t, []string{"Corp"}, names(a.Items))

	a = f.create(t, CreateInput{Filter: &Filter{EntityType: "vendor"}})
	assert.Equal(t, []string{"Delta"}, names(a.Items))

	_, err := f.svc.Create(ctx, CreateInput{
		ProjectID: f.project.ID, Name: "x", TaskType: "custom",
		Filter: &Filter{EntityType: "service"},
	})
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "no entities match")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{Name: "x", TaskType: "custom"})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: f.project.ID, TaskType: "custom"})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Create(ctx, CreateInput{ProjectID: "missing", Name: "x", TaskType: "custom"})
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.svc.Create(ctx, CreateInput{
		ProjectID: f.project.ID, Name: "x", TaskType: "custom",
		Filter: &Filter{MissingSchemaType: "reviews"},
	})
	assert.True(t, apperr.IsValidation(err))
}

func TestNext_CompleteFlow(t *testing.T) {
	f := newFixture(t)
	f.entity(t, "Acme", "https://acme.io", "product")
	f.entity(t, "Beta", "", "product")
	a := f.create(t, CreateInput{})

	next, err := f.svc.Next(a.ID)
	require.NoError(t, err)
	require.NotNil(t, next.Item)
	assert.Equal(t, "Acme", next.Item.EntityName)
	assert.Equal(t, ItemInProgress, next.Item.Status)
	assert.NotNil(t, next.Item.StartedAt)
	assert.Equal(t, 1, next.Position)
	assert.Equal(t, 1, next.Remaining)
	assert.Contains(t, next.Command, "extract:extract")
	assert.Contains(t, next.Command, `"schemaType": "pricing"`)
	assert.Contains(t, next.Command, "https://acme.io")

	done, err := f.svc.Complete(a.ID, "looked fine")
	require.NoError(t, err)
	require.NotNil(t, done.Completed)
	assert.Nil(t, done.Skipped)
	assert.Equal(t, ItemCompleted, done.Item().Status)
	assert.Equal(t, "looked fine", done.Completed.Notes)
	require.NotNil(t, done.NextItem)
	assert.Equal(t, "Beta", done.NextItem.EntityName)
	require.NotNil(t, done.Progress)
	assert.Equal(t, Progress{Percent: 50, Completed: 1, Remaining: 1, Total: 2}, *done.Progress)

	next, err = f.svc.Next(a.ID)
	require.NoError(t, err)
	assert.Empty(t, next.Command, "no url, no command")

	_, err = f.svc.Skip(a.ID, "no website")
	require.NoError(t, err)

	next, err = f.svc.Next(a.ID)
	require.NoError(t, err)
	assert.Nil(t, next.Item)
	assert.Equal(t, doneMessage, next.Message)
	assert.Equal(t, &Stats{Total: 2, Completed: 1, Skipped: 1}, next.Stats)
}

func TestFinish_PayloadNamesOutcome(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"Acme", "Beta", "Core", "Dyno"} {
		f.entity(t, name, "", "product")
	}
	a := f.create(t, CreateInput{})

	_, err := f.svc.Next(a.ID)
	require.NoError(t, err)
	skipped, err := f.svc.Skip(a.ID, "no website")
	require.NoError(t, err)
	require.NotNil(t, skipped.Skipped)
	assert.Equal(t, "Acme", skipped.Item().EntityName)
	assert.Nil(t, skipped.Progress)
	raw, err := json.Marshal(skipped)
	require.NoError(t, err)
	assert.Equal(t, "skipped", gjson.GetBytes(raw, "skipped.status").String())
	assert.False(t, gjson.GetBytes(raw, "completed").Exists())
	assert.False(t, gjson.GetBytes(raw, "item").Exists())

	_, err = f.svc.Next(a.ID)
	require.NoError(t, err)
	failed, err := f.svc.Fail(a.ID, "timeout")
	require.NoError(t, err)
	require.NotNil(t, failed.Failed)
	assert.Equal(t, "timeout", failed.Item().Error)
	raw, err = json.Marshal(failed)
	require.NoError(t, err)
	assert.Equal(t, "Core", gjson.GetBytes(raw, "nextItem.entityName").String())
	assert.Equal(t, "timeout", gjson.GetBytes(raw, "failed.error").String())

	_, err = f.svc.Next(a.ID)
	require.NoError(t, err)
	done, err := f.svc.Complete(a.ID, "")
	require.NoError(t, err)
	// Skipped and failed items do not count towards completion progress.
	assert.Equal(t, Progress{Percent: 25, Completed: 1, Remaining: 1, Total: 4}, *done.Progress)
	raw, err = json.Marshal(done)
	require.NoError(t, err)
	assert.Equal(t, "Core", gjson.GetBytes(raw, "completed.entityName").String())
	assert.EqualValues(t, 25, gjson.GetBytes(raw, "progress.percent").Int())

	st, err := f.svc.Status(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Progress.Completed, "status counts skipped items as done")
}

func TestNext_CustomTaskHasNoCommand(t *testing.T) {
	f := newFixture(t)
	f.entity(t, "Acme", "https://acme.io", "product")
	a := f.create(t, CreateInput{TaskType: "custom"})

	next, err := f.svc.Next(a.ID)
	require.NoError(t, err)
	assert.Empty(t, next.Command)
}

func TestFinish_NothingInProgress(t *testing.T) {
	f := newFixture(t)
	f.entity(t, "Acme", "", "product")
	a := f.create(t, CreateInput{})

	_, err := f.svc.Fail(a.ID, "boom")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "no item currently in progress")

	_, err = f.svc.Complete(a.ID, "")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8"} {
		f.entity(t, n, "", "product")
	}
	a := f.create(t, CreateInput{})

	for range 6 {
		_, err := f.svc.Next(a.ID)
		require.NoError(t, err)
		_, err = f.svc.Complete(a.ID, "")
		require.NoError(t, err)
	}
	_, err := f.svc.Next(a.ID)
	require.NoError(t, err)

	r, err := f.svc.Status(a.ID)
	require.NoError(t, err)
	assert.Equal(t, Progress{Percent: 75, Completed: 6, Remaining: 2, Total: 8}, r.Progress)
	require.NotNil(t, r.CurrentItem)
	assert.Equal(t, "A7", r.CurrentItem.EntityName)
	assert.Equal(t, []string{"A6", "A5", "A4", "A3", "A2"}, names(r.RecentlyCompleted))
	assert.Equal(t, []string{"A8"}, names(r.NextItems))
	assert.Equal(t, "extract:pricing", r.Agenda.TaskType)
}

func TestStatus_CurrentFallsBackToPending(t *testing.T) {
	f := newFixture(t)
	f.entity(t, "Acme", "", "product")
	a := f.create(t, CreateInput{})

	r, err := f.svc.Status(a.ID)
	require.NoError(t, err)
	require.NotNil(t, r.CurrentItem)
	assert.Equal(t, ItemPending, r.CurrentItem.Status)
	assert.Equal(t, 0, r.Progress.Percent)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"A", "B", "C", "D"} {
		f.entity(t, n, "", "product")
	}
	a := f.create(t, CreateInput{})

	step := func(finish func(string) error) {
		_, err := f.svc.Next(a.ID)
		require.NoError(t, err)
		require.NoError(t, finish(a.ID))
	}
	step(func(id string) error { _, err := f.svc.Complete(id, "ok"); return err })
	step(func(id string) error { _, err := f.svc.Skip(id, "later"); return err })
	step(func(id string) error { _, err := f.svc.Fail(id, "timeout"); return err })
	_, err := f.svc.Next(a.ID)
	require.NoError(t, err)

	got, err := f.svc.Reset(a.ID, ResetOptions{Completed: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Pending: 3, Completed: 1}, got.Stats)
	for _, it := range got.Items {
		if it.Status == ItemPending {
			assert.Nil(t, it.StartedAt)
			assert.Nil(t, it.CompletedAt)
			assert.Empty(t, it.Error)
			assert.Empty(t, it.Notes)
		}
	}

	got, err = f.svc.Reset(a.ID, ResetOptions{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 4, Pending: 4}, got.Stats)
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t)
	f.entity(t, "Acme", "", "product")
	first := f.create(t, CreateInput{Name: "First"})
	second := f.create(t, CreateInput{Name: "Second"})

	_, err := f.svc.Next(first.ID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.svc.dir, "broken.json"), []byte("{"), 0o644))

	list, err := f.svc.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "First", list[0].Name)
	assert.Equal(t, second.ID, list[1].ID)

	require.NoError(t, f.svc.Delete(second.ID))
	assert.True(t, apperr.IsNotFound(f.svc.Delete(second.ID)))

	_, err = f.svc.Get(second.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestList_MissingDir(t *testing.T) {
	svc := New(filepath.Join(t.TempDir(), "none"), nil)
	list, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGet_RejectsPathLikeIDs(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get("../../etc/passwd")
	assert.True(t, apperr.IsValidation(err))
}

func TestSuggest(t *testing.T) {
	f := newFixture(t)
	acme := f.entity(t, "Acme", "https://acme.io", "product")
	f.entity(t, "Beta", "https://beta.io", "product")
	f.entity(t, "Corp", "", "product")

	src := storetest.Source(t, f.st, "https://acme.io/pricing")
	storetest.Extraction(t, f.st, acme.ID, src.ID, model.SchemaPricing, storetest.FreeTier, f.clock)

	got, err := f.svc.Suggest(context.Background(), f.project.ID)
	require.NoError(t, err)
	require.Len(t, got, len(model.SchemaTypes))
	assert.Equal(t, "extract:features", got[0].TaskType)
	assert.Equal(t, 2, got[0].EntityCount)
	last := got[len(got)-1]
	assert.Equal(t, "extract:pricing", last.TaskType)
	assert.Equal(t, 1, last.EntityCount)
	assert.Equal(t, "1 entities with URLs are missing pricing data", last.Description)
}
