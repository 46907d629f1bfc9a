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

func TestCreateSource_UpsertKeepsStatus(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	src, err := svc.CreateSource(ctx, CreateSourceInput{URL: "https://acme.dev/pricing", Title: "Acme pricing", SourceType: "vendor_docs"})
	require.NoError(t, err)
	assert.Equal(t, model.SourceStatusProposed, src.Status)

	_, err = svc.ValidateSource(ctx, src.ID, "jo")
	require.NoError(t, err)

	again, err := svc.CreateSource(ctx, CreateSourceInput{URL: "https://acme.dev/pricing", Description: "plans page"})
	require.NoError(t, err)
	assert.Equal(t, src.ID, again.ID)
	assert.Equal(t, "Acme pricing", again.Title)
	assert.Equal(t, "plans page", again.Description)
	assert.Equal(t, model.SourceStatusValidated, again.Status)
	assert.Contains(t, actions(t, st), ActionSourceValidated)
}

func TestCreateSource_InvalidURL(t *testing.T) {
	svc, _ := newService(t)
	for _, raw := range []string{"", "acme.dev", "ftp://acme.dev/file", "https://"} {
		_, err := svc.CreateSource(context.Background(), CreateSourceInput{URL: raw})
		assert.True(t, apperr.IsValidation(err), raw)
	}
}

func TestLinkSource(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := storetest.Project(t, st, "Dev Tools")
	e := storetest.Entity(t, st, p.ID, "Acme")
	a, err := svc.CreateAssertion(ctx, CreateAssertionInput{EntityID: e.ID, Claim: "Supports SSO"})
	require.NoError(t, err)

	first, err := svc.LinkSource(ctx, LinkSourceInput{AssertionID: a.ID, SourceURL: "https://acme.dev/security", Quote: "SAML SSO"})
	require.NoError(t, err)

	second, err := svc.LinkSource(ctx, LinkSourceInput{AssertionID: a.ID, SourceID: first.SourceID, Quote: "SAML and OIDC"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "SAML and OIDC", second.Quote)

	got, err := svc.GetAssertion(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, got.Sources, 1)

	_, err = svc.LinkSource(ctx, LinkSourceInput{AssertionID: a.ID})
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.LinkSource(ctx, LinkSourceInput{AssertionID: "missing", SourceID: first.SourceID})
	assert.True(t, apperr.IsNotFound(err))
	_, err = svc.LinkSource(ctx, LinkSourceInput{AssertionID: a.ID, SourceID: "missing"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestSourceQueries(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	docs, err := svc.CreateSource(ctx, CreateSourceInput{URL: "https://acme.dev/docs", Title: "Acme docs", SourceType: "vendor_docs"})
	require.NoError(t, err)
	_, err = svc.CreateSource(ctx, CreateSourceInput{URL: "https://news.example.com/acme-raises", SourceType: "news"})
	require.NoError(t, err)

	byType, err := svc.SourcesByType(ctx, "vendor_docs")
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, docs.ID, byType[0].ID)

	found, err := svc.SearchSources(ctx, "raises")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = svc.RejectSource(ctx, docs.ID, "jo")
	require.NoError(t, err)
	rejected, err := svc.ListSources(ctx, model.SourceStatusRejected)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, docs.ID, rejected[0].ID)

	byURL, err := svc.FindSourceByURL(ctx, " https://acme.dev/docs ")
	require.NoError(t, err)
	require.NotNil(t, byURL)

	updated, err := svc.UpdateSource(ctx, docs.ID, UpdateSourceInput{Title: ptr("Acme developer docs")})
	require.NoError(t, err)
	assert.Equal(t, "Acme developer docs", updated.Title)

	require.NoError(t, svc.DeleteSource(ctx, docs.ID))
	missing, err := svc.FindSourceByURL(ctx, "https://acme.dev/docs")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Contains(t, actions(t, st), ActionSourceDeleted)
}
