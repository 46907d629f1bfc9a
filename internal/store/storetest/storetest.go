// Package storetest provides a migrated, throwaway SQLite store for tests in
// other packages.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/store"
)

// FreeTier is a valid pricing payload with a single free tier.
const FreeTier = `{"tiers":[{"name":"Free","price":0,"billingCycle":"monthly","features":[]}],"hasFreeTier":true,"hasEnterprise":false}`

// FreeAndPro adds a paid tier to FreeTier.
const FreeAndPro = `{"tiers":[{"name":"Free","price":0,"billingCycle":"monthly","features":[]},{"name":"Pro","price":29,"billingCycle":"monthly","features":[]}],"hasFreeTier":true,"hasEnterprise":false}`

// New opens a SQLite store in a temp dir and migrates it. The store is
// closed when the test ends.
func New(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// Project creates a project with the given name.
func Project(t *testing.T, st store.Store, name string) *model.Project {
	t.Helper()
	p := &model.Project{Name: name}
	require.NoError(t, st.CreateProject(context.Background(), p))
	return p
}

// Entity upserts an entity under projectID.
func Entity(t *testing.T, st store.Store, projectID, name string) *model.Entity {
	t.Helper()
	e := &model.Entity{ProjectID: projectID, Name: name, EntityType: "product"}
	require.NoError(t, st.UpsertEntity(context.Background(), e))
	return e
}

// Source upserts a source for url.
func Source(t *testing.T, st store.Store, url string) *model.Source {
	t.Helper()
	s := &model.Source{URL: url}
	require.NoError(t, st.UpsertSource(context.Background(), s))
	return s
}

// Extraction saves a completed extraction of data taken at the given time.
func Extraction(t *testing.T, st store.Store, entityID, sourceID string, schemaType model.SchemaType, data string, at time.Time) *model.Extraction {
	t.Helper()
	x, err := st.SaveExtraction(context.Background(), store.NewExtraction{
		EntityID:    entityID,
		SourceID:    sourceID,
		SchemaType:  schemaType,
		Data:        []byte(data),
		ExtractedAt: at,
	})
	require.NoError(t, err)
	return x
}
