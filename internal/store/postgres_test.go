package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS extractions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProject(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "name", "description", "search_query", "workflow", "created_at", "updated_at", "count"}).
		AddRow("p1", "Dev Tools", "", "ai coding", model.WorkflowDiscovery, now, now, 3)
	mock.ExpectQuery(`FROM projects p WHERE p.id = \$1`).
		WithArgs("p1").
		WillReturnRows(rows)

	p, err := s.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Dev Tools", p.Name)
	assert.Equal(t, 3, p.EntityCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetExtraction_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM extractions x JOIN entities e ON e.id = x.entity_id .* WHERE x.id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetExtraction(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindProjectByName_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM projects p WHERE p.name = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.FindProjectByName(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO extractions`).
		WithArgs(pgxmock.AnyArg(), "e1", "s1", nil, "pricing", pgxmock.AnyArg(), nil,
			"completed", pgxmock.AnyArg(), "", "[]", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	x, err := s.SaveExtraction(context.Background(), NewExtraction{
		EntityID: "e1", SourceID: "s1", SchemaType: model.SchemaPricing, Data: json.RawMessage(freeTier),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ExtractionStatusCompleted, x.Status)
	assert.NotEmpty(t, x.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction_InvalidSkipsInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	_, err := s.SaveExtraction(context.Background(), NewExtraction{
		EntityID: "e1", SourceID: "s1", SchemaType: model.SchemaPricing, Data: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction_StorageError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO extractions`).
		WillReturnError(errors.New("connection refused"))

	_, err := s.SaveExtraction(context.Background(), NewExtraction{
		EntityID: "e1", SourceID: "s1", SchemaType: model.SchemaPricing, Data: json.RawMessage(freeTier),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsStorage(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateExtraction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE extractions SET status = \$1, error = \$2 WHERE id = \$3`).
		WithArgs("failed", "timeout", "x1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	status := model.ExtractionStatusFailed
	msg := "timeout"
	require.NoError(t, s.UpdateExtraction(context.Background(), "x1", ExtractionUpdate{Status: &status, Error: &msg}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteEntity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM entities WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteEntity(context.Background(), "ghost")
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListExtractions_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now().UTC().AddDate(0, 0, -30)

	mock.ExpectQuery(`WHERE true AND e.project_id = \$1 AND x.schema_type = \$2 AND x.extracted_at >= \$3 ORDER BY x.extracted_at DESC`).
		WithArgs("p1", "pricing", since).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	xs, err := s.ListExtractions(context.Background(), ExtractionFilter{ProjectID: "p1", SchemaType: model.SchemaPricing, Since: since})
	require.NoError(t, err)
	assert.NotNil(t, xs)
	assert.Empty(t, xs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStaleExtractions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`NOT EXISTS`).
		WithArgs("stale", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	xs, err := s.ListStaleExtractions(context.Background(), 90*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, xs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertEntity(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO entities .* ON CONFLICT \(project_id, name\) DO UPDATE .* RETURNING id`).
		WithArgs(pgxmock.AnyArg(), "p1", "Acme", "", "", "https://acme.dev", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("e1"))
	mock.ExpectQuery(`FROM entities e JOIN projects p ON p.id = e.project_id WHERE e.id = \$1`).
		WithArgs("e1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "project_name", "name", "description", "entity_type", "url", "created_at", "updated_at", "count"}).
			AddRow("e1", "p1", "Dev Tools", "Acme", "", "", "https://acme.dev", now, now, 0))

	e := &model.Entity{ProjectID: "p1", Name: "Acme", URL: "https://acme.dev"}
	require.NoError(t, s.UpsertEntity(context.Background(), e))
	assert.Equal(t, "e1", e.ID)
	assert.Equal(t, "Dev Tools", e.ProjectName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
