package store

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

func (s *PostgresStore) SaveExtraction(ctx context.Context, in NewExtraction) (*model.Extraction, error) {
	x, err := newExtraction(in, model.ExtractionStatusCompleted)
	if err != nil {
		return nil, err
	}
	return x, s.insertExtraction(ctx, x)
}

func (s *PostgresStore) RecordFailedExtraction(ctx context.Context, in NewExtraction) (*model.Extraction, error) {
	x, err := newExtraction(in, model.ExtractionStatusFailed)
	if err != nil {
		return nil, err
	}
	return x, s.insertExtraction(ctx, x)
}

func (s *PostgresStore) insertExtraction(ctx context.Context, x *model.Extraction) error {
	ids, err := marshalStrings(x.AssertionIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extractions (id, entity_id, source_id, screenshot_id, schema_type, data, raw_quotes, status,
			confidence, error, assertion_ids, extracted_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		x.ID, x.EntityID, x.SourceID, nullable(x.ScreenshotID), string(x.SchemaType), string(x.Data), rawOrNil(x.RawQuotes),
		string(x.Status), x.Confidence, x.Error, ids, x.ExtractedAt, x.ExpiresAt,
	)
	return apperr.Storage("postgres: insert extraction", err)
}

func (s *PostgresStore) GetExtraction(ctx context.Context, id string) (*model.Extraction, error) {
	x, err := scanExtraction(s.pool.QueryRow(ctx, `SELECT `+extractionColumns+extractionFrom+` WHERE x.id = $1`, id))
	if err != nil {
		return nil, pgErr(err, "get extraction", "extraction", id)
	}
	return x, nil
}

func (s *PostgresStore) GetExtractionHistory(ctx context.Context, entityID string, schemaType model.SchemaType, limit int) ([]model.Extraction, error) {
	return s.ListExtractions(ctx, ExtractionFilter{EntityID: entityID, SchemaType: schemaType, Limit: limit})
}

func (s *PostgresStore) GetLatestExtraction(ctx context.Context, entityID string, schemaType model.SchemaType) (*model.Extraction, error) {
	xs, err := s.ListExtractions(ctx, ExtractionFilter{EntityID: entityID, SchemaType: schemaType, Limit: 1})
	if err != nil || len(xs) == 0 {
		return nil, err
	}
	return &xs[0], nil
}

func (s *PostgresStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.Extraction, error) {
	var a pgArgs
	query := `SELECT ` + extractionColumns + extractionFrom + ` WHERE true`
	if filter.EntityID != "" {
		query += ` AND x.entity_id = ` + a.add(filter.EntityID)
	}
	if filter.ProjectID != "" {
		query += ` AND e.project_id = ` + a.add(filter.ProjectID)
	}
	if filter.SchemaType != "" {
		query += ` AND x.schema_type = ` + a.add(string(filter.SchemaType))
	}
	if filter.Status != "" {
		query += ` AND x.status = ` + a.add(string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND x.extracted_at >= ` + a.add(filter.Since.UTC())
	}
	query += ` ORDER BY x.extracted_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + a.add(filter.Limit)
	}
	return s.queryExtractions(ctx, "list extractions", query, a...)
}

func (s *PostgresStore) queryExtractions(ctx context.Context, op, query string, args ...any) ([]model.Extraction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("postgres: "+op, err)
	}
	defer rows.Close()

	out := []model.Extraction{}
	for rows.Next() {
		x, err := scanExtraction(rows)
		if err != nil {
			return nil, apperr.Storage("postgres: scan extraction", err)
		}
		out = append(out, *x)
	}
	return out, apperr.Storage("postgres: "+op+" iterate", rows.Err())
}

func (s *PostgresStore) UpdateExtraction(ctx context.Context, id string, upd ExtractionUpdate) error {
	var a pgArgs
	var sets []string
	if upd.Status != nil {
		sets = append(sets, "status = "+a.add(string(*upd.Status)))
	}
	if upd.Error != nil {
		sets = append(sets, "error = "+a.add(*upd.Error))
	}
	if upd.Confidence != nil {
		sets = append(sets, "confidence = "+a.add(*upd.Confidence))
	}
	if upd.AssertionIDs != nil {
		ids, err := marshalStrings(upd.AssertionIDs)
		if err != nil {
			return err
		}
		sets = append(sets, "assertion_ids = "+a.add(ids))
	}
	if len(sets) == 0 {
		return apperr.Validation("extraction update has no fields")
	}

	query := `UPDATE extractions SET ` + strings.Join(sets, ", ") + ` WHERE id = ` + a.add(id)
	tag, err := s.pool.Exec(ctx, query, a...)
	if err != nil {
		return apperr.Storage("postgres: update extraction", err)
	}
	return checkTag(tag, "extraction", id)
}

func (s *PostgresStore) ListStaleExtractions(ctx context.Context, maxAge time.Duration) ([]model.Extraction, error) {
	now := time.Now().UTC()
	query := `SELECT ` + extractionColumns + extractionFrom + `
		WHERE x.status = $1
		   OR (x.expires_at IS NOT NULL AND x.expires_at < $2)
		   OR (x.extracted_at < $3 AND NOT EXISTS (
				SELECT 1 FROM extractions n
				WHERE n.entity_id = x.entity_id AND n.schema_type = x.schema_type AND n.extracted_at > x.extracted_at))
		ORDER BY x.extracted_at`
	return s.queryExtractions(ctx, "list stale extractions", query,
		string(model.ExtractionStatusStale), now, now.Add(-maxAge))
}
