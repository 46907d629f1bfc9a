package store

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

// SaveExtraction validates in.Data against its schema and inserts a new
// completed row. Prior rows are never touched.
func (s *SQLiteStore) SaveExtraction(ctx context.Context, in NewExtraction) (*model.Extraction, error) {
	x, err := newExtraction(in, model.ExtractionStatusCompleted)
	if err != nil {
		return nil, err
	}
	return x, s.insertExtraction(ctx, x)
}

// RecordFailedExtraction inserts a failed row carrying in.Error. Data is
// stored as given, without schema validation.
func (s *SQLiteStore) RecordFailedExtraction(ctx context.Context, in NewExtraction) (*model.Extraction, error) {
	x, err := newExtraction(in, model.ExtractionStatusFailed)
	if err != nil {
		return nil, err
	}
	return x, s.insertExtraction(ctx, x)
}

func (s *SQLiteStore) insertExtraction(ctx context.Context, x *model.Extraction) error {
	ids, err := marshalStrings(x.AssertionIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extractions (id, entity_id, source_id, screenshot_id, schema_type, data, raw_quotes, status,
			confidence, error, assertion_ids, extracted_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		x.ID, x.EntityID, x.SourceID, nullable(x.ScreenshotID), string(x.SchemaType), string(x.Data), rawOrNil(x.RawQuotes),
		string(x.Status), x.Confidence, x.Error, ids, x.ExtractedAt, x.ExpiresAt,
	)
	return apperr.Storage("sqlite: insert extraction", err)
}

func (s *SQLiteStore) GetExtraction(ctx context.Context, id string) (*model.Extraction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+extractionColumns+extractionFrom+` WHERE x.id = ?`, id)
	x, err := scanExtraction(row)
	if err != nil {
		return nil, sqliteErr(err, "get extraction", "extraction", id)
	}
	return x, nil
}

// GetExtractionHistory returns rows for the pair, newest first. A limit of
// zero returns every row.
func (s *SQLiteStore) GetExtractionHistory(ctx context.Context, entityID string, schemaType model.SchemaType, limit int) ([]model.Extraction, error) {
	return s.ListExtractions(ctx, ExtractionFilter{EntityID: entityID, SchemaType: schemaType, Limit: limit})
}

// GetLatestExtraction returns the newest row for the pair, or nil when the
// pair has none.
func (s *SQLiteStore) GetLatestExtraction(ctx context.Context, entityID string, schemaType model.SchemaType) (*model.Extraction, error) {
	xs, err := s.ListExtractions(ctx, ExtractionFilter{EntityID: entityID, SchemaType: schemaType, Limit: 1})
	if err != nil || len(xs) == 0 {
		return nil, err
	}
	return &xs[0], nil
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.Extraction, error) {
	query := `SELECT ` + extractionColumns + extractionFrom + ` WHERE 1=1`
	var args []any

	if filter.EntityID != "" {
		query += ` AND x.entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.ProjectID != "" {
		query += ` AND e.project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.SchemaType != "" {
		query += ` AND x.schema_type = ?`
		args = append(args, string(filter.SchemaType))
	}
	if filter.Status != "" {
		query += ` AND x.status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND x.extracted_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY x.extracted_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return s.queryExtractions(ctx, "list extractions", query, args...)
}

func (s *SQLiteStore) queryExtractions(ctx context.Context, op, query string, args ...any) ([]model.Extraction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("sqlite: "+op, err)
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Extraction{}
	for rows.Next() {
		x, err := scanExtraction(rows)
		if err != nil {
			return nil, apperr.Storage("sqlite: scan extraction", err)
		}
		out = append(out, *x)
	}
	return out, apperr.Storage("sqlite: "+op+" iterate", rows.Err())
}

// UpdateExtraction changes the mutable fields of a row. Data is immutable.
func (s *SQLiteStore) UpdateExtraction(ctx context.Context, id string, upd ExtractionUpdate) error {
	var sets []string
	var args []any
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *upd.Error)
	}
	if upd.Confidence != nil {
		sets = append(sets, "confidence = ?")
		args = append(args, *upd.Confidence)
	}
	if upd.AssertionIDs != nil {
		ids, err := marshalStrings(upd.AssertionIDs)
		if err != nil {
			return err
		}
		sets = append(sets, "assertion_ids = ?")
		args = append(args, ids)
	}
	if len(sets) == 0 {
		return apperr.Validation("extraction update has no fields")
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, `UPDATE extractions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return apperr.Storage("sqlite: update extraction", err)
	}
	return checkRowsAffected(res, "extraction", id)
}

// ListStaleExtractions returns rows that are marked stale, have passed
// their expiry, or are the latest for their pair and older than maxAge.
func (s *SQLiteStore) ListStaleExtractions(ctx context.Context, maxAge time.Duration) ([]model.Extraction, error) {
	now := time.Now().UTC()
	query := `SELECT ` + extractionColumns + extractionFrom + `
		WHERE x.status = ?
		   OR (x.expires_at IS NOT NULL AND x.expires_at < ?)
		   OR (x.extracted_at < ? AND NOT EXISTS (
				SELECT 1 FROM extractions n
				WHERE n.entity_id = x.entity_id AND n.schema_type = x.schema_type AND n.extracted_at > x.extracted_at))
		ORDER BY x.extracted_at`
	return s.queryExtractions(ctx, "list stale extractions", query,
		string(model.ExtractionStatusStale), now, now.Add(-maxAge))
}
