package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.Project) error {
	p.ID = uuid.New().String()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Workflow == "" {
		p.Workflow = model.WorkflowDiscovery
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, search_query, workflow, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.SearchQuery, string(p.Workflow), now, now,
	)
	return apperr.Storage("sqlite: insert project", err)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = ?`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, sqliteErr(err, "get project", "project", id)
	}
	return p, nil
}

func (s *SQLiteStore) FindProjectByName(ctx context.Context, name string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.name = ?`, name)
	p, err := scanProject(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("sqlite: find project", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects p ORDER BY p.updated_at DESC`)
	if err != nil {
		return nil, apperr.Storage("sqlite: list projects", err)
	}
	defer rows.Close() //nolint:errcheck

	projects := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperr.Storage("sqlite: scan project", err)
		}
		projects = append(projects, *p)
	}
	return projects, apperr.Storage("sqlite: list projects iterate", rows.Err())
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, search_query = ?, workflow = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.SearchQuery, string(p.Workflow), p.UpdatedAt, p.ID,
	)
	if err != nil {
		return apperr.Storage("sqlite: update project", err)
	}
	return checkRowsAffected(res, "project", p.ID)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("sqlite: delete project", err)
	}
	return checkRowsAffected(res, "project", id)
}

// --- Entities ---

// UpsertEntity inserts e, or updates the existing entity with the same
// project and name. Empty optional fields do not overwrite stored values.
func (s *SQLiteStore) UpsertEntity(ctx context.Context, e *model.Entity) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, project_id, name, description, entity_type, url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, name) DO UPDATE SET
			description = CASE WHEN excluded.description = '' THEN entities.description ELSE excluded.description END,
			entity_type = CASE WHEN excluded.entity_type = '' THEN entities.entity_type ELSE excluded.entity_type END,
			url = CASE WHEN excluded.url = '' THEN entities.url ELSE excluded.url END,
			updated_at = excluded.updated_at`,
		uuid.New().String(), e.ProjectID, e.Name, e.Description, e.EntityType, e.URL, now, now,
	)
	if err != nil {
		return apperr.Storage("sqlite: upsert entity", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+entityFrom+` WHERE e.project_id = ? AND e.name = ?`, e.ProjectID, e.Name)
	got, err := scanEntity(row)
	if err != nil {
		return sqliteErr(err, "reload entity", "entity", e.Name)
	}
	*e = *got
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+entityFrom+` WHERE e.id = ?`, id)
	e, err := scanEntity(row)
	if err != nil {
		return nil, sqliteErr(err, "get entity", "entity", id)
	}
	return e, nil
}

func (s *SQLiteStore) FindEntityByName(ctx context.Context, projectID, name string) (*model.Entity, error) {
	query := `SELECT ` + entityColumns + entityFrom + ` WHERE lower(e.name) = lower(?)`
	args := []any{name}
	if projectID != "" {
		query += ` AND e.project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY e.created_at LIMIT 1`

	e, err := scanEntity(s.db.QueryRowContext(ctx, query, args...))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("sqlite: find entity", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	query := `SELECT ` + entityColumns + entityFrom + ` WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND e.project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.EntityType != "" {
		query += ` AND e.entity_type = ?`
		args = append(args, filter.EntityType)
	}
	if filter.Query != "" {
		query += ` AND (e.name LIKE ? OR e.description LIKE ?)`
		args = append(args, likePattern(filter.Query), likePattern(filter.Query))
	}
	query += ` ORDER BY e.name LIMIT ?`
	args = append(args, limitOr(filter.Limit, 1000))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("sqlite: list entities", err)
	}
	defer rows.Close() //nolint:errcheck

	entities := []model.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, apperr.Storage("sqlite: scan entity", err)
		}
		entities = append(entities, *e)
	}
	return entities, apperr.Storage("sqlite: list entities iterate", rows.Err())
}

func (s *SQLiteStore) UpdateEntity(ctx context.Context, e *model.Entity) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET name = ?, description = ?, entity_type = ?, url = ?, updated_at = ? WHERE id = ?`,
		e.Name, e.Description, e.EntityType, e.URL, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return apperr.Storage("sqlite: update entity", err)
	}
	return checkRowsAffected(res, "entity", e.ID)
}

func (s *SQLiteStore) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("sqlite: delete entity", err)
	}
	return checkRowsAffected(res, "entity", id)
}

// --- Assertions ---

func (s *SQLiteStore) CreateAssertion(ctx context.Context, a *model.Assertion) error {
	a.ID = uuid.New().String()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Status == "" {
		a.Status = model.AssertionStatusClaim
	}
	if a.Criticality == "" {
		a.Criticality = model.CriticalityMedium
	}
	if a.EvidenceScreenshots == nil {
		a.EvidenceScreenshots = []string{}
	}
	screenshots, err := marshalStrings(a.EvidenceScreenshots)
	if err != nil {
		return err
	}
	notes, err := marshalNotes(a.ValidationNotes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assertions (id, entity_id, claim, status, category, confidence, criticality, cited_in_conclusion,
			validated_at, validated_by, rejection_reason, human_response, partially_validated, evidence_screenshots,
			validation_notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EntityID, a.Claim, string(a.Status), a.Category, a.Confidence, string(a.Criticality), a.CitedInConclusion,
		a.ValidatedAt, a.ValidatedBy, a.RejectionReason, a.HumanResponse, a.PartiallyValidated, screenshots,
		notes, now, now,
	)
	return apperr.Storage("sqlite: insert assertion", err)
}

func (s *SQLiteStore) GetAssertion(ctx context.Context, id string) (*model.Assertion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assertionColumns+assertionFrom+` WHERE a.id = ?`, id)
	a, err := scanAssertion(row)
	if err != nil {
		return nil, sqliteErr(err, "get assertion", "assertion", id)
	}
	if err := s.loadAssertionDetail(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *SQLiteStore) loadAssertionDetail(ctx context.Context, a *model.Assertion) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, assertion_id, content, created_at FROM reasoning WHERE assertion_id = ? ORDER BY created_at`, a.ID)
	if err != nil {
		return apperr.Storage("sqlite: list reasoning", err)
	}
	a.Reasoning = []model.Reasoning{}
	for rows.Next() {
		var r model.Reasoning
		if err := rows.Scan(&r.ID, &r.AssertionID, &r.Content, &r.CreatedAt); err != nil {
			rows.Close() //nolint:errcheck
			return apperr.Storage("sqlite: scan reasoning", err)
		}
		a.Reasoning = append(a.Reasoning, r)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return apperr.Storage("sqlite: list reasoning iterate", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT l.id, l.assertion_id, l.source_id, l.quote, l.added_by, l.created_at, `+sourceColumns+`
		 FROM assertion_sources l JOIN sources s ON s.id = l.source_id
		 WHERE l.assertion_id = ? ORDER BY l.created_at`, a.ID)
	if err != nil {
		return apperr.Storage("sqlite: list assertion sources", err)
	}
	defer rows.Close() //nolint:errcheck

	a.Sources = []model.SourceLink{}
	for rows.Next() {
		link, err := scanSourceLink(rows)
		if err != nil {
			return apperr.Storage("sqlite: scan assertion source", err)
		}
		a.Sources = append(a.Sources, *link)
	}
	return apperr.Storage("sqlite: list assertion sources iterate", rows.Err())
}

func scanSourceLink(row scannable) (*model.SourceLink, error) {
	var l model.SourceLink
	var src model.Source
	err := row.Scan(&l.ID, &l.AssertionID, &l.SourceID, &l.Quote, &l.AddedBy, &l.CreatedAt,
		&src.ID, &src.URL, &src.Title, &src.Description, &src.SourceType, &src.Status, &src.ValidatedAt,
		&src.ValidatedBy, &src.CreatedAt, &src.UpdatedAt, &src.AssertionCount)
	if err != nil {
		return nil, err
	}
	l.Source = &src
	return &l, nil
}

func (s *SQLiteStore) ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.Assertion, error) {
	query := `SELECT ` + assertionColumns + assertionFrom + ` WHERE 1=1`
	var args []any

	if filter.EntityID != "" {
		query += ` AND a.entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.ProjectID != "" {
		query += ` AND e.project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND a.status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		query += ` AND a.category = ?`
		args = append(args, filter.Category)
	}
	if filter.Criticality != "" {
		query += ` AND a.criticality = ?`
		args = append(args, string(filter.Criticality))
	}
	if filter.Query != "" {
		query += ` AND a.claim LIKE ?`
		args = append(args, likePattern(filter.Query))
	}
	query += ` ORDER BY a.created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, 1000))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("sqlite: list assertions", err)
	}
	defer rows.Close() //nolint:errcheck

	assertions := []model.Assertion{}
	for rows.Next() {
		a, err := scanAssertion(rows)
		if err != nil {
			return nil, apperr.Storage("sqlite: scan assertion", err)
		}
		assertions = append(assertions, *a)
	}
	return assertions, apperr.Storage("sqlite: list assertions iterate", rows.Err())
}

func (s *SQLiteStore) UpdateAssertion(ctx context.Context, a *model.Assertion) error {
	a.UpdatedAt = time.Now().UTC()
	screenshots, err := marshalStrings(a.EvidenceScreenshots)
	if err != nil {
		return err
	}
	notes, err := marshalNotes(a.ValidationNotes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE assertions SET claim = ?, status = ?, category = ?, confidence = ?, criticality = ?,
			cited_in_conclusion = ?, validated_at = ?, validated_by = ?, rejection_reason = ?, human_response = ?,
			partially_validated = ?, evidence_screenshots = ?, validation_notes = ?, updated_at = ?
		 WHERE id = ?`,
		a.Claim, string(a.Status), a.Category, a.Confidence, string(a.Criticality),
		a.CitedInConclusion, a.ValidatedAt, a.ValidatedBy, a.RejectionReason, a.HumanResponse,
		a.PartiallyValidated, screenshots, notes, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return apperr.Storage("sqlite: update assertion", err)
	}
	return checkRowsAffected(res, "assertion", a.ID)
}

func (s *SQLiteStore) DeleteAssertion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assertions WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("sqlite: delete assertion", err)
	}
	return checkRowsAffected(res, "assertion", id)
}

func (s *SQLiteStore) AddReasoning(ctx context.Context, assertionID, content string) (*model.Reasoning, error) {
	r := &model.Reasoning{
		ID:          uuid.New().String(),
		AssertionID: assertionID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reasoning (id, assertion_id, content, created_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.AssertionID, r.Content, r.CreatedAt,
	)
	if err != nil {
		return nil, apperr.Storage("sqlite: insert reasoning", err)
	}
	return r, nil
}

// --- Sources ---

// UpsertSource inserts s, or refreshes the title/description/type of the
// source already stored under the same URL. Status is left alone on update.
func (s *SQLiteStore) UpsertSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC()
	if src.Status == "" {
		src.Status = model.SourceStatusProposed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, url, title, description, source_type, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET
			title = CASE WHEN excluded.title = '' THEN sources.title ELSE excluded.title END,
			description = CASE WHEN excluded.description = '' THEN sources.description ELSE excluded.description END,
			source_type = CASE WHEN excluded.source_type = '' THEN sources.source_type ELSE excluded.source_type END,
			updated_at = excluded.updated_at`,
		uuid.New().String(), src.URL, src.Title, src.Description, src.SourceType, string(src.Status), now, now,
	)
	if err != nil {
		return apperr.Storage("sqlite: upsert source", err)
	}
	got, err := s.FindSourceByURL(ctx, src.URL)
	if err != nil {
		return err
	}
	if got == nil {
		return apperr.NotFound("source", src.URL)
	}
	*src = *got
	return nil
}

func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources s WHERE s.id = ?`, id)
	src, err := scanSource(row)
	if err != nil {
		return nil, sqliteErr(err, "get source", "source", id)
	}
	return src, nil
}

func (s *SQLiteStore) FindSourceByURL(ctx context.Context, url string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources s WHERE s.url = ?`, url)
	src, err := scanSource(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("sqlite: find source", err)
	}
	return src, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources s WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND s.status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SourceType != "" {
		query += ` AND s.source_type = ?`
		args = append(args, filter.SourceType)
	}
	if filter.Query != "" {
		query += ` AND (s.url LIKE ? OR s.title LIKE ? OR s.description LIKE ?)`
		p := likePattern(filter.Query)
		args = append(args, p, p, p)
	}
	query += ` ORDER BY s.created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, 1000))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("sqlite: list sources", err)
	}
	defer rows.Close() //nolint:errcheck

	sources := []model.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, apperr.Storage("sqlite: scan source", err)
		}
		sources = append(sources, *src)
	}
	return sources, apperr.Storage("sqlite: list sources iterate", rows.Err())
}

func (s *SQLiteStore) UpdateSource(ctx context.Context, src *model.Source) error {
	src.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET url = ?, title = ?, description = ?, source_type = ?, status = ?, validated_at = ?,
			validated_by = ?, updated_at = ?
		 WHERE id = ?`,
		src.URL, src.Title, src.Description, src.SourceType, string(src.Status), src.ValidatedAt,
		src.ValidatedBy, src.UpdatedAt, src.ID,
	)
	if err != nil {
		return apperr.Storage("sqlite: update source", err)
	}
	return checkRowsAffected(res, "source", src.ID)
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("sqlite: delete source", err)
	}
	return checkRowsAffected(res, "source", id)
}

// LinkSource attaches a source to an assertion. Linking the same pair again
// replaces the quote.
func (s *SQLiteStore) LinkSource(ctx context.Context, link *model.SourceLink) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assertion_sources (id, assertion_id, source_id, quote, added_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (assertion_id, source_id) DO UPDATE SET
			quote = CASE WHEN excluded.quote = '' THEN assertion_sources.quote ELSE excluded.quote END`,
		uuid.New().String(), link.AssertionID, link.SourceID, link.Quote, link.AddedBy, now,
	)
	if err != nil {
		return apperr.Storage("sqlite: link source", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT l.id, l.assertion_id, l.source_id, l.quote, l.added_by, l.created_at, `+sourceColumns+`
		 FROM assertion_sources l JOIN sources s ON s.id = l.source_id
		 WHERE l.assertion_id = ? AND l.source_id = ?`, link.AssertionID, link.SourceID)
	got, err := scanSourceLink(row)
	if err != nil {
		return sqliteErr(err, "reload source link", "source link", link.AssertionID)
	}
	*link = *got
	return nil
}

// --- Activity log ---

func (s *SQLiteStore) AddLog(ctx context.Context, l *model.ResearchLog) error {
	l.ID = uuid.New().String()
	l.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_logs (id, action, details, agent_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.Action, rawOrNil(l.Details), l.AgentID, l.CreatedAt,
	)
	return apperr.Storage("sqlite: insert log", err)
}

func (s *SQLiteStore) ListLogs(ctx context.Context, limit int) ([]model.ResearchLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, details, agent_id, created_at FROM research_logs ORDER BY created_at DESC LIMIT ?`,
		limitOr(limit, 50),
	)
	if err != nil {
		return nil, apperr.Storage("sqlite: list logs", err)
	}
	defer rows.Close() //nolint:errcheck

	logs := []model.ResearchLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, apperr.Storage("sqlite: scan log", err)
		}
		logs = append(logs, *l)
	}
	return logs, apperr.Storage("sqlite: list logs iterate", rows.Err())
}

// --- Screenshots ---

func (s *SQLiteStore) CreateScreenshot(ctx context.Context, shot *model.Screenshot) error {
	shot.ID = uuid.New().String()
	if shot.CapturedAt.IsZero() {
		shot.CapturedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO screenshots (id, file_path, url, full_page, width, height, captured_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		shot.ID, shot.FilePath, shot.URL, shot.FullPage, shot.Width, shot.Height, shot.CapturedAt,
	)
	return apperr.Storage("sqlite: insert screenshot", err)
}
