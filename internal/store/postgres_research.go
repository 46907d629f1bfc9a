package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	p.ID = uuid.New().String()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Workflow == "" {
		p.Workflow = model.WorkflowDiscovery
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, description, search_query, workflow, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.Description, p.SearchQuery, string(p.Workflow), now, now,
	)
	return apperr.Storage("postgres: insert project", err)
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`, id))
	if err != nil {
		return nil, pgErr(err, "get project", "project", id)
	}
	return p, nil
}

func (s *PostgresStore) FindProjectByName(ctx context.Context, name string) (*model.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.name = $1`, name))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("postgres: find project", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects p ORDER BY p.updated_at DESC`)
	if err != nil {
		return nil, apperr.Storage("postgres: list projects", err)
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperr.Storage("postgres: scan project", err)
		}
		projects = append(projects, *p)
	}
	return projects, apperr.Storage("postgres: list projects iterate", rows.Err())
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET name = $1, description = $2, search_query = $3, workflow = $4, updated_at = $5 WHERE id = $6`,
		p.Name, p.Description, p.SearchQuery, string(p.Workflow), p.UpdatedAt, p.ID,
	)
	if err != nil {
		return apperr.Storage("postgres: update project", err)
	}
	return checkTag(tag, "project", p.ID)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return apperr.Storage("postgres: delete project", err)
	}
	return checkTag(tag, "project", id)
}

// --- Entities ---

func (s *PostgresStore) UpsertEntity(ctx context.Context, e *model.Entity) error {
	now := time.Now().UTC()
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO entities (id, project_id, name, description, entity_type, url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project_id, name) DO UPDATE SET
			description = COALESCE(NULLIF(EXCLUDED.description, ''), entities.description),
			entity_type = COALESCE(NULLIF(EXCLUDED.entity_type, ''), entities.entity_type),
			url = COALESCE(NULLIF(EXCLUDED.url, ''), entities.url),
			updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		uuid.New().String(), e.ProjectID, e.Name, e.Description, e.EntityType, e.URL, now, now,
	).Scan(&id)
	if err != nil {
		return apperr.Storage("postgres: upsert entity", err)
	}

	got, err := s.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	*e = *got
	return nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx, `SELECT `+entityColumns+entityFrom+` WHERE e.id = $1`, id))
	if err != nil {
		return nil, pgErr(err, "get entity", "entity", id)
	}
	return e, nil
}

func (s *PostgresStore) FindEntityByName(ctx context.Context, projectID, name string) (*model.Entity, error) {
	var a pgArgs
	query := `SELECT ` + entityColumns + entityFrom + ` WHERE lower(e.name) = lower(` + a.add(name) + `)`
	if projectID != "" {
		query += ` AND e.project_id = ` + a.add(projectID)
	}
	query += ` ORDER BY e.created_at LIMIT 1`

	e, err := scanEntity(s.pool.QueryRow(ctx, query, a...))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("postgres: find entity", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	var a pgArgs
	query := `SELECT ` + entityColumns + entityFrom + ` WHERE true`
	if filter.ProjectID != "" {
		query += ` AND e.project_id = ` + a.add(filter.ProjectID)
	}
	if filter.EntityType != "" {
		query += ` AND e.entity_type = ` + a.add(filter.EntityType)
	}
	if filter.Query != "" {
		p := a.add(likePattern(filter.Query))
		query += ` AND (e.name ILIKE ` + p + ` OR e.description ILIKE ` + p + `)`
	}
	query += ` ORDER BY e.name LIMIT ` + a.add(limitOr(filter.Limit, 1000))

	rows, err := s.pool.Query(ctx, query, a...)
	if err != nil {
		return nil, apperr.Storage("postgres: list entities", err)
	}
	defer rows.Close()

	entities := []model.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, apperr.Storage("postgres: scan entity", err)
		}
		entities = append(entities, *e)
	}
	return entities, apperr.Storage("postgres: list entities iterate", rows.Err())
}

func (s *PostgresStore) UpdateEntity(ctx context.Context, e *model.Entity) error {
	e.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET name = $1, description = $2, entity_type = $3, url = $4, updated_at = $5 WHERE id = $6`,
		e.Name, e.Description, e.EntityType, e.URL, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return apperr.Storage("postgres: update entity", err)
	}
	return checkTag(tag, "entity", e.ID)
}

func (s *PostgresStore) DeleteEntity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return apperr.Storage("postgres: delete entity", err)
	}
	return checkTag(tag, "entity", id)
}

// --- Assertions ---

func (s *PostgresStore) CreateAssertion(ctx context.Context, a *model.Assertion) error {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO assertions (id, entity_id, claim, status, category, confidence, criticality, cited_in_conclusion,
			validated_at, validated_by, rejection_reason, human_response, partially_validated, evidence_screenshots,
			validation_notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.EntityID, a.Claim, string(a.Status), a.Category, a.Confidence, string(a.Criticality), a.CitedInConclusion,
		a.ValidatedAt, a.ValidatedBy, a.RejectionReason, a.HumanResponse, a.PartiallyValidated, screenshots,
		notes, now, now,
	)
	return apperr.Storage("postgres: insert assertion", err)
}

func (s *PostgresStore) GetAssertion(ctx context.Context, id string) (*model.Assertion, error) {
	a, err := scanAssertion(s.pool.QueryRow(ctx, `SELECT `+assertionColumns+assertionFrom+` WHERE a.id = $1`, id))
	if err != nil {
		return nil, pgErr(err, "get assertion", "assertion", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, assertion_id, content, created_at FROM reasoning WHERE assertion_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, apperr.Storage("postgres: list reasoning", err)
	}
	a.Reasoning = []model.Reasoning{}
	for rows.Next() {
		var r model.Reasoning
		if err := rows.Scan(&r.ID, &r.AssertionID, &r.Content, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, apperr.Storage("postgres: scan reasoning", err)
		}
		a.Reasoning = append(a.Reasoning, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("postgres: list reasoning iterate", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT l.id, l.assertion_id, l.source_id, l.quote, l.added_by, l.created_at, `+sourceColumns+`
		 FROM assertion_sources l JOIN sources s ON s.id = l.source_id
		 WHERE l.assertion_id = $1 ORDER BY l.created_at`, id)
	if err != nil {
		return nil, apperr.Storage("postgres: list assertion sources", err)
	}
	defer rows.Close()

	a.Sources = []model.SourceLink{}
	for rows.Next() {
		link, err := scanSourceLink(rows)
		if err != nil {
			return nil, apperr.Storage("postgres: scan assertion source", err)
		}
		a.Sources = append(a.Sources, *link)
	}
	return a, apperr.Storage("postgres: list assertion sources iterate", rows.Err())
}

func (s *PostgresStore) ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.Assertion, error) {
	var a pgArgs
	query := `SELECT ` + assertionColumns + assertionFrom + ` WHERE true`
	if filter.EntityID != "" {
		query += ` AND a.entity_id = ` + a.add(filter.EntityID)
	}
	if filter.ProjectID != "" {
		query += ` AND e.project_id = ` + a.add(filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND a.status = ` + a.add(string(filter.Status))
	}
	if filter.Category != "" {
		query += ` AND a.category = ` + a.add(filter.Category)
	}
	if filter.Criticality != "" {
		query += ` AND a.criticality = ` + a.add(string(filter.Criticality))
	}
	if filter.Query != "" {
		query += ` AND a.claim ILIKE ` + a.add(likePattern(filter.Query))
	}
	query += ` ORDER BY a.created_at DESC LIMIT ` + a.add(limitOr(filter.Limit, 1000))

	rows, err := s.pool.Query(ctx, query, a...)
	if err != nil {
		return nil, apperr.Storage("postgres: list assertions", err)
	}
	defer rows.Close()

	assertions := []model.Assertion{}
	for rows.Next() {
		as, err := scanAssertion(rows)
		if err != nil {
			return nil, apperr.Storage("postgres: scan assertion", err)
		}
		assertions = append(assertions, *as)
	}
	return assertions, apperr.Storage("postgres: list assertions iterate", rows.Err())
}

func (s *PostgresStore) UpdateAssertion(ctx context.Context, a *model.Assertion) error {
	a.UpdatedAt = time.Now().UTC()
	screenshots, err := marshalStrings(a.EvidenceScreenshots)
	if err != nil {
		return err
	}
	notes, err := marshalNotes(a.ValidationNotes)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE assertions SET claim = $1, status = $2, category = $3, confidence = $4, criticality = $5,
			cited_in_conclusion = $6, validated_at = $7, validated_by = $8, rejection_reason = $9, human_response = $10,
			partially_validated = $11, evidence_screenshots = $12, validation_notes = $13, updated_at = $14
		 WHERE id = $15`,
		a.Claim, string(a.Status), a.Category, a.Confidence, string(a.Criticality),
		a.CitedInConclusion, a.ValidatedAt, a.ValidatedBy, a.RejectionReason, a.HumanResponse,
		a.PartiallyValidated, screenshots, notes, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return apperr.Storage("postgres: update assertion", err)
	}
	return checkTag(tag, "assertion", a.ID)
}

func (s *PostgresStore) DeleteAssertion(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM assertions WHERE id = $1`, id)
	if err != nil {
		return apperr.Storage("postgres: delete assertion", err)
	}
	return checkTag(tag, "assertion", id)
}

func (s *PostgresStore) AddReasoning(ctx context.Context, assertionID, content string) (*model.Reasoning, error) {
	r := &model.Reasoning{
		ID:          uuid.New().String(),
		AssertionID: assertionID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reasoning (id, assertion_id, content, created_at) VALUES ($1, $2, $3, $4)`,
		r.ID, r.AssertionID, r.Content, r.CreatedAt,
	)
	if err != nil {
		return nil, apperr.Storage("postgres: insert reasoning", err)
	}
	return r, nil
}

// --- Sources ---

func (s *PostgresStore) UpsertSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC()
	if src.Status == "" {
		src.Status = model.SourceStatusProposed
	}
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sources (id, url, title, description, source_type, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (url) DO UPDATE SET
			title = COALESCE(NULLIF(EXCLUDED.title, ''), sources.title),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), sources.description),
			source_type = COALESCE(NULLIF(EXCLUDED.source_type, ''), sources.source_type),
			updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		uuid.New().String(), src.URL, src.Title, src.Description, src.SourceType, string(src.Status), now, now,
	).Scan(&id)
	if err != nil {
		return apperr.Storage("postgres: upsert source", err)
	}
	got, err := s.GetSource(ctx, id)
	if err != nil {
		return err
	}
	*src = *got
	return nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources s WHERE s.id = $1`, id))
	if err != nil {
		return nil, pgErr(err, "get source", "source", id)
	}
	return src, nil
}

func (s *PostgresStore) FindSourceByURL(ctx context.Context, url string) (*model.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources s WHERE s.url = $1`, url))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("postgres: find source", err)
	}
	return src, nil
}

func (s *PostgresStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error) {
	var a pgArgs
	query := `SELECT ` + sourceColumns + ` FROM sources s WHERE true`
	if filter.Status != "" {
		query += ` AND s.status = ` + a.add(string(filter.Status))
	}
	if filter.SourceType != "" {
		query += ` AND s.source_type = ` + a.add(filter.SourceType)
	}
	if filter.Query != "" {
		p := a.add(likePattern(filter.Query))
		query += ` AND (s.url ILIKE ` + p + ` OR s.title ILIKE ` + p + ` OR s.description ILIKE ` + p + `)`
	}
	query += ` ORDER BY s.created_at DESC LIMIT ` + a.add(limitOr(filter.Limit, 1000))

	rows, err := s.pool.Query(ctx, query, a...)
	if err != nil {
		return nil, apperr.Storage("postgres: list sources", err)
	}
	defer rows.Close()

	sources := []model.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, apperr.Storage("postgres: scan source", err)
		}
		sources = append(sources, *src)
	}
	return sources, apperr.Storage("postgres: list sources iterate", rows.Err())
}

func (s *PostgresStore) UpdateSource(ctx context.Context, src *model.Source) error {
	src.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET url = $1, title = $2, description = $3, source_type = $4, status = $5, validated_at = $6,
			validated_by = $7, updated_at = $8
		 WHERE id = $9`,
		src.URL, src.Title, src.Description, src.SourceType, string(src.Status), src.ValidatedAt,
		src.ValidatedBy, src.UpdatedAt, src.ID,
	)
	if err != nil {
		return apperr.Storage("postgres: update source", err)
	}
	return checkTag(tag, "source", src.ID)
}

func (s *PostgresStore) DeleteSource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return apperr.Storage("postgres: delete source", err)
	}
	return checkTag(tag, "source", id)
}

func (s *PostgresStore) LinkSource(ctx context.Context, link *model.SourceLink) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assertion_sources (id, assertion_id, source_id, quote, added_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (assertion_id, source_id) DO UPDATE SET
			quote = COALESCE(NULLIF(EXCLUDED.quote, ''), assertion_sources.quote)`,
		uuid.New().String(), link.AssertionID, link.SourceID, link.Quote, link.AddedBy, now,
	)
	if err != nil {
		return apperr.Storage("postgres: link source", err)
	}

	got, err := scanSourceLink(s.pool.QueryRow(ctx,
		`SELECT l.id, l.assertion_id, l.source_id, l.quote, l.added_by, l.created_at, `+sourceColumns+`
		 FROM assertion_sources l JOIN sources s ON s.id = l.source_id
		 WHERE l.assertion_id = $1 AND l.source_id = $2`, link.AssertionID, link.SourceID))
	if err != nil {
		return pgErr(err, "reload source link", "source link", link.AssertionID)
	}
	*link = *got
	return nil
}

// --- Activity log ---

func (s *PostgresStore) AddLog(ctx context.Context, l *model.ResearchLog) error {
	l.ID = uuid.New().String()
	l.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_logs (id, action, details, agent_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.Action, rawOrNil(l.Details), l.AgentID, l.CreatedAt,
	)
	return apperr.Storage("postgres: insert log", err)
}

func (s *PostgresStore) ListLogs(ctx context.Context, limit int) ([]model.ResearchLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, action, details, agent_id, created_at FROM research_logs ORDER BY created_at DESC LIMIT $1`,
		limitOr(limit, 50),
	)
	if err != nil {
		return nil, apperr.Storage("postgres: list logs", err)
	}
	defer rows.Close()

	logs := []model.ResearchLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, apperr.Storage("postgres: scan log", err)
		}
		logs = append(logs, *l)
	}
	return logs, apperr.Storage("postgres: list logs iterate", rows.Err())
}

// --- Screenshots ---

func (s *PostgresStore) CreateScreenshot(ctx context.Context, shot *model.Screenshot) error {
	shot.ID = uuid.New().String()
	if shot.CapturedAt.IsZero() {
		shot.CapturedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO screenshots (id, file_path, url, full_page, width, height, captured_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		shot.ID, shot.FilePath, shot.URL, shot.FullPage, shot.Width, shot.Height, shot.CapturedAt,
	)
	return apperr.Storage("postgres: insert screenshot", err)
}
