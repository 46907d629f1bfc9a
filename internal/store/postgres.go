package store

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL UNIQUE,
	description  TEXT NOT NULL DEFAULT '',
	search_query TEXT NOT NULL DEFAULT '',
	workflow     TEXT NOT NULL DEFAULT 'discovery',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	entity_type TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, name)
);

CREATE TABLE IF NOT EXISTS assertions (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	entity_id            TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	claim                TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'claim',
	category             TEXT NOT NULL DEFAULT '',
	confidence           DOUBLE PRECISION,
	criticality          TEXT NOT NULL DEFAULT 'medium',
	cited_in_conclusion  BOOLEAN NOT NULL DEFAULT false,
	validated_at         TIMESTAMPTZ,
	validated_by         TEXT NOT NULL DEFAULT '',
	rejection_reason     TEXT NOT NULL DEFAULT '',
	human_response       TEXT NOT NULL DEFAULT '',
	partially_validated  BOOLEAN NOT NULL DEFAULT false,
	evidence_screenshots JSONB NOT NULL DEFAULT '[]',
	validation_notes     JSONB NOT NULL DEFAULT '[]',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reasoning (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	assertion_id TEXT NOT NULL REFERENCES assertions(id) ON DELETE CASCADE,
	content      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	url          TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	source_type  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'proposed',
	validated_at TIMESTAMPTZ,
	validated_by TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assertion_sources (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	assertion_id TEXT NOT NULL REFERENCES assertions(id) ON DELETE CASCADE,
	source_id    TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	quote        TEXT NOT NULL DEFAULT '',
	added_by     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (assertion_id, source_id)
);

CREATE TABLE IF NOT EXISTS research_logs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	action     TEXT NOT NULL,
	details    JSONB,
	agent_id   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS screenshots (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	file_path   TEXT NOT NULL,
	url         TEXT NOT NULL,
	full_page   BOOLEAN NOT NULL DEFAULT false,
	width       INTEGER NOT NULL DEFAULT 0,
	height      INTEGER NOT NULL DEFAULT 0,
	captured_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extractions (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	entity_id     TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	source_id     TEXT NOT NULL REFERENCES sources(id),
	screenshot_id TEXT REFERENCES screenshots(id),
	schema_type   TEXT NOT NULL,
	data          JSONB NOT NULL,
	raw_quotes    JSONB,
	status        TEXT NOT NULL DEFAULT 'pending',
	confidence    DOUBLE PRECISION,
	error         TEXT NOT NULL DEFAULT '',
	assertion_ids JSONB NOT NULL DEFAULT '[]',
	extracted_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project_id);
CREATE INDEX IF NOT EXISTS idx_assertions_entity ON assertions(entity_id);
CREATE INDEX IF NOT EXISTS idx_assertions_status ON assertions(status);
CREATE INDEX IF NOT EXISTS idx_reasoning_assertion ON reasoning(assertion_id);
CREATE INDEX IF NOT EXISTS idx_assertion_sources_source ON assertion_sources(source_id);
CREATE INDEX IF NOT EXISTS idx_research_logs_created ON research_logs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_extractions_pair ON extractions(entity_id, schema_type, extracted_at DESC);
CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// args accumulates positional parameters and hands back their $n markers.
type pgArgs []any

func (a *pgArgs) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func checkTag(tag pgconn.CommandTag, resource, id string) error {
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(resource, id)
	}
	return nil
}

// pgErr classifies a query error, mapping missing rows to NotFoundError.
func pgErr(err error, op, resource, id string) error {
	if isNoRows(err) {
		return apperr.NotFound(resource, id)
	}
	return apperr.Storage("postgres: "+op, err)
}
