package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/research-kb/internal/apperr"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// foreign_keys is per connection; a single connection keeps it in force.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	description  TEXT NOT NULL DEFAULT '',
	search_query TEXT NOT NULL DEFAULT '',
	workflow     TEXT NOT NULL DEFAULT 'discovery',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	entity_type TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (project_id, name)
);

CREATE TABLE IF NOT EXISTS assertions (
	id                   TEXT PRIMARY KEY,
	entity_id            TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	claim                TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'claim',
	category             TEXT NOT NULL DEFAULT '',
	confidence           REAL,
	criticality          TEXT NOT NULL DEFAULT 'medium',
	cited_in_conclusion  INTEGER NOT NULL DEFAULT 0,
	validated_at         DATETIME,
	validated_by         TEXT NOT NULL DEFAULT '',
	rejection_reason     TEXT NOT NULL DEFAULT '',
	human_response       TEXT NOT NULL DEFAULT '',
	partially_validated  INTEGER NOT NULL DEFAULT 0,
	evidence_screenshots TEXT NOT NULL DEFAULT '[]',
	validation_notes     TEXT NOT NULL DEFAULT '[]',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reasoning (
	id           TEXT PRIMARY KEY,
	assertion_id TEXT NOT NULL REFERENCES assertions(id) ON DELETE CASCADE,
	content      TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sources (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	source_type  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'proposed',
	validated_at DATETIME,
	validated_by TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS assertion_sources (
	id           TEXT PRIMARY KEY,
	assertion_id TEXT NOT NULL REFERENCES assertions(id) ON DELETE CASCADE,
	source_id    TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	quote        TEXT NOT NULL DEFAULT '',
	added_by     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (assertion_id, source_id)
);

CREATE TABLE IF NOT EXISTS research_logs (
	id         TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	details    TEXT,
	agent_id   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS screenshots (
	id          TEXT PRIMARY KEY,
	file_path   TEXT NOT NULL,
	url         TEXT NOT NULL,
	full_page   INTEGER NOT NULL DEFAULT 0,
	width       INTEGER NOT NULL DEFAULT 0,
	height      INTEGER NOT NULL DEFAULT 0,
	captured_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extractions (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	source_id     TEXT NOT NULL REFERENCES sources(id),
	screenshot_id TEXT REFERENCES screenshots(id),
	schema_type   TEXT NOT NULL,
	data          TEXT NOT NULL,
	raw_quotes    TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	confidence    REAL,
	error         TEXT NOT NULL DEFAULT '',
	assertion_ids TEXT NOT NULL DEFAULT '[]',
	extracted_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project_id);
CREATE INDEX IF NOT EXISTS idx_assertions_entity ON assertions(entity_id);
CREATE INDEX IF NOT EXISTS idx_assertions_status ON assertions(status);
CREATE INDEX IF NOT EXISTS idx_reasoning_assertion ON reasoning(assertion_id);
CREATE INDEX IF NOT EXISTS idx_assertion_sources_source ON assertion_sources(source_id);
CREATE INDEX IF NOT EXISTS idx_research_logs_created ON research_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_extractions_pair ON extractions(entity_id, schema_type, extracted_at);
CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// helpers

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("rows affected", err)
	}
	if n == 0 {
		return apperr.NotFound(resource, id)
	}
	return nil
}

// sqliteErr classifies a query error, mapping missing rows to NotFoundError.
func sqliteErr(err error, op, resource, id string) error {
	if isNoRows(err) {
		return apperr.NotFound(resource, id)
	}
	return apperr.Storage("sqlite: "+op, err)
}
