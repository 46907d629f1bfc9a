package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sells-group/research-kb/internal/model"
)

// EntityFilter specifies criteria for listing entities.
type EntityFilter struct {
	ProjectID  string `json:"projectId,omitempty"`
	EntityType string `json:"entityType,omitempty"`
	Query      string `json:"query,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// AssertionFilter specifies criteria for listing assertions.
type AssertionFilter struct {
	EntityID    string                `json:"entityId,omitempty"`
	ProjectID   string                `json:"projectId,omitempty"`
	Status      model.AssertionStatus `json:"status,omitempty"`
	Category    string                `json:"category,omitempty"`
	Criticality model.Criticality     `json:"criticality,omitempty"`
	Query       string                `json:"query,omitempty"`
	Limit       int                   `json:"limit,omitempty"`
}

// SourceFilter specifies criteria for listing sources.
type SourceFilter struct {
	Status     model.SourceStatus `json:"status,omitempty"`
	SourceType string             `json:"sourceType,omitempty"`
	Query      string             `json:"query,omitempty"`
	Limit      int                `json:"limit,omitempty"`
}

// ExtractionFilter specifies criteria for listing extractions. Results are
// ordered by extractedAt, newest first.
type ExtractionFilter struct {
	EntityID   string                 `json:"entityId,omitempty"`
	ProjectID  string                 `json:"projectId,omitempty"`
	SchemaType model.SchemaType       `json:"schemaType,omitempty"`
	Status     model.ExtractionStatus `json:"status,omitempty"`
	Since      time.Time              `json:"since,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
}

// NewExtraction is the input to SaveExtraction. ExtractedAt defaults to now
// and is only set when importing historical reads.
type NewExtraction struct {
	EntityID     string
	SourceID     string
	ScreenshotID string
	SchemaType   model.SchemaType
	Data         json.RawMessage
	RawQuotes    json.RawMessage
	Confidence   *float64
	Error        string
	AssertionIDs []string
	ExtractedAt  time.Time
	ExpiresAt    *time.Time
}

// ExtractionUpdate carries the mutable fields of an extraction. Nil fields
// are left unchanged.
type ExtractionUpdate struct {
	Status       *model.ExtractionStatus
	Error        *string
	Confidence   *float64
	AssertionIDs []string
}

// Store defines the persistence interface for the research knowledge base.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	FindProjectByName(ctx context.Context, name string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Entities
	UpsertEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	FindEntityByName(ctx context.Context, projectID, name string) (*model.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)
	UpdateEntity(ctx context.Context, e *model.Entity) error
	DeleteEntity(ctx context.Context, id string) error

	// Assertions
	CreateAssertion(ctx context.Context, a *model.Assertion) error
	GetAssertion(ctx context.Context, id string) (*model.Assertion, error)
	ListAssertions(ctx context.Context, filter AssertionFilter) ([]model.Assertion, error)
	UpdateAssertion(ctx context.Context, a *model.Assertion) error
	DeleteAssertion(ctx context.Context, id string) error
	AddReasoning(ctx context.Context, assertionID, content string) (*model.Reasoning, error)

	// Sources
	UpsertSource(ctx context.Context, s *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	FindSourceByURL(ctx context.Context, url string) (*model.Source, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error)
	UpdateSource(ctx context.Context, s *model.Source) error
	DeleteSource(ctx context.Context, id string) error
	LinkSource(ctx context.Context, link *model.SourceLink) error

	// Activity log
	AddLog(ctx context.Context, l *model.ResearchLog) error
	ListLogs(ctx context.Context, limit int) ([]model.ResearchLog, error)

	// Screenshots
	CreateScreenshot(ctx context.Context, s *model.Screenshot) error

	// Extractions
	SaveExtraction(ctx context.Context, in NewExtraction) (*model.Extraction, error)
	RecordFailedExtraction(ctx context.Context, in NewExtraction) (*model.Extraction, error)
	GetExtraction(ctx context.Context, id string) (*model.Extraction, error)
	GetExtractionHistory(ctx context.Context, entityID string, schemaType model.SchemaType, limit int) ([]model.Extraction, error)
	GetLatestExtraction(ctx context.Context, entityID string, schemaType model.SchemaType) (*model.Extraction, error)
	ListExtractions(ctx context.Context, filter ExtractionFilter) ([]model.Extraction, error)
	UpdateExtraction(ctx context.Context, id string, upd ExtractionUpdate) error
	ListStaleExtractions(ctx context.Context, maxAge time.Duration) ([]model.Extraction, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
