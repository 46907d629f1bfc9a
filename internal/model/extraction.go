package model

import (
	"encoding/json"
	"time"
)

// SchemaType names one of the fixed structured-data shapes an extraction
// can take.
type SchemaType string

const (
	SchemaPricing      SchemaType = "pricing"
	SchemaFeatures     SchemaType = "features"
	SchemaCompany      SchemaType = "company"
	SchemaCompliance   SchemaType = "compliance"
	SchemaIntegrations SchemaType = "integrations"
)

// SchemaTypes lists every schema type in canonical order.
var SchemaTypes = []SchemaType{
	SchemaPricing,
	SchemaFeatures,
	SchemaCompany,
	SchemaCompliance,
	SchemaIntegrations,
}

// Valid reports whether s is one of the known schema types.
func (s SchemaType) Valid() bool {
	for _, t := range SchemaTypes {
		if s == t {
			return true
		}
	}
	return false
}

// ExtractionStatus is the lifecycle state of an extraction row.
type ExtractionStatus string

const (
	ExtractionStatusPending   ExtractionStatus = "pending"
	ExtractionStatusCompleted ExtractionStatus = "completed"
	ExtractionStatusFailed    ExtractionStatus = "failed"
	ExtractionStatusStale     ExtractionStatus = "stale"
)

// Extraction is one immutable, timestamped structured read of an entity.
// Data and RawQuotes hold raw JSON; schema.Decode turns Data into a typed
// payload.
type Extraction struct {
	ID           string           `json:"id"`
	EntityID     string           `json:"entityId"`
	SourceID     string           `json:"sourceId"`
	ScreenshotID string           `json:"screenshotId,omitempty"`
	SchemaType   SchemaType       `json:"schemaType"`
	Data         json.RawMessage  `json:"data"`
	RawQuotes    json.RawMessage  `json:"rawQuotes,omitempty"`
	Status       ExtractionStatus `json:"status"`
	Confidence   *float64         `json:"confidence,omitempty"`
	Error        string           `json:"error,omitempty"`
	AssertionIDs []string         `json:"assertionIds"`
	ExtractedAt  time.Time        `json:"extractedAt"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`

	// Denormalized for reporting; populated by list queries that join.
	EntityName string `json:"entityName,omitempty"`
	SourceURL  string `json:"sourceUrl,omitempty"`
}

// IsExpired reports whether the extraction has passed its expiry at now.
func (e *Extraction) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Screenshot is a captured page image backing an extraction.
type Screenshot struct {
	ID         string    `json:"id"`
	FilePath   string    `json:"filePath"`
	URL        string    `json:"url"`
	FullPage   bool      `json:"fullPage"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"capturedAt"`
}
