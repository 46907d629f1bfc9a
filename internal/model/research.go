package model

import (
	"encoding/json"
	"time"
)

// Workflow describes how a research project is being driven.
type Workflow string

const (
	WorkflowDiscovery Workflow = "discovery"
	WorkflowAnalysis  Workflow = "analysis"
)

// Valid reports whether w is a known workflow.
func (w Workflow) Valid() bool {
	return w == WorkflowDiscovery || w == WorkflowAnalysis
}

// AssertionStatus tracks a claim through human validation.
type AssertionStatus string

const (
	AssertionStatusClaim    AssertionStatus = "claim"
	AssertionStatusEvidence AssertionStatus = "evidence"
	AssertionStatusRejected AssertionStatus = "rejected"
)

// Criticality ranks how much an assertion matters to the research outcome.
// Lower rank sorts first.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// Valid reports whether c is a known criticality.
func (c Criticality) Valid() bool {
	switch c {
	case CriticalityCritical, CriticalityHigh, CriticalityMedium, CriticalityLow:
		return true
	}
	return false
}

// Rank returns the sort rank of the criticality (critical first).
func (c Criticality) Rank() int {
	switch c {
	case CriticalityCritical:
		return 0
	case CriticalityHigh:
		return 1
	case CriticalityMedium:
		return 2
	default:
		return 3
	}
}

// SourceStatus tracks whether a human has vetted a source.
type SourceStatus string

const (
	SourceStatusProposed  SourceStatus = "proposed"
	SourceStatusValidated SourceStatus = "validated"
	SourceStatusRejected  SourceStatus = "rejected"
)

// Project groups the entities researched for one question.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SearchQuery string    `json:"searchQuery,omitempty"`
	Workflow    Workflow  `json:"workflow"`
	EntityCount int       `json:"entityCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Entity is the subject of research: a product, tool, or company.
type Entity struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	ProjectName    string    `json:"projectName,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	EntityType     string    `json:"entityType,omitempty"`
	URL            string    `json:"url,omitempty"`
	AssertionCount int       `json:"assertionCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Assertion is a claim about an entity.
type Assertion struct {
	ID                  string          `json:"id"`
	EntityID            string          `json:"entityId"`
	EntityName          string          `json:"entityName,omitempty"`
	Claim               string          `json:"claim"`
	Status              AssertionStatus `json:"status"`
	Category            string          `json:"category,omitempty"`
	Confidence          *float64        `json:"confidence,omitempty"`
	Criticality         Criticality     `json:"criticality"`
	CitedInConclusion   bool            `json:"citedInConclusion"`
	ValidatedAt         *time.Time      `json:"validatedAt,omitempty"`
	ValidatedBy         string          `json:"validatedBy,omitempty"`
	RejectionReason     string          `json:"rejectionReason,omitempty"`
	HumanResponse       string          `json:"humanResponse,omitempty"`
	PartiallyValidated  bool            `json:"partiallyValidated"`
	EvidenceScreenshots []string        `json:"evidenceScreenshots"`
	ValidationNotes     []ValidationNote `json:"validationNotes"`
	Reasoning           []Reasoning     `json:"reasoning,omitempty"`
	Sources             []SourceLink    `json:"sources,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// NoteRole says who wrote a validation note.
type NoteRole string

const (
	NoteRoleHuman NoteRole = "human"
	NoteRoleAgent NoteRole = "agent"
)

// ValidationNote is one message in the validation thread of an assertion.
type ValidationNote struct {
	Role      NoteRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Reasoning is an agent's explanation attached to an assertion.
type Reasoning struct {
	ID          string    `json:"id"`
	AssertionID string    `json:"assertionId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Source is a URL that backs one or more assertions.
type Source struct {
	ID             string       `json:"id"`
	URL            string       `json:"url"`
	Title          string       `json:"title,omitempty"`
	Description    string       `json:"description,omitempty"`
	SourceType     string       `json:"sourceType,omitempty"`
	Status         SourceStatus `json:"status"`
	ValidatedAt    *time.Time   `json:"validatedAt,omitempty"`
	ValidatedBy    string       `json:"validatedBy,omitempty"`
	AssertionCount int          `json:"assertionCount"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// SourceLink joins an assertion to a source with an optional quote.
type SourceLink struct {
	ID          string    `json:"id"`
	AssertionID string    `json:"assertionId"`
	SourceID    string    `json:"sourceId"`
	Quote       string    `json:"quote,omitempty"`
	AddedBy     string    `json:"addedBy,omitempty"`
	Source      *Source   `json:"source,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ResearchLog records a single mutation for the activity feed.
type ResearchLog struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
