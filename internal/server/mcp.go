package server

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/research"
)

const (
	mcpName          = "validation"
	mcpVersion       = "1.0.0"
	followupAgentID  = "validation-agent"
	followupSourceTy = "vendor_docs"
)

// EntityView is the entity block of an AssertionView.
type EntityView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	Project string `json:"project,omitempty"`
}

// SourceView is one cited source of an AssertionView.
type SourceView struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Quote      string `json:"quote,omitempty"`
	SourceType string `json:"sourceType,omitempty"`
}

// AssertionView is what the assistant and MCP clients see of an assertion.
type AssertionView struct {
	ID                string                 `json:"id"`
	Claim             string                 `json:"claim"`
	Category          string                 `json:"category,omitempty"`
	Criticality       model.Criticality      `json:"criticality"`
	Status            model.AssertionStatus  `json:"status"`
	CitedInConclusion bool                   `json:"citedInConclusion"`
	Entity            EntityView             `json:"entity"`
	Sources           []SourceView           `json:"sources"`
	Reasoning         []string               `json:"reasoning"`
	ValidationNotes   []model.ValidationNote `json:"validationNotes"`
}

func loadAssertionView(ctx context.Context, rs *research.Service, id string) (*AssertionView, error) {
	a, err := rs.GetAssertion(ctx, id)
	if err != nil {
		return nil, err
	}
	e, err := rs.Store().GetEntity(ctx, a.EntityID)
	if err != nil {
		return nil, err
	}
	v := &AssertionView{
		ID:                a.ID,
		Claim:             a.Claim,
		Category:          a.Category,
		Criticality:       a.Criticality,
		Status:            a.Status,
		CitedInConclusion: a.CitedInConclusion,
		Entity:            EntityView{ID: e.ID, Name: e.Name, URL: e.URL, Project: e.ProjectName},
		Sources:           []SourceView{},
		Reasoning:         []string{},
		ValidationNotes:   a.ValidationNotes,
	}
	for _, l := range a.Sources {
		sv := SourceView{Quote: l.Quote}
		if l.Source != nil {
			sv.URL, sv.Title, sv.SourceType = l.Source.URL, l.Source.Title, l.Source.SourceType
		}
		v.Sources = append(v.Sources, sv)
	}
	for _, r := range a.Reasoning {
		v.Reasoning = append(v.Reasoning, r.Content)
	}
	return v, nil
}

// toolDef is one validation tool. Chat marks the tools the chat assistant
// may call itself.
type toolDef struct {
	tool    mcp.Tool
	handler mcpserver.ToolHandlerFunc
	chat    bool
}

// validationTools lists the tools in registration order. Validate and reject
// are not among them; only the UI records those decisions.
func validationTools(rs *research.Service) []toolDef {
	t := &tools{research: rs}
	return []toolDef{
		{tool: mcp.NewTool("get_next_assertion",
			mcp.WithDescription("Get the next assertion pending validation, ordered by criticality then age"),
			mcp.WithString("projectId", mcp.Description("Filter by project ID")),
			mcp.WithString("criticality", mcp.Description("Filter by criticality: critical, high, medium, low")),
		), handler: t.nextAssertion},
		{tool: mcp.NewTool("get_assertion_by_id",
			mcp.WithDescription("Get a specific assertion with its entity, sources and reasoning"),
			mcp.WithString("assertionId", mcp.Required(), mcp.Description("The assertion ID")),
		), handler: t.assertionByID, chat: true},
		{tool: mcp.NewTool("add_validation_note",
			mcp.WithDescription("Add a note to the validation thread of an assertion"),
			mcp.WithString("assertionId", mcp.Required(), mcp.Description("The assertion ID")),
			mcp.WithString("role", mcp.Required(), mcp.Enum("human", "agent"), mcp.Description("Who wrote the note")),
			mcp.WithString("content", mcp.Required(), mcp.Description("The note content")),
		), handler: t.addNote, chat: true},
		{tool: mcp.NewTool("create_followup_assertion",
			mcp.WithDescription("Create a new assertion based on researcher discovery during validation"),
			mcp.WithString("entityId", mcp.Required(), mcp.Description("The entity ID")),
			mcp.WithString("claim", mcp.Required(), mcp.Description("The new claim being made")),
			mcp.WithString("category", mcp.Description("Category: feature, pricing, integration, etc.")),
			mcp.WithString("reasoning", mcp.Description("Why this claim matters")),
			mcp.WithString("sourceUrl", mcp.Description("Source URL for the claim")),
			mcp.WithString("sourceQuote", mcp.Description("Relevant quote from the source")),
		), handler: t.followup, chat: true},
		{tool: mcp.NewTool("get_pending_count",
			mcp.WithDescription("Get count of pending assertions by criticality"),
			mcp.WithString("projectId", mcp.Description("Filter by project ID")),
		), handler: t.pendingCount},
	}
}

// NewMCPServer registers the validation tools.
func NewMCPServer(rs *research.Service) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(mcpName, mcpVersion, mcpserver.WithToolCapabilities(true))
	for _, d := range validationTools(rs) {
		s.AddTool(d.tool, d.handler)
	}
	return s
}

type tools struct {
	research *research.Service
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "mcp: marshal result")
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (t *tools) nextAssertion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending, err := t.research.PendingValidation(ctx, research.PendingInput{
		ProjectID:   req.GetString("projectId", ""),
		Criticality: model.Criticality(req.GetString("criticality", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(pending.Claims) == 0 {
		return jsonResult(map[string]any{
			"found":     false,
			"message":   "No more assertions pending validation",
			"remaining": 0,
		})
	}
	view, err := loadAssertionView(ctx, t.research, pending.Claims[0].ID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"found":     true,
		"remaining": pending.Counts.Total,
		"assertion": view,
	})
}

func (t *tools) assertionByID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("assertionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	view, err := loadAssertionView(ctx, t.research, id)
	if apperr.IsNotFound(err) {
		return jsonResult(map[string]any{"found": false, "message": "Assertion not found"})
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"found": true, "assertion": view})
}

func (t *tools) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("assertionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	role, err := req.RequireString("role")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_, err = t.research.AddValidationNote(ctx, id, model.NoteRole(role), content)
	switch {
	case apperr.IsNotFound(err):
		return jsonResult(map[string]any{"success": false, "error": "Assertion not found"})
	case err != nil:
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"success": true, "message": "Note added to validation thread"})
}

func (t *tools) followup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID, err := req.RequireString("entityId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	claim, err := req.RequireString("claim")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	a, err := t.research.CreateAssertion(ctx, research.CreateAssertionInput{
		EntityID:    entityID,
		Claim:       claim,
		Category:    req.GetString("category", ""),
		Criticality: model.CriticalityMedium,
		Reasoning:   req.GetString("reasoning", ""),
		SourceURL:   req.GetString("sourceUrl", ""),
		SourceQuote: req.GetString("sourceQuote", ""),
		SourceType:  followupSourceTy,
		AgentID:     followupAgentID,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"success":     true,
		"message":     "Follow-up assertion created",
		"assertionId": a.ID,
		"claim":       a.Claim,
	})
}

func (t *tools) pendingCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending, err := t.research.PendingValidation(ctx, research.PendingInput{ProjectID: req.GetString("projectId", "")})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(pending.Counts)
}
