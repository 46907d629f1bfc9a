package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-kb/internal/model"
)

// callTool runs a tools/call request through the MCP server.
func callTool(t *testing.T, f *fixture, name string, arguments map[string]any) *mcp.CallToolResult {
	t.Helper()
	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"id":      1,
		"params":  map[string]any{"name": name, "arguments": arguments},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(f.srv.MCP().HandleMessage(context.Background(), req))
	require.NoError(t, err)

	var resp struct {
		Result *mcp.CallToolResult `json:"result,omitempty"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	return resp.Result
}

func toolJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(mcp.TextContent).Text), &out))
	return out
}

func TestMCP_ToolsList(t *testing.T) {
	f := newFixture(t, nil)
	result := f.srv.MCP().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))

	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"get_next_assertion", "get_assertion_by_id", "add_validation_note",
		"create_followup_assertion", "get_pending_count",
	}, names)
	assert.NotContains(t, names, "validate_assertion")
	assert.NotContains(t, names, "reject_assertion")
}

func TestMCP_GetAssertionByID(t *testing.T) {
	f := newFixture(t, nil)

	out := toolJSON(t, callTool(t, f, "get_assertion_by_id", map[string]any{"assertionId": f.assertion.ID}))
	assert.Equal(t, true, out["found"])
	a := out["assertion"].(map[string]any)
	assert.Equal(t, "Acme has SSO", a["claim"])
	assert.Equal(t, "claim", a["status"])
	entity := a["entity"].(map[string]any)
	assert.Equal(t, "https://acme.io", entity["url"])
	assert.Equal(t, "Dev Tools", entity["project"])
	sources := a["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "https://acme.io/security", sources[0].(map[string]any)["url"])
	assert.Equal(t, []any{"Mentioned on the security page"}, a["reasoning"])

	out = toolJSON(t, callTool(t, f, "get_assertion_by_id", map[string]any{"assertionId": "missing"}))
	assert.Equal(t, false, out["found"])
	assert.Equal(t, "Assertion not found", out["message"])

	res := callTool(t, f, "get_assertion_by_id", map[string]any{})
	assert.True(t, res.IsError)
}

func TestMCP_GetNextAssertion(t *testing.T) {
	f := newFixture(t, nil)

	out := toolJSON(t, callTool(t, f, "get_next_assertion", map[string]any{"projectId": f.project.ID}))
	assert.Equal(t, true, out["found"])
	assert.EqualValues(t, 1, out["remaining"])
	assert.Equal(t, f.assertion.ID, out["assertion"].(map[string]any)["id"])

	_, err := f.rs.ValidateAssertion(context.Background(), f.assertion.ID, "dana")
	require.NoError(t, err)

	out = toolJSON(t, callTool(t, f, "get_next_assertion", map[string]any{}))
	assert.Equal(t, false, out["found"])
	assert.Equal(t, "No more assertions pending validation", out["message"])
	assert.EqualValues(t, 0, out["remaining"])
}

func TestMCP_AddValidationNote(t *testing.T) {
	f := newFixture(t, nil)

	out := toolJSON(t, callTool(t, f, "add_validation_note", map[string]any{
		"assertionId": f.assertion.ID, "role": "agent", "content": "Source confirms SAML",
	}))
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Note added to validation thread", out["message"])

	a, err := f.rs.GetAssertion(context.Background(), f.assertion.ID)
	require.NoError(t, err)
	require.Len(t, a.ValidationNotes, 1)
	assert.Equal(t, model.NoteRoleAgent, a.ValidationNotes[0].Role)
	assert.Equal(t, model.AssertionStatusClaim, a.Status)

	out = toolJSON(t, callTool(t, f, "add_validation_note", map[string]any{
		"assertionId": "missing", "role": "human", "content": "x",
	}))
	assert.Equal(t, false, out["success"])
}

func TestMCP_CreateFollowupAssertion(t *testing.T) {
	f := newFixture(t, nil)

	out := toolJSON(t, callTool(t, f, "create_followup_assertion", map[string]any{
		"entityId":    f.entity.ID,
		"claim":       "Acme supports SCIM",
		"category":    "feature",
		"sourceUrl":   "https://acme.io/docs/scim",
		"sourceQuote": "SCIM 2.0 provisioning",
	}))
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Follow-up assertion created", out["message"])

	a, err := f.rs.GetAssertion(context.Background(), out["assertionId"].(string))
	require.NoError(t, err)
	assert.Equal(t, model.CriticalityMedium, a.Criticality)
	require.Len(t, a.Sources, 1)
	assert.Equal(t, "vendor_docs", a.Sources[0].Source.SourceType)
	assert.Equal(t, "validation-agent", a.Sources[0].AddedBy)

	res := callTool(t, f, "create_followup_assertion", map[string]any{"entityId": "missing", "claim": "x"})
	assert.True(t, res.IsError)
}

func TestMCP_PendingCount(t *testing.T) {
	f := newFixture(t, nil)
	out := toolJSON(t, callTool(t, f, "get_pending_count", map[string]any{"projectId": f.project.ID}))
	assert.EqualValues(t, 1, out["high"])
	assert.EqualValues(t, 1, out["total"])
}
