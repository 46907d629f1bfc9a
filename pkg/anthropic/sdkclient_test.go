package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testModel = "claude-sonnet-4-5-20250929"

// messagesServer answers every request with a text reply and hands the
// decoded request body to inspect.
func messagesServer(t *testing.T, reply string, usage map[string]any, inspect func(body gjson.Result)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if inspect != nil {
			inspect(gjson.ParseBytes(raw))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_test_001",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": reply}},
			"model":       testModel,
			"stop_reason": "end_turn",
			"usage":       usage,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(baseURL string) *sdkClient {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey("test-key"),
			option.WithBaseURL(baseURL),
			option.WithMaxRetries(0),
		),
	}
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := messagesServer(t, `{"data":{"tiers":[]},"confidence":0.8,"quotes":{}}`,
		map[string]any{"input_tokens": 1200, "output_tokens": 40},
		func(body gjson.Result) {
			assert.Equal(t, testModel, body.Get("model").String())
			assert.EqualValues(t, 1024, body.Get("max_tokens").Int())
			assert.Equal(t, "user", body.Get("messages.0.role").String())
			assert.False(t, body.Get("system").Exists())
			assert.False(t, body.Get("temperature").Exists())
		})

	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     testModel,
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Extract pricing from this page"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, testModel, resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"data":{"tiers":[]},"confidence":0.8,"quotes":{}}`, resp.Text())
	assert.Equal(t, int64(1200), resp.Usage.InputTokens)
	assert.Equal(t, int64(40), resp.Usage.OutputTokens)
}

func TestSDKClient_CreateMessage_ConversationWithCachedSystem(t *testing.T) {
	temp := 0.2
	ts := messagesServer(t, "The security page lists SAML SSO on the Enterprise plan.",
		map[string]any{"input_tokens": 50, "output_tokens": 12, "cache_creation_input_tokens": 0, "cache_read_input_tokens": 5000},
		func(body gjson.Result) {
			assert.Equal(t, "You help validators check assertions", body.Get("system.0.text").String())
			assert.Equal(t, "ephemeral", body.Get("system.0.cache_control.type").String())
			assert.Equal(t, "5m", body.Get("system.0.cache_control.ttl").String())
			assert.InDelta(t, 0.2, body.Get("temperature").Float(), 1e-9)

			roles := []string{}
			for _, m := range body.Get("messages").Array() {
				roles = append(roles, m.Get("role").String())
			}
			assert.Equal(t, []string{"user", "assistant", "user"}, roles)
			assert.Equal(t, "Where is SSO documented?", body.Get("messages.2.content.0.text").String())
		})

	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     testModel,
		MaxTokens: 256,
		System:    BuildCachedSystemBlocks("You help validators check assertions", "5m"),
		Messages: []Message{
			{Role: "user", Content: "Validator: dana"},
			{Role: "assistant", Content: "Hi dana"},
			{Role: "user", Content: "Where is SSO documented?"},
		},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), resp.Usage.CacheReadInputTokens)
	assert.Greater(t, resp.Usage.EstimateCost(testModel), 0.0)
}

func TestSDKClient_CreateMessage_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "message": "max_tokens: must be positive"},
		})
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:    testModel,
		Messages: []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestSDKClient_CreateMessage_ToolRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body := gjson.ParseBytes(raw)

		assert.Equal(t, "add_validation_note", body.Get("tools.0.name").String())
		assert.Equal(t, "Add a note", body.Get("tools.0.description").String())
		assert.Equal(t, "object", body.Get("tools.0.input_schema.type").String())
		assert.Equal(t, "string", body.Get("tools.0.input_schema.properties.content.type").String())
		assert.Equal(t, "content", body.Get("tools.0.input_schema.required.0").String())

		assert.Equal(t, "tool_use", body.Get("messages.1.content.0.type").String())
		assert.Equal(t, "toolu_1", body.Get("messages.1.content.0.id").String())
		assert.Equal(t, "SSO moved", body.Get("messages.1.content.0.input.content").String())
		assert.Equal(t, "tool_result", body.Get("messages.2.content.0.type").String())
		assert.Equal(t, "toolu_1", body.Get("messages.2.content.0.tool_use_id").String())
		assert.Equal(t, `{"success":true}`, body.Get("messages.2.content.0.content.0.text").String())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_test_002",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "Filing a follow-up."},
				{"type": "tool_use", "id": "toolu_2", "name": "create_followup_assertion", "input": map[string]any{"claim": "Acme has SCIM"}},
			},
			"model":       testModel,
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 90, "output_tokens": 30},
		})
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     testModel,
		MaxTokens: 256,
		Tools: []Tool{{
			Name:        "add_validation_note",
			Description: "Add a note",
			Properties:  map[string]any{"content": map[string]any{"type": "string"}},
			Required:    []string{"content"},
		}},
		Messages: []Message{
			{Role: "user", Content: "Note that SSO moved"},
			{Role: "assistant", Blocks: []ContentBlock{
				{Type: BlockToolUse, ID: "toolu_1", Name: "add_validation_note", Input: json.RawMessage(`{"content":"SSO moved"}`)},
			}},
			{Role: "user", Blocks: []ContentBlock{
				{Type: BlockToolResult, ToolUseID: "toolu_1", Text: `{"success":true}`},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Filing a follow-up.", resp.Text())

	uses := resp.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "toolu_2", uses[0].ID)
	assert.Equal(t, "create_followup_assertion", uses[0].Name)
	assert.JSONEq(t, `{"claim":"Acme has SCIM"}`, string(uses[0].Input))
}
