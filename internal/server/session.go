package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/research"
	"github.com/sells-group/research-kb/pkg/anthropic"
)

// ErrNoChat is returned when a session is started without an API key.
var ErrNoChat = eris.New("Authentication required. Set ANTHROPIC_API_KEY or anthropic.key in config.yaml")

// errEmptyReply is returned when the model answers without any text.
var errEmptyReply = eris.New("assistant returned an empty reply")

// maxToolRounds bounds the model calls one Send may make while the assistant
// is calling tools.
const maxToolRounds = 8

// ChatOptions configures the assistant model.
type ChatOptions struct {
	Model     string
	MaxTokens int64
}

// Sessions creates validation chat sessions.
type Sessions struct {
	research *research.Service
	chat     anthropic.Client
	opts     ChatOptions
	tools    []anthropic.Tool
	handlers map[string]mcpserver.ToolHandlerFunc
	seq      atomic.Int64
	now      func() time.Time
}

// NewSessions returns a session factory. chat may be nil.
func NewSessions(rs *research.Service, chat anthropic.Client, opts ChatOptions) *Sessions {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	m := &Sessions{research: rs, chat: chat, opts: opts, now: time.Now,
		handlers: make(map[string]mcpserver.ToolHandlerFunc)}
	for _, d := range validationTools(rs) {
		if !d.chat {
			continue
		}
		m.tools = append(m.tools, anthropic.Tool{
			Name:        d.tool.Name,
			Description: d.tool.Description,
			Properties:  d.tool.InputSchema.Properties,
			Required:    d.tool.InputSchema.Required,
		})
		m.handlers[d.tool.Name] = d.handler
	}
	return m
}

// Enabled reports whether sessions can call the model.
func (m *Sessions) Enabled() bool {
	return m.chat != nil
}

// StartInput opens a session.
type StartInput struct {
	ProjectID     string
	ValidatorName string
	AssertionID   string
}

// Session is one validator's conversation with the assistant. It is safe for
// one sender at a time plus a concurrent Interrupt.
type Session struct {
	ID            string
	ProjectID     string
	ValidatorName string

	m       *Sessions
	mu      sync.Mutex
	history []anthropic.Message
	usage   anthropic.TokenUsage
	turns   int
	cancel  context.CancelFunc
	cmu     sync.Mutex
}

// Reply is the assistant's answer to one turn.
type Reply struct {
	Text     string  `json:"content"`
	NumTurns int     `json:"numTurns"`
	CostUSD  float64 `json:"costUsd"`
}

// Start creates a session and runs the opening turn.
func (m *Sessions) Start(ctx context.Context, in StartInput) (*Session, *Reply, error) {
	if m.chat == nil {
		return nil, nil, ErrNoChat
	}
	if strings.TrimSpace(in.ValidatorName) == "" {
		return nil, nil, apperr.Validation("validatorName is required", "validatorName: required")
	}

	var assertionJSON string
	if in.AssertionID != "" {
		view, err := loadAssertionView(ctx, m.research, in.AssertionID)
		if err != nil {
			return nil, nil, err
		}
		raw, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return nil, nil, eris.Wrap(err, "server: marshal assertion")
		}
		assertionJSON = string(raw)
	}

	s := &Session{
		ID:            fmt.Sprintf("validation-%d-%d", m.now().UnixMilli(), m.seq.Add(1)),
		ProjectID:     in.ProjectID,
		ValidatorName: in.ValidatorName,
		m:             m,
	}
	zap.L().Info("validation session started",
		zap.String("session_id", s.ID),
		zap.String("validator", in.ValidatorName),
		zap.String("assertion_id", in.AssertionID),
	)
	reply, err := s.Send(ctx, openingPrompt(in.ValidatorName, in.AssertionID, assertionJSON))
	if err != nil {
		return nil, nil, err
	}
	return s, reply, nil
}

// Send adds a user message and returns the assistant's reply. Tool calls are
// answered in place until the assistant replies with text. On failure the
// whole turn is dropped so the history keeps alternating roles.
func (s *Session) Send(ctx context.Context, content string) (*Reply, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("message content is required", "content: required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cmu.Lock()
	s.cancel = cancel
	s.cmu.Unlock()
	defer func() {
		s.cmu.Lock()
		s.cancel = nil
		s.cmu.Unlock()
		cancel()
	}()

	start := len(s.history)
	s.history = append(s.history, anthropic.Message{Role: "user", Content: content})

	var texts []string
	var last string
	for round := 0; ; round++ {
		if round == maxToolRounds {
			s.history = s.history[:start]
			return nil, eris.Errorf("server: assistant still calling tools after %d rounds", maxToolRounds)
		}
		resp, err := s.m.chat.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.m.opts.Model,
			MaxTokens: s.m.opts.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(ValidationSystemPrompt, "5m"),
			Messages:  append([]anthropic.Message(nil), s.history...),
			Tools:     s.m.tools,
		})
		if err != nil {
			s.history = s.history[:start]
			return nil, err
		}
		s.usage = s.usage.Add(resp.Usage)
		resp.Usage.LogCost(s.m.opts.Model, "validation_chat")

		last = resp.Text()
		if last != "" {
			texts = append(texts, last)
		}
		calls := resp.ToolUses()
		if len(calls) == 0 {
			break
		}
		s.history = append(s.history,
			anthropic.Message{Role: "assistant", Blocks: resp.Content},
			anthropic.Message{Role: "user", Blocks: s.m.runTools(ctx, s.ID, calls)},
		)
	}

	if last == "" {
		s.history = s.history[:start]
		return nil, errEmptyReply
	}
	s.history = append(s.history, anthropic.Message{Role: "assistant", Content: last})
	s.turns++

	return &Reply{
		Text:     strings.Join(texts, "\n"),
		NumTurns: s.turns,
		CostUSD:  s.usage.EstimateCost(s.m.opts.Model),
	}, nil
}

// runTools answers each tool_use block with a tool_result block.
func (m *Sessions) runTools(ctx context.Context, sessionID string, calls []anthropic.ContentBlock) []anthropic.ContentBlock {
	out := make([]anthropic.ContentBlock, 0, len(calls))
	for _, c := range calls {
		text, isErr := m.callTool(ctx, c)
		zap.L().Info("validation tool call",
			zap.String("session_id", sessionID),
			zap.String("tool", c.Name),
			zap.Bool("is_error", isErr),
		)
		out = append(out, anthropic.ContentBlock{
			Type:      anthropic.BlockToolResult,
			ToolUseID: c.ID,
			Text:      text,
			IsError:   isErr,
		})
	}
	return out
}

func (m *Sessions) callTool(ctx context.Context, call anthropic.ContentBlock) (string, bool) {
	h, ok := m.handlers[call.Name]
	if !ok {
		return "unknown tool: " + call.Name, true
	}
	args := map[string]any{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return "invalid tool input: " + err.Error(), true
		}
	}

	var req mcp.CallToolRequest
	req.Params.Name = call.Name
	req.Params.Arguments = args
	res, err := h(ctx, req)
	if err != nil {
		return err.Error(), true
	}

	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if text == "" {
		text = "{}"
	}
	return text, res.IsError
}

// Interrupt cancels the in-flight request, if any.
func (s *Session) Interrupt() {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Turns is the number of completed assistant turns.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}
