package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Incoming message types.
const (
	msgStartSession = "start_session"
	msgUserMessage  = "user_message"
	msgAction       = "action"
	msgInterrupt    = "interrupt"
	msgPing         = "ping"
)

// Outgoing message types.
const (
	msgAuthStatus        = "auth_status"
	msgSessionStarted    = "session_started"
	msgAssistantMessage  = "assistant_message"
	msgAssistantComplete = "assistant_complete"
	msgResult            = "result"
	msgError             = "error"
	msgPong              = "pong"
)

// Image is an attachment sent with a user message.
type Image struct {
	Base64    string `json:"base64"`
	MediaType string `json:"mediaType"`
}

// ClientMessage is any message the validation UI sends.
type ClientMessage struct {
	Type          string  `json:"type"`
	ProjectID     string  `json:"projectId,omitempty"`
	ValidatorName string  `json:"validatorName,omitempty"`
	AssertionID   string  `json:"assertionId,omitempty"`
	Content       string  `json:"content,omitempty"`
	Images        []Image `json:"images,omitempty"`
	Action        string  `json:"action,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// ServerMessage is any message sent to the validation UI.
type ServerMessage struct {
	Type      string     `json:"type"`
	Method    AuthMethod `json:"method,omitempty"`
	Valid     *bool      `json:"valid,omitempty"`
	Details   string     `json:"details,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	ProjectID string     `json:"projectId,omitempty"`
	Content   string     `json:"content,omitempty"`
	Success   *bool      `json:"success,omitempty"`
	NumTurns  *int       `json:"numTurns,omitempty"`
	CostUSD   *float64   `json:"costUsd,omitempty"`
	Message   string     `json:"message,omitempty"`
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Type: msgError, Message: msg}
}

// conn is one WebSocket client and its chat session.
type conn struct {
	s       *Server
	ws      *websocket.Conn
	wmu     sync.Mutex
	mu      sync.Mutex
	session *Session
	busy    sync.WaitGroup
}

func (s *Server) upgrader() *websocket.Upgrader {
	origins := s.cfg.Server.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("server: websocket upgrade failed", zap.Error(err))
		return
	}
	c := &conn{s: s, ws: ws}
	c.serve(r.Context())
}

func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.busy.Wait()
		c.ws.Close() //nolint:errcheck
	}()

	auth := CheckAuth(c.s.cfg.Anthropic.Key)
	c.send(ServerMessage{Type: msgAuthStatus, Method: auth.Method, Valid: &auth.Valid, Details: auth.Details})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("server: websocket closed", zap.Error(err))
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send(errorMessage("Invalid message: " + err.Error()))
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *conn) send(m ServerMessage) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteJSON(m); err != nil {
		zap.L().Debug("server: websocket write failed", zap.String("type", m.Type), zap.Error(err))
	}
}

func (c *conn) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *conn) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case msgPing:
		c.send(ServerMessage{Type: msgPong})
	case msgStartSession:
		c.startSession(ctx, msg)
	case msgUserMessage:
		c.userMessage(ctx, msg)
	case msgAction:
		c.action(ctx, msg)
	case msgInterrupt:
		sess := c.current()
		if sess == nil {
			c.send(errorMessage("No active session"))
			return
		}
		sess.Interrupt()
		c.send(ServerMessage{Type: msgAssistantComplete})
	default:
		c.send(errorMessage("Unknown message type"))
	}
}

func (c *conn) startSession(ctx context.Context, msg ClientMessage) {
	if !c.s.sessions.Enabled() {
		c.send(errorMessage(ErrNoChat.Error()))
		return
	}
	c.busy.Add(1)
	go func() {
		defer c.busy.Done()
		sess, reply, err := c.s.sessions.Start(ctx, StartInput{
			ProjectID:     msg.ProjectID,
			ValidatorName: msg.ValidatorName,
			AssertionID:   msg.AssertionID,
		})
		if err != nil {
			c.send(errorMessage(err.Error()))
			return
		}
		c.mu.Lock()
		c.session = sess
		c.mu.Unlock()
		c.send(ServerMessage{Type: msgSessionStarted, SessionID: sess.ID, ProjectID: msg.ProjectID})
		c.sendReply(reply)
	}()
}

func (c *conn) userMessage(ctx context.Context, msg ClientMessage) {
	sess := c.current()
	if sess == nil {
		c.send(errorMessage("No active session. Start a session first."))
		return
	}
	content := msg.Content
	if n := len(msg.Images); n > 0 {
		content += fmt.Sprintf("\n\n[%d screenshot(s) attached in the UI]", n)
	}
	c.busy.Add(1)
	go func() {
		defer c.busy.Done()
		reply, err := sess.Send(ctx, content)
		if err != nil {
			c.send(errorMessage(err.Error()))
			c.send(ServerMessage{Type: msgAssistantComplete})
			return
		}
		c.sendReply(reply)
	}()
}

func (c *conn) sendReply(r *Reply) {
	ok := true
	c.send(ServerMessage{Type: msgAssistantMessage, Content: r.Text})
	c.send(ServerMessage{Type: msgResult, Success: &ok, NumTurns: &r.NumTurns, CostUSD: &r.CostUSD})
	c.send(ServerMessage{Type: msgAssistantComplete})
}

// action applies a button click directly; the assistant is not consulted.
func (c *conn) action(ctx context.Context, msg ClientMessage) {
	sess := c.current()
	if sess == nil {
		c.send(errorMessage("No active session"))
		return
	}
	rs := c.s.deps.Research
	switch msg.Action {
	case "validate":
		if msg.AssertionID == "" {
			return
		}
		if _, err := rs.ValidateAssertion(ctx, msg.AssertionID, sess.ValidatorName); err != nil {
			zap.L().Warn("server: validate from websocket", zap.String("assertion_id", msg.AssertionID), zap.Error(err))
			c.send(errorMessage("Failed to validate assertion"))
		}
	case "reject":
		if msg.AssertionID == "" {
			return
		}
		if _, err := rs.RejectAssertion(ctx, msg.AssertionID, sess.ValidatorName, msg.Reason); err != nil {
			zap.L().Warn("server: reject from websocket", zap.String("assertion_id", msg.AssertionID), zap.Error(err))
			c.send(errorMessage("Failed to reject assertion"))
		}
	case "skip":
	default:
		c.send(errorMessage("Unknown action"))
	}
}
