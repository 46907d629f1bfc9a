// Package server exposes the research knowledge base to the validation UI:
// a REST API over the research tools, a WebSocket chat channel for the
// validation assistant, and an MCP endpoint for agents.
package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/command"
	"github.com/sells-group/research-kb/internal/config"
	"github.com/sells-group/research-kb/internal/history"
	"github.com/sells-group/research-kb/internal/research"
	"github.com/sells-group/research-kb/pkg/anthropic"
)

// Deps are the services the server routes to. Chat may be nil, in which case
// validation sessions cannot be started.
type Deps struct {
	Research *research.Service
	History  *history.Service
	Commands *command.Registry
	Chat     anthropic.Client
}

// Server holds the HTTP handlers and the validation chat sessions.
type Server struct {
	cfg      *config.Config
	deps     Deps
	sessions *Sessions
	mcp      *mcpserver.MCPServer
	now      func() time.Time
}

// New creates a Server. cfg supplies ports, directories and the chat model.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		now:  func() time.Time { return time.Now().UTC() },
	}
	s.sessions = NewSessions(deps.Research, deps.Chat, ChatOptions{
		Model:     cfg.Anthropic.ChatModel,
		MaxTokens: cfg.Anthropic.MaxTokens,
	})
	s.mcp = NewMCPServer(deps.Research)
	return s
}

// MCP returns the MCP server so it can also be served over stdio.
func (s *Server) MCP() *mcpserver.MCPServer {
	return s.mcp
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Mcp-Session-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/api", s.apiRoutes)
	r.Get("/ws/validation", s.handleWS)
	r.Handle("/mcp", mcpserver.NewStreamableHTTPServer(s.mcp, mcpserver.WithStateLess(true)))

	serveDir(r, "/screenshots", s.cfg.Fetch.ScreenshotDir)
	serveDir(r, "/evidence", s.cfg.Server.EvidenceDir)
	if s.cfg.Server.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.Server.StaticDir)))
	}
	return r
}

func serveDir(r chi.Router, prefix, dir string) {
	if dir == "" {
		return
	}
	r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(dir))))
}

// requestLogger logs each request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type healthResponse struct {
	Status    string     `json:"status"`
	Auth      AuthMethod `json:"auth"`
	AuthValid bool       `json:"authValid"`
	Timestamp time.Time  `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	auth := CheckAuth(s.cfg.Anthropic.Key)
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Auth:      auth.Method,
		AuthValid: auth.Valid,
		Timestamp: s.now(),
	})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.String("kind", apperr.Kind(err)), zap.Error(err))
	}
	writeJSON(w, status, envelope{Error: err.Error()})
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
