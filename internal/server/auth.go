package server

import (
	"fmt"
	"net/http"
)

// AuthMethod names how the chat assistant authenticates to Anthropic.
type AuthMethod string

const (
	AuthAPIKey AuthMethod = "api_key"
	AuthNone   AuthMethod = "none"
)

// AuthStatus reports whether the validation assistant can run.
type AuthStatus struct {
	Method  AuthMethod `json:"method"`
	Valid   bool       `json:"valid"`
	Details string     `json:"details,omitempty"`
}

// CheckAuth describes the configured API key without revealing it.
func CheckAuth(apiKey string) AuthStatus {
	if apiKey == "" {
		return AuthStatus{
			Method:  AuthNone,
			Details: "No authentication configured. Set ANTHROPIC_API_KEY or anthropic.key in config.yaml.",
		}
	}
	return AuthStatus{
		Method:  AuthAPIKey,
		Valid:   true,
		Details: fmt.Sprintf("Using ANTHROPIC_API_KEY (%s)", maskKey(apiKey)),
	}
}

// maskKey keeps the first 10 and last 4 characters.
func maskKey(key string) string {
	if len(key) <= 14 {
		return "..."
	}
	return key[:10] + "..." + key[len(key)-4:]
}

func (s *Server) authStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CheckAuth(s.cfg.Anthropic.Key))
}
