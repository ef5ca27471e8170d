// Package v1 contains the AgentDeck REST and streaming API handlers.
package v1

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/logger"
	"github.com/agentdeck/agentdeck/pkg/session"
)

// interruptTimeout bounds the round trip to a worker's /interrupt endpoint.
const interruptTimeout = 5 * time.Second

// Routes holds the dependencies shared by the agent and session handlers.
type Routes struct {
	sessions  *session.Manager
	agents    *agent.Manager
	endpoints endpointResolver

	// httpClient talks to worker endpoints for interrupts. Streaming
	// requests use their own untimed client.
	httpClient *http.Client
}

// Router builds the handler tree mounted at /api/agents.
func Router(sessions *session.Manager) http.Handler {
	routes := &Routes{
		sessions:   sessions,
		agents:     sessions.AgentManager(),
		endpoints:  sessions.AgentManager(),
		httpClient: &http.Client{Timeout: interruptTimeout},
	}

	r := chi.NewRouter()
	r.Post("/", routes.spawnAgent)
	r.Get("/", routes.listAgents)
	r.Post("/launch", routes.launchSession)
	r.Post("/chat", routes.chat)

	r.Get("/sessions", routes.listSessions)
	r.Get("/sessions/{session_id}", routes.getSession)
	r.Delete("/sessions/{session_id}", routes.deleteSession)
	r.Post("/sessions/{session_id}/stop", routes.stopSession)
	r.Post("/sessions/{session_id}/start", routes.startSession)
	r.Post("/sessions/{session_id}/rotate-token", routes.rotateSessionToken)
	r.Post("/sessions/{session_id}/interrupt", routes.interruptSession)

	r.Post("/{agent_id}/stop", routes.stopAgent)
	r.Post("/{agent_id}/start", routes.startAgent)
	r.Post("/{agent_id}/rotate-token", routes.rotateAgentToken)
	r.Patch("/{agent_id}/config", routes.reloadConfig)
	r.Post("/{agent_id}/query", routes.queryAgent)
	r.Delete("/{agent_id}", routes.deleteAgent)

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

// ambientAPIKey is the server-side Anthropic key used when a request does
// not carry one.
func ambientAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// requireAmbientAPIKey writes a 500 when the server has no ambient key.
func requireAmbientAPIKey(w http.ResponseWriter) (string, bool) {
	key := ambientAPIKey()
	if key == "" {
		http.Error(w, "ANTHROPIC_API_KEY is required", http.StatusInternalServerError)
		return "", false
	}
	return key, true
}

// authorize resolves the session credentials from the request headers and
// verifies them, writing a 401 on failure.
func (s *Routes) authorize(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	token := r.Header.Get("X-Session-Token")
	authorization := r.Header.Get("Authorization")
	if !s.sessions.Authorize(sessionID, token, authorization) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// requireSession maps an agent id to its session, writing a 404 when the
// agent has none.
func (s *Routes) requireSession(w http.ResponseWriter, agentID string) (string, bool) {
	sessionID, ok := s.sessions.SessionForAgent(agentID)
	if !ok {
		http.Error(w, "session not found for agent", http.StatusNotFound)
		return "", false
	}
	return sessionID, true
}
