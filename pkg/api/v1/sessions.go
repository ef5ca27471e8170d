package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/container/runtime"
	"github.com/agentdeck/agentdeck/pkg/logger"
	"github.com/agentdeck/agentdeck/pkg/session"
	"github.com/agentdeck/agentdeck/pkg/telemetry"
)

func (s *Routes) launchSession(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := requireAmbientAPIKey(w)
	if !ok {
		return
	}

	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConfigID == "" && len(req.Config) == 0 {
		http.Error(w, "config_id or config is required", http.StatusBadRequest)
		return
	}

	config := make(map[string]any, len(req.Config)+1)
	for k, v := range req.Config {
		config[k] = v
	}
	if req.ConfigID != "" {
		config["id"] = req.ConfigID
	}

	sessionRecord, agentRecord, err := s.sessions.LaunchSession(r.Context(), apiKey, config, req.MCPEnv)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidConfig) || errors.Is(err, agent.ErrReservedEnvKey) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Errorf("Failed to launch session: %v", err)
		http.Error(w, "failed to launch session", http.StatusInternalServerError)
		return
	}
	telemetry.SessionsLaunched.Inc()

	writeJSON(w, launchResponse{
		SessionID:    sessionRecord.SessionID,
		SessionToken: sessionRecord.SessionToken,
		AgentID:      agentRecord.AgentID,
		ConfigID:     agentRecord.ConfigID,
		Status:       agentRecord.Status,
		CreatedAt:    sessionRecord.CreatedAt,
	})
}

func (s *Routes) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.ListSessions()
	agents := s.agents.ListAgents(r.Context(), true)

	items := make([]sessionInfo, 0, len(sessions))
	for sessionID, rec := range sessions {
		status := runtime.StatusMissing
		if agentRecord, ok := agents[rec.AgentID]; ok {
			status = agentRecord.Status
		}
		items = append(items, sessionInfo{
			SessionID:  sessionID,
			AgentID:    rec.AgentID,
			ConfigID:   rec.ConfigID,
			Status:     status,
			CreatedAt:  rec.CreatedAt,
			LastActive: rec.LastActive,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt.Time)
	})

	writeJSON(w, sessionListResponse{Sessions: items, Total: len(items)})
}

func (s *Routes) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	rec, err := s.sessions.GetSession(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	status := runtime.StatusMissing
	if agentRecord, ok := s.agents.ListAgents(r.Context(), true)[rec.AgentID]; ok {
		status = agentRecord.Status
	}
	writeJSON(w, sessionInfo{
		SessionID:  sessionID,
		AgentID:    rec.AgentID,
		ConfigID:   rec.ConfigID,
		Status:     status,
		CreatedAt:  rec.CreatedAt,
		LastActive: rec.LastActive,
	})
}

// sessionFromRequest loads the session named in the URL and checks the
// caller's credentials. Both failures are written to the response.
func (s *Routes) sessionFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := chi.URLParam(r, "session_id")
	if _, err := s.sessions.GetSession(sessionID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	if !s.authorize(w, r, sessionID) {
		return "", false
	}
	return sessionID, true
}

func (s *Routes) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	s.sessions.DeleteSession(r.Context(), sessionID)
	writeJSON(w, statusResponse{Status: "deleted", SessionID: sessionID})
}

func (s *Routes) stopSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	s.sessions.StopSession(r.Context(), sessionID)
	writeJSON(w, statusResponse{Status: "stopped", SessionID: sessionID})
}

func (s *Routes) startSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req resumeRequest
	if r.Body != nil {
		// Body is optional on resume.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	agentRecord, err := s.startWithFallback(r, sessionID, req.MCPEnv)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	writeJSON(w, s.recordToInfo(agentRecord))
}

// startWithFallback resumes a session without credentials, retrying once
// with the ambient API key when the container is gone and needs recreation.
func (s *Routes) startWithFallback(r *http.Request, sessionID string, mcpEnv map[string]map[string]string) (*agent.Record, error) {
	agentRecord, err := s.sessions.StartSession(r.Context(), sessionID, "", mcpEnv)
	if err == nil {
		return agentRecord, nil
	}
	if !errors.Is(err, agent.ErrMissingContainer) {
		return nil, err
	}

	apiKey := ambientAPIKey()
	if apiKey == "" {
		return nil, err
	}
	agentRecord, err = s.sessions.StartSession(r.Context(), sessionID, apiKey, mcpEnv)
	if err == nil {
		telemetry.AgentsRecreated.Inc()
	}
	return agentRecord, err
}

func (s *Routes) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrMissingContainer):
		http.Error(w, "Agent container missing; ANTHROPIC_API_KEY is required to recreate it", http.StatusConflict)
	case errors.Is(err, agent.ErrMissingConfig):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, agent.ErrUnknownAgent):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		logger.Errorf("Failed to start session: %v", err)
		http.Error(w, "failed to start session", http.StatusInternalServerError)
	}
}

func (s *Routes) rotateSessionToken(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	token, err := s.sessions.RotateToken(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, rotateTokenResponse{SessionID: sessionID, SessionToken: token})
}

func (s *Routes) interruptSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	rec, err := s.sessions.GetSession(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.interrupt(w, r, sessionID, rec.AgentID)
}

// interrupt relays an interrupt to the session's worker and touches the
// session on success.
func (s *Routes) interrupt(w http.ResponseWriter, r *http.Request, sessionID, agentID string) {
	endpoint := s.endpoints.Endpoint(r.Context(), agentID)
	if endpoint == "" {
		http.Error(w, "agent not found or no endpoint", http.StatusNotFound)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, endpoint+"/interrupt", nil)
	if err != nil {
		http.Error(w, "failed to build interrupt request", http.StatusInternalServerError)
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to interrupt agent: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		http.Error(w, fmt.Sprintf("agent interrupt failed with status %d", resp.StatusCode), http.StatusBadGateway)
		return
	}

	s.sessions.Touch(r.Context(), sessionID)
	writeJSON(w, statusResponse{Status: "interrupted", SessionID: sessionID})
}
