package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/logger"
)

func (s *Routes) spawnAgent(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := requireAmbientAPIKey(w)
	if !ok {
		return
	}

	var req spawnAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	_, agentRecord, err := s.sessions.LaunchSession(r.Context(), apiKey, req.Config, req.MCPEnv)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidConfig) || errors.Is(err, agent.ErrReservedEnvKey) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Errorf("Failed to spawn agent: %v", err)
		http.Error(w, "failed to spawn agent", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.recordToInfo(agentRecord))
}

func (s *Routes) listAgents(w http.ResponseWriter, r *http.Request) {
	records := s.agents.ListAgents(r.Context(), true)
	infos := make([]agentInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, s.recordToInfo(rec))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].AgentID < infos[j].AgentID })
	writeJSON(w, infos)
}

// agentSessionFromRequest resolves the agent named in the URL to its session
// and checks the caller's credentials.
func (s *Routes) agentSessionFromRequest(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	agentID := chi.URLParam(r, "agent_id")
	sessionID, ok := s.requireSession(w, agentID)
	if !ok {
		return "", "", false
	}
	if !s.authorize(w, r, sessionID) {
		return "", "", false
	}
	return agentID, sessionID, true
}

func (s *Routes) stopAgent(w http.ResponseWriter, r *http.Request) {
	agentID, sessionID, ok := s.agentSessionFromRequest(w, r)
	if !ok {
		return
	}
	s.sessions.StopSession(r.Context(), sessionID)
	writeJSON(w, statusResponse{Status: "stopped", AgentID: agentID})
}

func (s *Routes) startAgent(w http.ResponseWriter, r *http.Request) {
	_, sessionID, ok := s.agentSessionFromRequest(w, r)
	if !ok {
		return
	}

	var req resumeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	agentRecord, err := s.startWithFallback(r, sessionID, req.MCPEnv)
	if err != nil {
		s.writeStartError(w, err)
		return
	}
	writeJSON(w, s.recordToInfo(agentRecord))
}

func (s *Routes) rotateAgentToken(w http.ResponseWriter, r *http.Request) {
	_, sessionID, ok := s.agentSessionFromRequest(w, r)
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

func (s *Routes) deleteAgent(w http.ResponseWriter, r *http.Request) {
	agentID, sessionID, ok := s.agentSessionFromRequest(w, r)
	if !ok {
		return
	}
	s.sessions.DeleteSession(r.Context(), sessionID)
	writeJSON(w, statusResponse{Status: "deleted", AgentID: agentID})
}

// reloadConfig replaces the agent's config document while its worker is
// stopped. A failed update restores the prior document before the worker
// comes back, so the agent never runs a half-applied config. The session
// token is rotated on success.
func (s *Routes) reloadConfig(w http.ResponseWriter, r *http.Request) {
	agentID, sessionID, ok := s.agentSessionFromRequest(w, r)
	if !ok {
		return
	}

	var req configReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	priorConfig, err := s.agents.ReadConfig(agentID)
	if err != nil {
		logger.Debugf("No prior config snapshot for agent %s: %v", agentID, err)
		priorConfig = nil
	}

	s.sessions.StopSession(r.Context(), sessionID)

	if _, err := s.agents.UpdateConfig(agentID, req.Config); err != nil {
		if priorConfig != nil {
			if restoreErr := s.agents.RestoreConfig(agentID, priorConfig); restoreErr != nil {
				logger.Errorf("Failed to restore config for agent %s: %v", agentID, restoreErr)
			}
		}
		if _, startErr := s.startWithFallback(r, sessionID, req.MCPEnv); startErr != nil {
			logger.Errorf("Failed to restart agent %s after config rollback: %v", agentID, startErr)
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	agentRecord, err := s.startWithFallback(r, sessionID, req.MCPEnv)
	if err != nil {
		s.writeStartError(w, err)
		return
	}

	token, err := s.sessions.RotateToken(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, configReloadResponse{
		Agent:        s.recordToInfo(agentRecord),
		SessionID:    sessionID,
		SessionToken: token,
	})
}
