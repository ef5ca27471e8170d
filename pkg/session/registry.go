package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/logger"
	"github.com/agentdeck/agentdeck/pkg/state"
)

// Snapshot is the persisted registry document: every agent record the
// container manager tracks plus every session record, in one file.
type Snapshot struct {
	Agents   map[string]*agent.Record `json:"agents"`
	Sessions map[string]*Record       `json:"sessions"`
}

// rawSnapshot defers per-entry decoding so a single damaged record does not
// discard the rest of the registry.
type rawSnapshot struct {
	Agents   map[string]json.RawMessage `json:"agents"`
	Sessions map[string]json.RawMessage `json:"sessions"`
}

// loadState restores agents and sessions from the store. Missing or corrupt
// registries log a warning and leave the manager empty; individually damaged
// entries are skipped.
func (m *Manager) loadState(ctx context.Context) {
	var raw rawSnapshot
	if err := m.store.Load(ctx, &raw); err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			logger.Warnf("Failed to load registry state: %v", err)
		}
		return
	}

	agents := make(map[string]*agent.Record, len(raw.Agents))
	for agentID, data := range raw.Agents {
		var rec agent.Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.AgentID == "" || rec.ContainerID == "" {
			logger.Warnf("Skipping agent %s from registry: %v", agentID, err)
			continue
		}
		if rec.ConfigID == "" {
			rec.ConfigID = rec.AgentID
		}
		agents[agentID] = &rec
	}

	for sessionID, data := range raw.Sessions {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil ||
			rec.SessionID == "" || rec.SessionToken == "" || rec.AgentID == "" || rec.APIKeyHash == "" {
			logger.Warnf("Skipping session %s from registry: %v", sessionID, err)
			continue
		}
		if rec.ConfigID == "" {
			rec.ConfigID = rec.AgentID
		}
		m.sessions[sessionID] = &rec
		m.agentIndex[rec.AgentID] = sessionID
		if a, ok := agents[rec.AgentID]; ok && a.SessionID == "" {
			a.SessionID = sessionID
		}
	}

	if len(agents) > 0 {
		m.cm.RestoreAgents(agents)
	}
	logger.Infof("Restored %d agent(s) and %d session(s) from registry", len(agents), len(m.sessions))
}

// persist writes the current registry snapshot. The in-memory session lock
// is released before any I/O happens.
func (m *Manager) persist(ctx context.Context) error {
	m.mu.Lock()
	sessions := make(map[string]*Record, len(m.sessions))
	for id, rec := range m.sessions {
		sessions[id] = rec.clone()
	}
	m.mu.Unlock()

	snapshot := Snapshot{
		Agents:   m.cm.ListAgents(ctx, false),
		Sessions: sessions,
	}
	if err := m.store.Save(ctx, &snapshot); err != nil {
		logger.Errorf("Failed to persist registry state: %v", err)
		return err
	}
	return nil
}
