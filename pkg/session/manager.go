// Package session implements the session manager: it binds each session to
// exactly one agent, owns the session credentials, and persists the combined
// agent/session registry across restarts.
package session

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/logger"
	"github.com/agentdeck/agentdeck/pkg/state"
)

// Manager maintains the session table and the agent-to-session index.
// Mutations persist the registry after the in-memory lock is released.
type Manager struct {
	cm          *agent.Manager
	store       state.Store
	idleTimeout time.Duration

	mu         sync.Mutex
	sessions   map[string]*Record
	agentIndex map[string]string

	// now is replaced in tests to drive idle expiry.
	now func() time.Time
}

// NewManager creates a session manager on top of the container manager and
// restores any persisted registry state. An idleMinutes of zero or less
// disables idle expiry.
func NewManager(ctx context.Context, cm *agent.Manager, store state.Store, idleMinutes int) *Manager {
	if idleMinutes < 0 {
		idleMinutes = 0
	}
	m := &Manager{
		cm:          cm,
		store:       store,
		idleTimeout: time.Duration(idleMinutes) * time.Minute,
		sessions:    make(map[string]*Record),
		agentIndex:  make(map[string]string),
		now:         time.Now,
	}
	m.loadState(ctx)
	return m
}

// LaunchSession spawns a fresh agent bound to a new session and returns both
// records. The session id is handed to the worker via its environment.
func (m *Manager) LaunchSession(
	ctx context.Context,
	apiKey string,
	config map[string]any,
	mcpEnv map[string]map[string]string,
) (*Record, *agent.Record, error) {
	sessionID := newSessionID()
	agentRecord, err := m.cm.SpawnAgent(ctx, apiKey, config, mcpEnv, sessionID)
	if err != nil {
		return nil, nil, err
	}

	now := At(m.now())
	record := &Record{
		SessionID:    sessionID,
		SessionToken: newSessionToken(),
		AgentID:      agentRecord.AgentID,
		ConfigID:     agentRecord.ConfigID,
		CreatedAt:    now,
		LastActive:   now,
		APIKeyHash:   hashAPIKey(apiKey),
	}

	m.mu.Lock()
	m.sessions[sessionID] = record
	m.agentIndex[agentRecord.AgentID] = sessionID
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return nil, nil, err
	}
	logger.Infof("Launched session %s for agent %s", sessionID, agentRecord.AgentID)
	return record.clone(), agentRecord, nil
}

// ListSessions returns a snapshot of all session records.
func (m *Manager) ListSessions() map[string]*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Record, len(m.sessions))
	for id, rec := range m.sessions {
		out[id] = rec.clone()
	}
	return out
}

// GetSession returns a copy of the session's record.
func (m *Manager) GetSession(sessionID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return rec.clone(), nil
}

// SessionForAgent resolves the session id bound to an agent.
func (m *Manager) SessionForAgent(agentID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.agentIndex[agentID]
	return id, ok
}

// Touch marks the session as active now and persists.
func (m *Manager) Touch(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if rec, ok := m.sessions[sessionID]; ok {
		rec.LastActive = At(m.now())
	}
	m.mu.Unlock()
	_ = m.persist(ctx)
}

// Authorize reports whether the presented credentials may act on the
// session. A session token match or a Bearer credential whose SHA-256
// matches the stored API key hash both succeed. Comparisons are constant
// time in the credential.
func (m *Manager) Authorize(sessionID, sessionToken, authorization string) bool {
	rec, err := m.GetSession(sessionID)
	if err != nil {
		return false
	}

	if sessionToken != "" &&
		subtle.ConstantTimeCompare([]byte(sessionToken), []byte(rec.SessionToken)) == 1 {
		return true
	}

	if authorization != "" {
		scheme, credential, found := strings.Cut(authorization, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			candidate := hashAPIKey(strings.TrimSpace(credential))
			return subtle.ConstantTimeCompare([]byte(candidate), []byte(rec.APIKeyHash)) == 1
		}
	}

	return false
}

// StopSession stops the session's worker. Unknown sessions are a no-op;
// worker stop failures are logged, not surfaced.
func (m *Manager) StopSession(ctx context.Context, sessionID string) {
	rec, err := m.GetSession(sessionID)
	if err != nil {
		return
	}
	if _, err := m.cm.StopAgent(ctx, rec.AgentID); err != nil {
		logger.Debugf("Failed to stop agent for session %s: %v", sessionID, err)
	}
	_ = m.persist(ctx)
}

// StartSession resumes the session's worker, recreating its container when
// it disappeared. When recreation consumed a caller-supplied API key, the
// stored hash is rebased onto that key. The session is touched afterwards.
func (m *Manager) StartSession(
	ctx context.Context,
	sessionID, apiKey string,
	mcpEnv map[string]map[string]string,
) (*agent.Record, error) {
	rec, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	agentRecord, recreated, err := m.cm.StartAgent(ctx, rec.AgentID, apiKey, mcpEnv, sessionID)
	if err != nil {
		return nil, err
	}

	if recreated && apiKey != "" {
		m.mu.Lock()
		if stored, ok := m.sessions[sessionID]; ok {
			stored.APIKeyHash = hashAPIKey(apiKey)
		}
		m.mu.Unlock()
	}

	m.Touch(ctx, sessionID)
	return agentRecord, nil
}

// DeleteSession tears down the session's worker and removes the session.
// Unknown sessions are a no-op.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) {
	rec, err := m.GetSession(sessionID)
	if err != nil {
		return
	}

	if err := m.cm.DeleteAgent(ctx, rec.AgentID); err != nil {
		logger.Debugf("Failed to delete agent for session %s: %v", sessionID, err)
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	delete(m.agentIndex, rec.AgentID)
	m.mu.Unlock()

	_ = m.persist(ctx)
	logger.Infof("Deleted session %s", sessionID)
}

// RotateToken replaces the session's token with a fresh one and persists.
func (m *Manager) RotateToken(ctx context.Context, sessionID string) (string, error) {
	token := newSessionToken()

	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	rec.SessionToken = token
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// IdleSessions returns the ids of sessions whose last activity predates the
// idle cutoff. Expiry disabled returns nothing.
func (m *Manager) IdleSessions() []string {
	if m.idleTimeout <= 0 {
		return nil
	}
	cutoff := m.now().UTC().Add(-m.idleTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	var idle []string
	for id, rec := range m.sessions {
		if rec.LastActive.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

// AgentManager exposes the underlying container manager for routing layers
// that address agents directly.
func (m *Manager) AgentManager() *agent.Manager {
	return m.cm
}
