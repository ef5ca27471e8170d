package v1

import (
	"context"

	"github.com/agentdeck/agentdeck/pkg/agent"
	"github.com/agentdeck/agentdeck/pkg/session"
)

// spawnAgentRequest creates an agent (and its backing session) from a raw
// config document.
type spawnAgentRequest struct {
	Config map[string]any               `json:"config"`
	MCPEnv map[string]map[string]string `json:"mcp_env,omitempty"`
}

// launchRequest creates a session from either a stored config id or an
// inline config document.
type launchRequest struct {
	ConfigID string                       `json:"config_id,omitempty"`
	Config   map[string]any               `json:"config,omitempty"`
	MCPEnv   map[string]map[string]string `json:"mcp_env,omitempty"`
}

type launchResponse struct {
	SessionID    string            `json:"session_id"`
	SessionToken string            `json:"session_token"`
	AgentID      string            `json:"agent_id"`
	ConfigID     string            `json:"config_id"`
	Status       string            `json:"status"`
	CreatedAt    session.Timestamp `json:"created_at"`
}

type sessionInfo struct {
	SessionID  string            `json:"session_id"`
	AgentID    string            `json:"agent_id"`
	ConfigID   string            `json:"config_id"`
	Status     string            `json:"status"`
	CreatedAt  session.Timestamp `json:"created_at"`
	LastActive session.Timestamp `json:"last_active"`
}

type sessionListResponse struct {
	Sessions []sessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest addresses a session by body field or X-Session-ID header. The
// camelCase alias is accepted for older clients.
type chatRequest struct {
	Messages       []chatMessage `json:"messages"`
	SessionID      string        `json:"session_id,omitempty"`
	SessionIDAlias string        `json:"sessionId,omitempty"`
}

func (c *chatRequest) sessionID() string {
	if c.SessionID != "" {
		return c.SessionID
	}
	return c.SessionIDAlias
}

// lastUserMessage returns the most recent user-role message content.
func (c *chatRequest) lastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i].Content
		}
	}
	return ""
}

// queryRequest is the body forwarded verbatim to a worker's /query endpoint.
type queryRequest struct {
	Query   string           `json:"query"`
	History []map[string]any `json:"history"`
}

// resumeRequest optionally carries MCP env for a container recreation.
type resumeRequest struct {
	MCPEnv map[string]map[string]string `json:"mcp_env,omitempty"`
}

type configReloadRequest struct {
	Config map[string]any               `json:"config"`
	MCPEnv map[string]map[string]string `json:"mcp_env,omitempty"`
}

type configReloadResponse struct {
	Agent        agentInfo `json:"agent"`
	SessionID    string    `json:"session_id"`
	SessionToken string    `json:"session_token"`
}

type rotateTokenResponse struct {
	SessionID    string `json:"session_id"`
	SessionToken string `json:"session_token"`
}

type statusResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

// agentInfo is the API rendering of an agent record.
type agentInfo struct {
	AgentID       string `json:"agent_id"`
	ConfigID      string `json:"config_id"`
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	Status        string `json:"status"`
	SessionID     string `json:"session_id,omitempty"`
	HostPort      int    `json:"host_port,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (s *Routes) recordToInfo(rec *agent.Record) agentInfo {
	sessionID := rec.SessionID
	if sessionID == "" {
		sessionID, _ = s.sessions.SessionForAgent(rec.AgentID)
	}
	return agentInfo{
		AgentID:       rec.AgentID,
		ConfigID:      rec.ConfigID,
		ContainerID:   rec.ContainerID,
		ContainerName: rec.ContainerName,
		Status:        rec.Status,
		SessionID:     sessionID,
		HostPort:      rec.HostPort,
		CreatedAt:     rec.CreatedAt,
	}
}

// endpointResolver is the part of the container manager the streaming
// handlers need, split out so tests can stub worker endpoints.
type endpointResolver interface {
	Endpoint(ctx context.Context, agentID string) string
}
