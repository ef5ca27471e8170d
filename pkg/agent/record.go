package agent

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// workerPort is the HTTP port the worker process listens on inside its
	// container.
	workerPort = 3000

	// workerConfigPath is where the config document is mounted inside the
	// worker container.
	workerConfigPath = "/config/agent-config.json"

	// configFileName is the config document's name under the agent's state
	// directory on the host.
	configFileName = "agent-config.json"

	// DefaultWorkerImage runs when AGENTDECK_WORKER_IMAGE is unset.
	DefaultWorkerImage = "agent-deck-worker:latest"
)

// Record is the manager's view of a single agent. It is persisted as part of
// the registry snapshot, so field names stay wire-stable.
type Record struct {
	AgentID       string `json:"agent_id"`
	ConfigID      string `json:"config_id"`
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	VolumeName    string `json:"workspace_volume"`
	Status        string `json:"status"`
	HostPort      int    `json:"host_port,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (r *Record) clone() *Record {
	cp := *r
	return &cp
}

// Endpoint returns the host-side base URL for the agent's worker, or the
// empty string when no host port is known.
func (r *Record) Endpoint() string {
	if r.HostPort == 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", r.HostPort)
}

// newAgentID mints an identifier of the form "agent-<12 hex>".
func newAgentID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	return "agent-" + hex.EncodeToString(buf)
}

func containerName(agentID string) string {
	return "agentdeck-" + agentID
}

func volumeName(agentID string) string {
	return "agentdeck-workspace-" + agentID
}
