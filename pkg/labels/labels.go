// Package labels provides utilities for managing container labels
// used by the agentdeck control plane.
package labels

import (
	"strings"
)

const (
	// LabelAgentDeck is the label that indicates a container is managed by agentdeck.
	LabelAgentDeck = "agentdeck"

	// LabelAgentID is the label that contains the agent identifier.
	LabelAgentID = "agentdeck.agent_id"

	// LabelConfigID is the label that contains the configuration identifier.
	LabelConfigID = "agentdeck.config_id"

	// LabelAgentDeckValue is the value for the LabelAgentDeck label.
	LabelAgentDeckValue = "true"
)

// Standard returns the standard labels attached to a worker container.
func Standard(agentID, configID string) map[string]string {
	return map[string]string{
		LabelAgentDeck: LabelAgentDeckValue,
		LabelAgentID:   agentID,
		LabelConfigID:  configID,
	}
}

// IsAgentDeckContainer checks if a container is managed by agentdeck.
func IsAgentDeckContainer(labels map[string]string) bool {
	value, ok := labels[LabelAgentDeck]
	return ok && strings.ToLower(value) == LabelAgentDeckValue
}

// GetAgentID gets the agent identifier from labels.
func GetAgentID(labels map[string]string) string {
	return labels[LabelAgentID]
}
