package agent

import (
	"fmt"
	"os"
	"sort"
)

// Keys the manager sets itself. User-supplied env may not shadow them.
var reservedEnvKeys = map[string]struct{}{
	"ANTHROPIC_API_KEY": {},
	"AGENT_CONFIG_JSON": {},
	"AGENT_ID":          {},
	"SESSION_ID":        {},
	"CONVERSATION_ID":   {},
	"CONFIG_PATH":       {},
}

// Host environment forwarded into every worker when set and not overridden
// by the caller.
var passthroughEnvKeys = []string{
	"ANTHROPIC_AUTH_TOKEN",
	"ANTHROPIC_BASE_URL",
	"ANTHROPIC_DEFAULT_HAIKU_MODEL",
	"ANTHROPIC_DEFAULT_OPUS_MODEL",
	"ANTHROPIC_DEFAULT_SONNET_MODEL",
	"ANTHROPIC_MODEL",
}

// buildEnv assembles the worker container environment. The managed identity
// and credential keys come first, then host passthrough, then the union of
// the caller's per-MCP-server env maps, which may shadow passthrough values
// but never managed ones. Server maps are applied in sorted name order so a
// key set by two servers resolves the same way on every launch.
func buildEnv(agentID, apiKey, sessionID string, mcpEnv map[string]map[string]string) (map[string]string, error) {
	env := map[string]string{
		"AGENT_ID":          agentID,
		"ANTHROPIC_API_KEY": apiKey,
		"CONFIG_PATH":       workerConfigPath,
	}
	if sessionID != "" {
		env["SESSION_ID"] = sessionID
	}

	for _, key := range passthroughEnvKeys {
		if value := os.Getenv(key); value != "" {
			env[key] = value
		}
	}

	servers := make([]string, 0, len(mcpEnv))
	for name := range mcpEnv {
		servers = append(servers, name)
	}
	sort.Strings(servers)
	for _, name := range servers {
		for k, v := range mcpEnv[name] {
			if _, reserved := reservedEnvKeys[k]; reserved {
				return nil, fmt.Errorf("%w: %s", ErrReservedEnvKey, k)
			}
			env[k] = v
		}
	}
	return env, nil
}

// sortedEnvKeys gives the manager a stable key list for debug logging.
func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
