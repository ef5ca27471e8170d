package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Tools granted to every agent that declares at least one MCP server.
var mcpBaseTools = []string{"ListMcpResources", "ReadMcpResource"}

// NormalizeConfig returns a normalized copy of the supplied configuration and
// the effective config id. Normalization is deterministic and idempotent:
//
//   - `id` defaults to defaultID, `name` to "Agent <defaultID>", and
//     `permission_mode` to "bypassPermissions";
//   - when `mcp_servers` is non-empty, `allowed_tools` gains the MCP base
//     tools and a `mcp__<server>__*` wildcard per declared server, appended
//     after any caller-supplied tools, without duplicates.
//
// Any additional keys pass through unchanged.
func NormalizeConfig(config map[string]any, defaultID string) (map[string]any, string, error) {
	normalized := make(map[string]any, len(config)+3)
	for k, v := range config {
		normalized[k] = v
	}

	configID, _ := normalized["id"].(string)
	if configID == "" {
		configID = defaultID
		normalized["id"] = configID
	}
	if name, _ := normalized["name"].(string); name == "" {
		normalized["name"] = fmt.Sprintf("Agent %s", defaultID)
	}
	if _, ok := normalized["permission_mode"]; !ok {
		normalized["permission_mode"] = "bypassPermissions"
	}

	tools, err := allowedTools(normalized)
	if err != nil {
		return nil, "", err
	}

	servers, err := mcpServerNames(normalized)
	if err != nil {
		return nil, "", err
	}
	if len(servers) > 0 {
		for _, tool := range mcpBaseTools {
			tools = appendMissing(tools, tool)
		}
		for _, server := range servers {
			tools = appendMissing(tools, fmt.Sprintf("mcp__%s__*", server))
		}
	}

	if len(tools) > 0 {
		normalized["allowed_tools"] = tools
	}

	return normalized, configID, nil
}

// allowedTools extracts allowed_tools as a string slice. JSON decoding hands
// us []any; callers constructing configs in Go may pass []string directly.
func allowedTools(config map[string]any) ([]string, error) {
	raw, ok := config["allowed_tools"]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		tools := make([]string, 0, len(v))
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%w: allowed_tools entries must be strings", ErrInvalidConfig)
			}
			tools = append(tools, s)
		}
		return tools, nil
	default:
		return nil, fmt.Errorf("%w: allowed_tools must be a list when provided", ErrInvalidConfig)
	}
}

// mcpServerNames returns the declared MCP server names in sorted order so
// normalization output is stable across runs.
func mcpServerNames(config map[string]any) ([]string, error) {
	raw, ok := config["mcp_servers"]
	if !ok || raw == nil {
		return nil, nil
	}

	servers, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: mcp_servers must be an object", ErrInvalidConfig)
	}

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func appendMissing(tools []string, tool string) []string {
	for _, t := range tools {
		if t == tool {
			return tools
		}
	}
	return append(tools, tool)
}

// writeConfigFile pretty-prints the normalized config document to path.
func writeConfigFile(path string, config map[string]any) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create agent config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil { // #nosec G306 - mounted into the worker container
		return fmt.Errorf("failed to write agent config: %w", err)
	}
	return nil
}

// rewriteConfigFile atomically replaces the config document at path by
// writing a sibling temp file and renaming it over the original.
func rewriteConfigFile(path string, config map[string]any) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil { // #nosec G306 - mounted into the worker container
		return fmt.Errorf("failed to write agent config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace agent config: %w", err)
	}
	return nil
}

// readConfigFile loads the on-disk config document, used to snapshot prior
// state before a reload.
func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is derived from the managed state dir
	if err != nil {
		return nil, err
	}
	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return config, nil
}
