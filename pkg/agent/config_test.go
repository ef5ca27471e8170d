package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		config         map[string]any
		expectErr      error
		expectConfigID string
		expectTools    []string
	}{
		{
			name:           "empty config gets defaults",
			config:         map[string]any{},
			expectConfigID: "agent-aaaaaaaaaaaa",
		},
		{
			name:           "explicit id preserved",
			config:         map[string]any{"id": "demo"},
			expectConfigID: "demo",
		},
		{
			name: "mcp servers add base tools and wildcards",
			config: map[string]any{
				"mcp_servers": map[string]any{
					"github": map[string]any{},
					"fetch":  map[string]any{},
				},
			},
			expectConfigID: "agent-aaaaaaaaaaaa",
			expectTools: []string{
				"ListMcpResources", "ReadMcpResource",
				"mcp__fetch__*", "mcp__github__*",
			},
		},
		{
			name: "existing tools are kept and not duplicated",
			config: map[string]any{
				"allowed_tools": []any{"Bash", "ListMcpResources", "mcp__github__*"},
				"mcp_servers":   map[string]any{"github": map[string]any{}},
			},
			expectConfigID: "agent-aaaaaaaaaaaa",
			expectTools: []string{
				"Bash", "ListMcpResources", "mcp__github__*", "ReadMcpResource",
			},
		},
		{
			name:      "allowed_tools not a list",
			config:    map[string]any{"allowed_tools": "not-a-list"},
			expectErr: ErrInvalidConfig,
		},
		{
			name:      "allowed_tools with non-string entry",
			config:    map[string]any{"allowed_tools": []any{"Bash", 42}},
			expectErr: ErrInvalidConfig,
		},
		{
			name:      "mcp_servers not an object",
			config:    map[string]any{"mcp_servers": []any{"github"}},
			expectErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			normalized, configID, err := NormalizeConfig(tt.config, "agent-aaaaaaaaaaaa")
			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectConfigID, configID)
			assert.Equal(t, tt.expectConfigID, normalized["id"])
			assert.Equal(t, "bypassPermissions", normalized["permission_mode"])

			if tt.expectTools == nil {
				assert.NotContains(t, normalized, "allowed_tools")
			} else {
				assert.Equal(t, tt.expectTools, normalized["allowed_tools"])
			}
		})
	}
}

func TestNormalizeConfigDefaults(t *testing.T) {
	t.Parallel()

	normalized, _, err := NormalizeConfig(map[string]any{}, "agent-cafecafecafe")
	require.NoError(t, err)
	assert.Equal(t, "Agent agent-cafecafecafe", normalized["name"])

	// Caller-provided values win over the defaults.
	normalized, _, err = NormalizeConfig(map[string]any{
		"name":            "Custom",
		"permission_mode": "acceptEdits",
	}, "agent-cafecafecafe")
	require.NoError(t, err)
	assert.Equal(t, "Custom", normalized["name"])
	assert.Equal(t, "acceptEdits", normalized["permission_mode"])
}

func TestNormalizeConfigIdempotent(t *testing.T) {
	t.Parallel()

	config := map[string]any{
		"allowed_tools": []any{"Bash"},
		"mcp_servers": map[string]any{
			"github": map[string]any{},
			"fetch":  map[string]any{},
		},
	}

	once, _, err := NormalizeConfig(config, "agent-aaaaaaaaaaaa")
	require.NoError(t, err)
	twice, _, err := NormalizeConfig(once, "agent-aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizeConfigDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	config := map[string]any{"mcp_servers": map[string]any{"github": map[string]any{}}}
	_, _, err := NormalizeConfig(config, "agent-aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.NotContains(t, config, "allowed_tools")
	assert.NotContains(t, config, "id")
}

func TestBuildEnv(t *testing.T) {
	env, err := buildEnv("agent-aaaaaaaaaaaa", "sk-test", "session-1", map[string]map[string]string{
		"github": {"GITHUB_TOKEN": "ghp_x"},
		"jira":   {"JIRA_TOKEN": "jt_y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-aaaaaaaaaaaa", env["AGENT_ID"])
	assert.Equal(t, "sk-test", env["ANTHROPIC_API_KEY"])
	assert.Equal(t, "session-1", env["SESSION_ID"])
	assert.Equal(t, "/config/agent-config.json", env["CONFIG_PATH"])
	assert.Equal(t, "ghp_x", env["GITHUB_TOKEN"])
	assert.Equal(t, "jt_y", env["JIRA_TOKEN"])
}

func TestBuildEnvServerOrderDeterministic(t *testing.T) {
	// Two servers set the same key; the later sorted name wins.
	env, err := buildEnv("agent-aaaaaaaaaaaa", "sk-test", "", map[string]map[string]string{
		"beta":  {"SHARED_TOKEN": "from-beta"},
		"alpha": {"SHARED_TOKEN": "from-alpha"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-beta", env["SHARED_TOKEN"])
}

func TestBuildEnvOmitsEmptySessionID(t *testing.T) {
	env, err := buildEnv("agent-aaaaaaaaaaaa", "sk-test", "", nil)
	require.NoError(t, err)
	assert.NotContains(t, env, "SESSION_ID")
}

func TestBuildEnvRejectsReservedKeys(t *testing.T) {
	for key := range reservedEnvKeys {
		_, err := buildEnv("agent-aaaaaaaaaaaa", "sk-test", "session-1", map[string]map[string]string{
			"github": {key: "injected"},
		})
		assert.ErrorIs(t, err, ErrReservedEnvKey, "key %s", key)
	}
}

func TestBuildEnvPassthrough(t *testing.T) {
	t.Setenv("ANTHROPIC_BASE_URL", "https://proxy.example.com")
	t.Setenv("ANTHROPIC_MODEL", "")

	env, err := buildEnv("agent-aaaaaaaaaaaa", "sk-test", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.example.com", env["ANTHROPIC_BASE_URL"])
	assert.NotContains(t, env, "ANTHROPIC_MODEL")

	// Caller-supplied MCP env shadows passthrough.
	env, err = buildEnv("agent-aaaaaaaaaaaa", "sk-test", "", map[string]map[string]string{
		"github": {"ANTHROPIC_BASE_URL": "https://other.example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com", env["ANTHROPIC_BASE_URL"])
}
