// Package config resolves the control plane's runtime settings from the
// environment.
package config

import (
	"github.com/spf13/viper"

	"github.com/agentdeck/agentdeck/pkg/state"
)

// Config holds the server's tunable settings. Every field maps to an
// AGENTDECK_* environment variable.
type Config struct {
	// StateDir holds per-agent config documents and the registry snapshot.
	StateDir string
	// WorkerImage is the container image run for each agent.
	WorkerImage string
	// SessionIdleMinutes is the idle timeout after which the sweeper stops
	// a session. Zero disables sweeping.
	SessionIdleMinutes int
	// SessionSweepSeconds is the sweep cadence, floored at ten seconds.
	SessionSweepSeconds int
	// DockerSocket overrides container socket discovery when set.
	DockerSocket string
}

// Load reads settings from AGENTDECK_* environment variables, applying
// defaults for anything unset.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("AGENTDECK")
	v.AutomaticEnv()

	v.SetDefault("state_dir", state.DefaultStateDir())
	v.SetDefault("worker_image", "agent-deck-worker:latest")
	v.SetDefault("session_idle_minutes", 60)
	v.SetDefault("session_sweep_seconds", 60)
	v.SetDefault("docker_socket", "")

	return &Config{
		StateDir:            v.GetString("state_dir"),
		WorkerImage:         v.GetString("worker_image"),
		SessionIdleMinutes:  v.GetInt("session_idle_minutes"),
		SessionSweepSeconds: v.GetInt("session_sweep_seconds"),
		DockerSocket:        v.GetString("docker_socket"),
	}
}
