// Package agent implements the container manager: it spawns, starts, stops
// and destroys per-agent worker containers on a local container host, and
// tracks their identity and lifecycle state in an in-memory record store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/pkg/container/runtime"
	"github.com/agentdeck/agentdeck/pkg/labels"
	"github.com/agentdeck/agentdeck/pkg/logger"
)

// stopGracePeriod is how long a worker gets to shut down cleanly.
const stopGracePeriod = 10 * time.Second

// Manager owns the agent record store and drives the container host on its
// behalf. The in-memory lock is never held across host calls or disk writes.
type Manager struct {
	runtime  runtime.Runtime
	image    string
	stateDir string

	mu     sync.Mutex
	agents map[string]*Record
}

// NewManager creates a manager that launches workers from image and keeps
// per-agent config documents under stateDir.
func NewManager(rt runtime.Runtime, image, stateDir string) (*Manager, error) {
	if image == "" {
		image = DefaultWorkerImage
	}
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &Manager{
		runtime:  rt,
		image:    image,
		stateDir: stateDir,
		agents:   make(map[string]*Record),
	}, nil
}

// ConfigPath returns the host path of the agent's config document.
func (m *Manager) ConfigPath(agentID string) string {
	return filepath.Join(m.stateDir, agentID, configFileName)
}

// SpawnAgent normalizes the config, writes it to the agent's state dir,
// launches a worker container and records the result. sessionID, when
// non-empty, is handed to the worker via its environment.
func (m *Manager) SpawnAgent(
	ctx context.Context,
	apiKey string,
	config map[string]any,
	mcpEnv map[string]map[string]string,
	sessionID string,
) (*Record, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api_key is required", ErrInvalidConfig)
	}

	agentID := newAgentID()
	normalized, configID, err := NormalizeConfig(config, agentID)
	if err != nil {
		return nil, err
	}

	configPath := m.ConfigPath(agentID)
	if err := writeConfigFile(configPath, normalized); err != nil {
		return nil, err
	}

	env, err := buildEnv(agentID, apiKey, sessionID, mcpEnv)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Spawning agent %s with env keys %v", agentID, sortedEnvKeys(env))

	info, err := m.deployWorker(ctx, agentID, configID, containerName(agentID), volumeName(agentID), env)
	if err != nil {
		return nil, err
	}

	record := &Record{
		AgentID:       agentID,
		ConfigID:      configID,
		ContainerID:   info.ID,
		ContainerName: info.Name,
		VolumeName:    volumeName(agentID),
		Status:        runtime.NormalizeStatus(info.State),
		HostPort:      info.HostPortFor(workerPort),
		SessionID:     sessionID,
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	}

	m.mu.Lock()
	m.agents[agentID] = record
	m.mu.Unlock()

	logger.Infof("Spawned agent %s (container %s)", agentID, info.Name)
	return record.clone(), nil
}

func (m *Manager) deployWorker(
	ctx context.Context,
	agentID, configID, name, volume string,
	env map[string]string,
) (runtime.ContainerInfo, error) {
	return m.runtime.DeployWorkload(ctx, runtime.DeployOptions{
		Image:   m.image,
		Name:    name,
		EnvVars: env,
		Labels:  labels.Standard(agentID, configID),
		Mounts: []runtime.Mount{
			{Source: m.ConfigPath(agentID), Target: workerConfigPath, ReadOnly: true},
			{Source: volume, Target: "/workspace", Volume: true},
		},
		ExposedPort: workerPort,
	})
}

// ListAgents returns a snapshot of all agent records. With refresh set, each
// record's status and host port are re-read from the host first; record
// updates are committed under lock in one batch after the scan.
func (m *Manager) ListAgents(ctx context.Context, refresh bool) map[string]*Record {
	m.mu.Lock()
	snapshot := make(map[string]*Record, len(m.agents))
	for id, rec := range m.agents {
		snapshot[id] = rec.clone()
	}
	m.mu.Unlock()

	if !refresh || len(snapshot) == 0 {
		return snapshot
	}

	type update struct {
		status   string
		hostPort int
	}
	updates := make(map[string]update, len(snapshot))
	var updatesMu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	for id, rec := range snapshot {
		group.Go(func() error {
			u := update{status: runtime.StatusMissing, hostPort: rec.HostPort}
			info, err := m.runtime.InspectWorkload(ctx, rec.ContainerID)
			switch {
			case err == nil && (!labels.IsAgentDeckContainer(info.Labels) || labels.GetAgentID(info.Labels) != id):
				// The recorded container id now belongs to some other
				// container. Treat ours as gone.
				logger.Warnf("Container %s no longer belongs to agent %s", rec.ContainerID, id)
			case err == nil:
				u.status = runtime.NormalizeStatus(info.State)
				if u.status == runtime.StatusRunning {
					if port := info.HostPortFor(workerPort); port != 0 {
						u.hostPort = port
					}
				}
			case !errors.Is(err, runtime.ErrContainerNotFound):
				logger.Warnf("Failed to inspect container for agent %s: %v", id, err)
				return nil
			}
			updatesMu.Lock()
			updates[id] = u
			updatesMu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	m.mu.Lock()
	for id, u := range updates {
		rec, ok := m.agents[id]
		if !ok {
			continue
		}
		rec.Status = u.status
		rec.HostPort = u.hostPort
	}
	result := make(map[string]*Record, len(m.agents))
	for id, rec := range m.agents {
		result[id] = rec.clone()
	}
	m.mu.Unlock()
	return result
}

// GetAgent returns a copy of the agent's record.
func (m *Manager) GetAgent(agentID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return rec.clone(), nil
}

// RestoreAgents replaces the record store, used when reloading persisted
// state on boot.
func (m *Manager) RestoreAgents(records map[string]*Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = make(map[string]*Record, len(records))
	for id, rec := range records {
		m.agents[id] = rec.clone()
	}
}

// StartAgent starts the agent's container, recreating it when it disappeared
// from the host. Recreation requires apiKey and the on-disk config document,
// reuses the original container name and workspace volume, and reports
// recreated=true.
func (m *Manager) StartAgent(
	ctx context.Context,
	agentID, apiKey string,
	mcpEnv map[string]map[string]string,
	sessionID string,
) (*Record, bool, error) {
	m.mu.Lock()
	rec, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	snapshot := rec.clone()
	m.mu.Unlock()

	info, err := m.runtime.InspectWorkload(ctx, snapshot.ContainerID)
	if errors.Is(err, runtime.ErrContainerNotFound) {
		m.setStatus(agentID, runtime.StatusMissing)
		return m.recreateAgent(ctx, snapshot, apiKey, mcpEnv, sessionID)
	}
	if err != nil {
		return nil, false, err
	}

	if !info.IsRunning() {
		if err := m.runtime.StartWorkload(ctx, snapshot.ContainerID); err != nil {
			return nil, false, err
		}
		info, err = m.runtime.InspectWorkload(ctx, snapshot.ContainerID)
		if err != nil {
			return nil, false, err
		}
	}

	status := runtime.NormalizeStatus(info.State)
	hostPort := info.HostPortFor(workerPort)
	if hostPort == 0 {
		hostPort = snapshot.HostPort
	}

	m.mu.Lock()
	if rec, ok := m.agents[agentID]; ok {
		rec.Status = status
		rec.HostPort = hostPort
		snapshot = rec.clone()
	}
	m.mu.Unlock()
	return snapshot, false, nil
}

func (m *Manager) recreateAgent(
	ctx context.Context,
	rec *Record,
	apiKey string,
	mcpEnv map[string]map[string]string,
	sessionID string,
) (*Record, bool, error) {
	if apiKey == "" {
		return nil, false, ErrMissingContainer
	}
	if _, err := os.Stat(m.ConfigPath(rec.AgentID)); err != nil {
		return nil, false, ErrMissingConfig
	}

	effectiveSessionID := sessionID
	if effectiveSessionID == "" {
		effectiveSessionID = rec.SessionID
	}

	env, err := buildEnv(rec.AgentID, apiKey, effectiveSessionID, mcpEnv)
	if err != nil {
		return nil, false, err
	}

	name := rec.ContainerName
	if name == "" {
		name = containerName(rec.AgentID)
	}
	volume := rec.VolumeName
	if volume == "" {
		volume = volumeName(rec.AgentID)
	}

	info, err := m.deployWorker(ctx, rec.AgentID, rec.ConfigID, name, volume, env)
	if err != nil {
		return nil, false, err
	}
	logger.Infof("Recreated container for agent %s (container %s)", rec.AgentID, info.ID)

	status := runtime.NormalizeStatus(info.State)
	hostPort := info.HostPortFor(workerPort)

	m.mu.Lock()
	stored, ok := m.agents[rec.AgentID]
	if !ok {
		stored = rec
		m.agents[rec.AgentID] = stored
	}
	stored.ContainerID = info.ID
	stored.ContainerName = info.Name
	stored.Status = status
	stored.SessionID = effectiveSessionID
	if hostPort != 0 {
		stored.HostPort = hostPort
	}
	result := stored.clone()
	m.mu.Unlock()
	return result, true, nil
}

// StopAgent gracefully stops the agent's container. A container that already
// disappeared yields status missing rather than an error.
func (m *Manager) StopAgent(ctx context.Context, agentID string) (*Record, error) {
	m.mu.Lock()
	rec, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	containerID := rec.ContainerID
	m.mu.Unlock()

	status := runtime.StatusMissing
	err := m.runtime.StopWorkload(ctx, containerID, stopGracePeriod)
	switch {
	case err == nil:
		info, inspectErr := m.runtime.InspectWorkload(ctx, containerID)
		if inspectErr == nil {
			status = runtime.NormalizeStatus(info.State)
		} else if !errors.Is(inspectErr, runtime.ErrContainerNotFound) {
			return nil, inspectErr
		}
	case errors.Is(err, runtime.ErrContainerNotFound):
		// fallthrough to recording missing
	default:
		return nil, err
	}

	return m.setStatus(agentID, status), nil
}

// DeleteAgent tears down the agent: container, workspace volume, config
// document and record. Host-side NotFound is tolerated at every step.
func (m *Manager) DeleteAgent(ctx context.Context, agentID string) error {
	m.mu.Lock()
	rec, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	snapshot := rec.clone()
	m.mu.Unlock()

	if err := m.runtime.StopWorkload(ctx, snapshot.ContainerID, stopGracePeriod); err != nil &&
		!errors.Is(err, runtime.ErrContainerNotFound) {
		logger.Warnf("Failed to stop container for agent %s: %v", agentID, err)
	}
	if err := m.runtime.RemoveWorkload(ctx, snapshot.ContainerID); err != nil {
		logger.Warnf("Failed to remove container for agent %s: %v", agentID, err)
	}
	if snapshot.VolumeName != "" {
		if err := m.runtime.RemoveVolume(ctx, snapshot.VolumeName); err != nil {
			logger.Warnf("Failed to remove volume %s: %v", snapshot.VolumeName, err)
		}
	}

	configPath := m.ConfigPath(agentID)
	if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Failed to remove config for agent %s: %v", agentID, err)
	}
	// Best effort; the dir may hold other files.
	_ = os.Remove(filepath.Dir(configPath))

	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()

	logger.Infof("Deleted agent %s", agentID)
	return nil
}

// UpdateConfig normalizes newConfig and atomically replaces the agent's
// config document on disk. Container state is untouched; callers stop the
// worker first and start it afterwards.
func (m *Manager) UpdateConfig(agentID string, newConfig map[string]any) (*Record, error) {
	m.mu.Lock()
	_, ok := m.agents[agentID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	normalized, configID, err := NormalizeConfig(newConfig, agentID)
	if err != nil {
		return nil, err
	}
	if err := rewriteConfigFile(m.ConfigPath(agentID), normalized); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	rec.ConfigID = configID
	return rec.clone(), nil
}

// ReadConfig returns the agent's current on-disk config document, used to
// snapshot it before a reload.
func (m *Manager) ReadConfig(agentID string) (map[string]any, error) {
	m.mu.Lock()
	_, ok := m.agents[agentID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return readConfigFile(m.ConfigPath(agentID))
}

// RestoreConfig writes a previously snapshotted config document back to
// disk verbatim, used to roll back a failed reload.
func (m *Manager) RestoreConfig(agentID string, config map[string]any) error {
	return rewriteConfigFile(m.ConfigPath(agentID), config)
}

// Endpoint returns the host-side base URL for the agent's worker, or the
// empty string when the worker is not running or its port is unknown. A
// non-running record is refreshed once; a running record with no known port
// gets one re-resolution.
func (m *Manager) Endpoint(ctx context.Context, agentID string) string {
	m.mu.Lock()
	rec, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return ""
	}
	snapshot := rec.clone()
	m.mu.Unlock()

	if snapshot.Status != runtime.StatusRunning {
		status := runtime.StatusMissing
		info, err := m.runtime.InspectWorkload(ctx, snapshot.ContainerID)
		if err == nil {
			status = runtime.NormalizeStatus(info.State)
		} else if !errors.Is(err, runtime.ErrContainerNotFound) {
			logger.Warnf("Failed to inspect container for agent %s: %v", agentID, err)
			return ""
		}
		snapshot = m.setStatus(agentID, status)
		if snapshot == nil || snapshot.Status != runtime.StatusRunning {
			return ""
		}
	}

	if snapshot.HostPort == 0 {
		info, err := m.runtime.InspectWorkload(ctx, snapshot.ContainerID)
		if err != nil {
			return ""
		}
		port := info.HostPortFor(workerPort)
		if port == 0 {
			return ""
		}
		m.mu.Lock()
		if rec, ok := m.agents[agentID]; ok {
			rec.HostPort = port
		}
		m.mu.Unlock()
		snapshot.HostPort = port
	}

	return snapshot.Endpoint()
}

// Logs streams the agent container's log output.
func (m *Manager) Logs(ctx context.Context, agentID string, follow bool) (io.ReadCloser, error) {
	m.mu.Lock()
	rec, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	containerID := rec.ContainerID
	m.mu.Unlock()
	return m.runtime.WorkloadLogs(ctx, containerID, follow)
}

// setStatus records a new status for the agent and returns the updated
// record, or nil when the agent was removed concurrently.
func (m *Manager) setStatus(agentID, status string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[agentID]
	if !ok {
		return nil
	}
	rec.Status = status
	return rec.clone()
}
