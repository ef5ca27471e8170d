// Package runtime defines the interface between the control plane and a local
// container host (Docker or Podman), along with the types exchanged across it.
package runtime

import (
	"context"
	"io"
	"time"
)

//go:generate mockgen -destination=mocks/mock_runtime.go -package=mocks -source=types.go Runtime

// Runtime abstracts the container host operations needed by the control
// plane. All calls are blocking; callers must not hold in-memory locks
// across them.
type Runtime interface {
	// DeployWorkload creates and starts a detached container and returns
	// its post-start info (including resolved host port bindings).
	DeployWorkload(ctx context.Context, opts DeployOptions) (ContainerInfo, error)

	// InspectWorkload returns current info for a container.
	// Returns an error wrapping ErrContainerNotFound if the container is gone.
	InspectWorkload(ctx context.Context, containerID string) (ContainerInfo, error)

	// StartWorkload starts an existing stopped container.
	StartWorkload(ctx context.Context, containerID string) error

	// StopWorkload stops a container, allowing it the given grace period.
	// Stopping an already-stopped container is not an error.
	StopWorkload(ctx context.Context, containerID string, grace time.Duration) error

	// RemoveWorkload force-removes a container. Removing a container that
	// does not exist is not an error.
	RemoveWorkload(ctx context.Context, containerID string) error

	// RemoveVolume force-removes a named volume. Removing a volume that
	// does not exist is not an error.
	RemoveVolume(ctx context.Context, name string) error

	// WorkloadLogs returns a stream of log lines for a container. When
	// follow is true the stream stays open until closed by the caller.
	WorkloadLogs(ctx context.Context, containerID string, follow bool) (io.ReadCloser, error)
}

// Mount is an internal representation of a container mount.
type Mount struct {
	// Source is the host path (bind mount) or volume name (volume mount).
	Source string
	// Target is the path inside the container.
	Target string
	// ReadOnly mounts the target read-only when true.
	ReadOnly bool
	// Volume selects a named-volume mount instead of a bind mount.
	Volume bool
}

// DeployOptions describes a container to create and start.
type DeployOptions struct {
	Image   string
	Name    string
	EnvVars map[string]string
	Labels  map[string]string
	Mounts  []Mount

	// ExposedPort is a container TCP port published to an ephemeral host
	// port. Zero means no port is published.
	ExposedPort int
}

// PortMapping describes a published container port.
type PortMapping struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"`
}

// ContainerInfo holds the subset of container metadata the control plane
// tracks.
type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	State   string
	Created time.Time
	Labels  map[string]string
	Ports   []PortMapping
}

// IsRunning reports whether the container is in the running state.
func (c *ContainerInfo) IsRunning() bool {
	return c.State == StatusRunning
}

// HostPortFor returns the host-side binding for the given container TCP
// port, or zero if the port is not published.
func (c *ContainerInfo) HostPortFor(containerPort int) int {
	for _, p := range c.Ports {
		if p.ContainerPort == containerPort {
			return p.HostPort
		}
	}
	return 0
}

// Workload status values tracked by the control plane. Anything else
// reported by the host passes through unchanged.
const (
	// StatusRunning indicates the container is running.
	StatusRunning = "running"
	// StatusStopped indicates the container exists but is not running.
	StatusStopped = "stopped"
	// StatusMissing indicates the container disappeared from the host.
	StatusMissing = "missing"
	// StatusCreated indicates the container was created but never started.
	StatusCreated = "created"
)

// NormalizeStatus maps raw host container states onto the states tracked by
// the control plane: exited, created and dead all collapse to stopped.
func NormalizeStatus(raw string) string {
	switch raw {
	case "exited", StatusCreated, "dead":
		return StatusStopped
	default:
		return raw
	}
}
