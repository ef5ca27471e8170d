// Package docker provides the Docker-specific implementation of the container
// runtime interface, including creating, starting, stopping, and monitoring
// worker containers.
package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/agentdeck/agentdeck/pkg/container/runtime"
	"github.com/agentdeck/agentdeck/pkg/logger"
)

// Common socket paths
const (
	// DockerSocketPath is the default Docker socket path
	DockerSocketPath = "/var/run/docker.sock"
	// DockerDesktopMacSocketPath is the Docker Desktop socket path on macOS
	DockerDesktopMacSocketPath = ".docker/run/docker.sock"
	// PodmanSocketPath is the default Podman socket path
	PodmanSocketPath = "/var/run/podman/podman.sock"
	// PodmanXDGRuntimeSocketPath is the XDG runtime Podman socket path
	PodmanXDGRuntimeSocketPath = "podman/podman.sock"
)

// DockerSocketEnv is the environment variable for a custom socket path.
const DockerSocketEnv = "AGENTDECK_DOCKER_SOCKET"

// Client implements the runtime.Runtime interface for container operations.
type Client struct {
	socketPath string
	client     *client.Client
}

// NewClient creates a new container client, discovering the container socket
// from the environment or the standard Docker/Podman locations.
func NewClient(ctx context.Context) (*Client, error) {
	socketPath, err := findContainerSocket()
	if err != nil {
		return nil, err
	}
	return NewClientWithSocketPath(ctx, socketPath)
}

// NewClientWithSocketPath creates a new container client with a specific
// socket path.
func NewClientWithSocketPath(ctx context.Context, socketPath string) (*Client, error) {
	// Create a custom HTTP client that uses the Unix socket
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}

	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
		client.WithHost("unix://" + socketPath),
	}

	dockerClient, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, runtime.NewContainerError(err, "", fmt.Sprintf("failed to create client: %v", err))
	}

	c := &Client{
		socketPath: socketPath,
		client:     dockerClient,
	}

	// Verify that the container runtime is available
	if _, err := c.client.Ping(ctx); err != nil {
		return nil, runtime.NewContainerError(runtime.ErrRuntimeNotFound, "",
			fmt.Sprintf("failed to ping container runtime: %v", err))
	}
	logger.Debugf("Connected to container runtime at %s", socketPath)

	return c, nil
}

// findContainerSocket finds a container socket path, preferring Docker over
// Podman.
func findContainerSocket() (string, error) {
	if custom := os.Getenv(DockerSocketEnv); custom != "" {
		if _, err := os.Stat(custom); err != nil {
			return "", fmt.Errorf("invalid container socket path: %w", err)
		}
		return custom, nil
	}

	candidates := []string{DockerSocketPath, PodmanSocketPath}
	if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, DockerDesktopMacSocketPath))
	}
	if xdgRuntimeDir := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntimeDir != "" {
		candidates = append(candidates,
			filepath.Join(xdgRuntimeDir, "docker.sock"),
			filepath.Join(xdgRuntimeDir, PodmanXDGRuntimeSocketPath),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			logger.Debugf("Found container socket at %s", path)
			return path, nil
		}
	}

	return "", runtime.ErrRuntimeNotFound
}

// convertEnvVars converts a map of environment variables to a slice
func convertEnvVars(envVars map[string]string) []string {
	env := make([]string, 0, len(envVars))
	for k, v := range envVars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// convertMounts converts internal mount format to Docker mount format
func convertMounts(mounts []runtime.Mount) []mount.Mount {
	result := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		mountType := mount.TypeBind
		if m.Volume {
			mountType = mount.TypeVolume
		}
		result = append(result, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return result
}

// DeployWorkload creates and starts a detached worker container and returns
// its post-start info, including the ephemeral host port assignment.
func (c *Client) DeployWorkload(ctx context.Context, opts runtime.DeployOptions) (runtime.ContainerInfo, error) {
	config := &container.Config{
		Image:  opts.Image,
		Env:    convertEnvVars(opts.EnvVars),
		Labels: opts.Labels,
		Tty:    false,
	}

	hostConfig := &container.HostConfig{
		Mounts: convertMounts(opts.Mounts),
	}

	if opts.ExposedPort > 0 {
		natPort, err := nat.NewPort("tcp", fmt.Sprintf("%d", opts.ExposedPort))
		if err != nil {
			return runtime.ContainerInfo{}, runtime.NewContainerError(err, "", fmt.Sprintf("failed to parse port: %v", err))
		}
		config.ExposedPorts = nat.PortSet{natPort: struct{}{}}
		// An empty HostPort asks the host for an ephemeral port.
		hostConfig.PortBindings = nat.PortMap{natPort: {nat.PortBinding{}}}
	}

	resp, err := c.client.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, opts.Name)
	if err != nil {
		return runtime.ContainerInfo{}, runtime.NewContainerError(err, "", fmt.Sprintf("failed to create container: %v", err))
	}

	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return runtime.ContainerInfo{}, runtime.NewContainerError(err, resp.ID, fmt.Sprintf("failed to start container: %v", err))
	}

	// Reload metadata so the caller sees the resolved port bindings.
	return c.InspectWorkload(ctx, resp.ID)
}

// InspectWorkload gets current workload information.
func (c *Client) InspectWorkload(ctx context.Context, containerID string) (runtime.ContainerInfo, error) {
	info, err := c.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return runtime.ContainerInfo{}, runtime.NewContainerError(runtime.ErrContainerNotFound, containerID, "workload not found")
		}
		return runtime.ContainerInfo{}, runtime.NewContainerError(err, containerID, fmt.Sprintf("failed to inspect workload: %v", err))
	}

	ports := make([]runtime.PortMapping, 0)
	if info.NetworkSettings != nil {
		for containerPort, bindings := range info.NetworkSettings.Ports {
			for _, binding := range bindings {
				hostPort := 0
				if _, err := fmt.Sscanf(binding.HostPort, "%d", &hostPort); err != nil {
					logger.Warnf("Failed to parse host port %q for %s: %v", binding.HostPort, containerID, err)
					continue
				}
				ports = append(ports, runtime.PortMapping{
					ContainerPort: containerPort.Int(),
					HostPort:      hostPort,
					Protocol:      containerPort.Proto(),
				})
			}
		}
	}

	created, err := time.Parse(time.RFC3339Nano, info.Created)
	if err != nil {
		created = time.Time{}
	}

	return runtime.ContainerInfo{
		ID:      info.ID,
		Name:    strings.TrimPrefix(info.Name, "/"),
		Image:   info.Config.Image,
		State:   info.State.Status,
		Created: created,
		Labels:  info.Config.Labels,
		Ports:   ports,
	}, nil
}

// StartWorkload starts an existing stopped container.
func (c *Client) StartWorkload(ctx context.Context, containerID string) error {
	if err := c.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return runtime.NewContainerError(runtime.ErrContainerNotFound, containerID, "workload not found")
		}
		return runtime.NewContainerError(err, containerID, fmt.Sprintf("failed to start workload: %v", err))
	}
	return nil
}

// StopWorkload stops a workload with the given grace period.
// If the workload is already stopped or gone, it returns success.
func (c *Client) StopWorkload(ctx context.Context, containerID string, grace time.Duration) error {
	graceSeconds := int(grace.Seconds())
	err := c.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &graceSeconds})
	if err != nil {
		if client.IsErrNotFound(err) {
			return runtime.NewContainerError(runtime.ErrContainerNotFound, containerID, "workload not found")
		}
		return runtime.NewContainerError(err, containerID, fmt.Sprintf("failed to stop workload: %v", err))
	}
	return nil
}

// RemoveWorkload force-removes a workload.
// If the workload doesn't exist, it returns success.
func (c *Client) RemoveWorkload(ctx context.Context, containerID string) error {
	err := c.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return runtime.NewContainerError(err, containerID, fmt.Sprintf("failed to remove workload: %v", err))
	}
	return nil
}

// RemoveVolume force-removes a named volume.
// If the volume doesn't exist, it returns success.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	err := c.client.VolumeRemove(ctx, name, true)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return runtime.NewContainerError(err, "", fmt.Sprintf("failed to remove volume %s: %v", name, err))
	}
	return nil
}

// WorkloadLogs returns a demultiplexed stream of log output for a workload.
// Worker containers run without a TTY, so stdout and stderr arrive on the
// multiplexed stream and are merged here.
func (c *Client) WorkloadLogs(ctx context.Context, containerID string, follow bool) (io.ReadCloser, error) {
	raw, err := c.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       "0",
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, runtime.NewContainerError(runtime.ErrContainerNotFound, containerID, "workload not found")
		}
		return nil, runtime.NewContainerError(err, containerID, fmt.Sprintf("failed to get workload logs: %v", err))
	}

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(copyErr)
	}()

	return &logStream{pr: pr, raw: raw}, nil
}

// logStream ties the demux pipe and the underlying docker stream together so
// closing the returned reader unblocks the demux goroutine.
type logStream struct {
	pr  *io.PipeReader
	raw io.ReadCloser
}

func (l *logStream) Read(p []byte) (int, error) {
	return l.pr.Read(p)
}

func (l *logStream) Close() error {
	l.raw.Close()
	return l.pr.Close()
}
