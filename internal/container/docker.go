// Package container provides Docker container management for sqlquest
// sandboxes and agent-based analysis.
package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/swamp-dev/sqlquest/internal/config"
)

// Manager handles Docker container lifecycle.
type Manager struct {
	client *client.Client
}

// NewManager creates a new Docker container manager.
func NewManager() (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &Manager{client: cli}, nil
}

// Close releases the Docker client resources.
func (m *Manager) Close() error {
	return m.client.Close()
}

// ContainerConfig holds all settings for creating a container.
type ContainerConfig struct {
	Name    string
	Image   string
	Env     []string
	Cmd     []string
	Network string
	Memory  int64
	CPUs    float64

	// MountPath is bound read-only at /workspace when set.
	MountPath string

	// Ports are published on 127.0.0.1 with a random host port.
	Ports []string
}

// ImageName returns the full Docker image name for a short alias.
func ImageName(imageType string) string {
	switch imageType {
	case "postgres":
		return "postgres:16-alpine"
	case "agent", "full":
		return "agentbox/full:latest"
	default:
		return imageType
	}
}

// Create builds and starts a new container with the given configuration.
func (m *Manager) Create(ctx context.Context, cfg *ContainerConfig) (string, error) {
	var mounts []mount.Mount
	if cfg.MountPath != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   cfg.MountPath,
			Target:   "/workspace",
			ReadOnly: true,
		})
	}

	exposed, bindings, err := publishLocal(cfg.Ports)
	if err != nil {
		return "", err
	}

	containerCfg := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		ExposedPorts: exposed,
	}
	if cfg.MountPath != "" {
		containerCfg.WorkingDir = "/workspace"
	}

	hostCfg := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:   cfg.Memory,
			NanoCPUs: int64(cfg.CPUs * 1e9),
		},
	}

	networkCfg := &network.NetworkingConfig{}
	if cfg.Network == "none" {
		hostCfg.NetworkMode = "none"
	} else if cfg.Network == "host" {
		hostCfg.NetworkMode = "host"
	}

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.Remove(context.Background(), resp.ID)
		return "", fmt.Errorf("starting container: %w", err)
	}

	return resp.ID, nil
}

func publishLocal(ports []string) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port, err := nat.NewPort("tcp", p)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}
	}
	return exposed, bindings, nil
}

// Run creates a container, runs the command, and returns the output.
func (m *Manager) Run(ctx context.Context, cfg *ContainerConfig) (string, error) {
	containerID, err := m.Create(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer func() { _ = m.Remove(context.Background(), containerID) }()

	return m.Wait(ctx, containerID)
}

// Wait blocks until the container exits and returns its output.
func (m *Manager) Wait(ctx context.Context, containerID string) (string, error) {
	statusCh, errCh := m.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("waiting for container: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			logs, _ := m.Logs(ctx, containerID)
			return logs, fmt.Errorf("container exited with code %d", status.StatusCode)
		}
	}

	return m.Logs(ctx, containerID)
}

// Logs retrieves the container's stdout and stderr.
func (m *Manager) Logs(ctx context.Context, containerID string) (string, error) {
	out, err := m.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("getting container logs: %w", err)
	}
	defer out.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, out); err != nil {
		return "", fmt.Errorf("reading container logs: %w", err)
	}

	return stdout.String() + stderr.String(), nil
}

// Stop gracefully stops a running container.
func (m *Manager) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	return m.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
}

// Remove deletes a container.
func (m *Manager) Remove(ctx context.Context, containerID string) error {
	return m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// Pull downloads ref, streaming progress to w.
func (m *Manager) Pull(ctx context.Context, ref string, w io.Writer) error {
	reader, err := m.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}
	defer reader.Close()

	if _, err := io.Copy(w, reader); err != nil {
		return fmt.Errorf("reading pull progress for %s: %w", ref, err)
	}
	return nil
}

// HasImage reports whether ref is present locally.
func (m *Manager) HasImage(ctx context.Context, ref string) (bool, error) {
	images, err := m.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("listing images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == ref {
				return true, nil
			}
		}
	}
	return false, nil
}

// Database is a running throwaway database container.
type Database struct {
	ID  string
	DSN string
}

// DatabaseConfig describes a Postgres sandbox container.
type DatabaseConfig struct {
	Image  string
	Memory int64
	CPUs   float64
}

const (
	postgresPort     = "5432"
	postgresDatabase = "sqlquest"
)

// StartDatabase runs a Postgres container published on a random local port
// and returns a DSN for it. The server may still be starting when this
// returns; callers are expected to ping until it accepts connections.
func (m *Manager) StartDatabase(ctx context.Context, cfg DatabaseConfig) (*Database, error) {
	password := strings.ReplaceAll(uuid.NewString(), "-", "")
	name := "sqlquest-sandbox-" + uuid.NewString()[:8]

	id, err := m.Create(ctx, &ContainerConfig{
		Name:  name,
		Image: ImageName(cfg.Image),
		Env: []string{
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + postgresDatabase,
		},
		Memory: cfg.Memory,
		CPUs:   cfg.CPUs,
		Ports:  []string{postgresPort},
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres sandbox: %w", err)
	}

	hostPort, err := m.hostPort(ctx, id, postgresPort)
	if err != nil {
		_ = m.Remove(context.Background(), id)
		return nil, err
	}

	return &Database{
		ID:  id,
		DSN: PostgresDSN(password, hostPort),
	}, nil
}

func (m *Manager) hostPort(ctx context.Context, id, port string) (string, error) {
	key := nat.Port(port + "/tcp")
	deadline := time.Now().Add(10 * time.Second)
	for {
		info, err := m.client.ContainerInspect(ctx, id)
		if err != nil {
			return "", fmt.Errorf("inspecting container: %w", err)
		}
		if info.NetworkSettings != nil {
			if b := info.NetworkSettings.Ports[key]; len(b) > 0 && b[0].HostPort != "" {
				return b[0].HostPort, nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("container %s never published port %s", id[:12], port)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// PostgresDSN builds the lib/pq URL for a sandbox on localhost.
func PostgresDSN(password, hostPort string) string {
	return fmt.Sprintf("postgres://postgres:%s@127.0.0.1:%s/%s?sslmode=disable", password, hostPort, postgresDatabase)
}

// ParseMemory converts a memory string (e.g., "4g") to bytes.
func ParseMemory(mem string) (int64, error) {
	mem = strings.ToLower(strings.TrimSpace(mem))
	if mem == "" {
		return 0, nil
	}

	var multiplier int64 = 1
	if strings.HasSuffix(mem, "g") {
		multiplier = 1024 * 1024 * 1024
		mem = strings.TrimSuffix(mem, "g")
	} else if strings.HasSuffix(mem, "m") {
		multiplier = 1024 * 1024
		mem = strings.TrimSuffix(mem, "m")
	} else if strings.HasSuffix(mem, "k") {
		multiplier = 1024
		mem = strings.TrimSuffix(mem, "k")
	}

	var value int64
	if _, err := fmt.Sscanf(mem, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid memory value: %s", mem)
	}

	return value * multiplier, nil
}

// ParseCPUs converts a CPU string to a float.
func ParseCPUs(cpus string) (float64, error) {
	cpus = strings.TrimSpace(cpus)
	if cpus == "" {
		return 0, nil
	}

	var value float64
	if _, err := fmt.Sscanf(cpus, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid CPU value: %s", cpus)
	}

	return value, nil
}

// dangerousPaths are system directories that should never be mounted.
var dangerousPaths = []string{
	"/etc", "/root", "/sys", "/proc", "/dev", "/boot",
	"/var/run", "/var/log", "/usr", "/bin", "/sbin", "/lib",
}

// ValidateMountPath checks that the path is safe to mount.
func ValidateMountPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving mount path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("mount path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount path is not a directory: %s", absPath)
	}

	for _, dangerous := range dangerousPaths {
		if absPath == dangerous || strings.HasPrefix(absPath, dangerous+"/") {
			return fmt.Errorf("refusing to mount system directory: %s", absPath)
		}
	}

	return nil
}

// DatabaseConfigFromConfig converts sandbox settings to a DatabaseConfig.
func DatabaseConfigFromConfig(cfg *config.Config) (DatabaseConfig, error) {
	memory, err := ParseMemory(cfg.Sandbox.Resources.Memory)
	if err != nil {
		return DatabaseConfig{}, err
	}
	cpus, err := ParseCPUs(cfg.Sandbox.Resources.CPUs)
	if err != nil {
		return DatabaseConfig{}, err
	}
	return DatabaseConfig{Image: cfg.Sandbox.Image, Memory: memory, CPUs: cpus}, nil
}

// AgentContainerConfig builds the container that runs an analysis agent.
// mountPath may be empty.
func AgentContainerConfig(cfg *config.Config, mountPath string, cmd, env []string) (*ContainerConfig, error) {
	memory, err := ParseMemory(cfg.Sandbox.Resources.Memory)
	if err != nil {
		return nil, err
	}

	cpus, err := ParseCPUs(cfg.Sandbox.Resources.CPUs)
	if err != nil {
		return nil, err
	}

	var absPath string
	if mountPath != "" {
		if err := ValidateMountPath(mountPath); err != nil {
			return nil, err
		}
		if absPath, err = filepath.Abs(mountPath); err != nil {
			return nil, fmt.Errorf("resolving mount path: %w", err)
		}
	}

	return &ContainerConfig{
		Name:      fmt.Sprintf("sqlquest-analysis-%s", uuid.NewString()[:8]),
		Image:     ImageName(cfg.Analysis.AgentImage),
		Env:       env,
		Cmd:       cmd,
		Network:   cfg.Analysis.Network,
		Memory:    memory,
		CPUs:      cpus,
		MountPath: absPath,
	}, nil
}
