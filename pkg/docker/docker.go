// Package docker manages the containers regressoor deploys when running the
// test surface against an isolated revision.
package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
)

const (
	// ManagedByLabel marks every resource regressoor creates so cleanup
	// can find leftovers.
	ManagedByLabel = "regressoor.managed-by"

	// ManagedByValue is the value attached to ManagedByLabel.
	ManagedByValue = "regressoor"

	// RunLabel carries the run id a resource belongs to.
	RunLabel = "regressoor.run-id"

	// ServiceLabel carries the service name a container deploys.
	ServiceLabel = "regressoor.service"
)

// Manager handles container operations for isolated deployments.
type Manager interface {
	Start(ctx context.Context) error
	Stop() error

	// Network operations.
	EnsureNetwork(ctx context.Context, name string) error
	RemoveNetwork(ctx context.Context, name string) error

	// Container operations.
	CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error

	// Log streaming.
	StreamLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error

	// Image operations.
	PullImage(ctx context.Context, imageName string, policy string) error

	// Cleanup operations.
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
}

// ContainerSpec defines a service container.
type ContainerSpec struct {
	Name        string
	Image       string
	Entrypoint  []string
	Command     []string
	Env         map[string]string
	Mounts      []Mount
	NetworkName string
	// Ports publishes container ports to the host as "host:container"
	// pairs so health probes and the test surface can reach the service.
	Ports       []string
	Labels      map[string]string
	MemoryBytes int64
}

// Mount defines a bind mount into a service container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerInfo describes a managed container, for cleanup listings.
type ContainerInfo struct {
	ID     string
	Name   string
	Labels map[string]string
}

// ManagedLabels returns the label set attached to every resource of a run.
func ManagedLabels(runID string) map[string]string {
	return map[string]string{
		ManagedByLabel: ManagedByValue,
		RunLabel:       runID,
	}
}

// NewManager creates a new Docker manager.
func NewManager(log logrus.FieldLogger) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &manager{
		log:    log.WithField("component", "docker"),
		client: cli,
		done:   make(chan struct{}),
	}, nil
}

type manager struct {
	log    logrus.FieldLogger
	client *client.Client
	done   chan struct{}
	wg     sync.WaitGroup
}

// Ensure interface compliance.
var _ Manager = (*manager)(nil)

// Start initializes the Docker manager.
func (m *manager) Start(ctx context.Context) error {
	_, err := m.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("connecting to docker daemon: %w", err)
	}

	m.log.Debug("Connected to Docker daemon")

	return nil
}

// Stop cleans up the Docker manager.
func (m *manager) Stop() error {
	close(m.done)
	m.wg.Wait()

	if err := m.client.Close(); err != nil {
		return fmt.Errorf("closing docker client: %w", err)
	}

	return nil
}

// EnsureNetwork creates a Docker network if it doesn't exist.
func (m *manager) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := m.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}

	for _, net := range networks {
		if net.Name == name {
			m.log.WithField("network", name).Debug("Network already exists")

			return nil
		}
	}

	_, err = m.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return fmt.Errorf("creating network %s: %w", name, err)
	}

	m.log.WithField("network", name).Info("Created Docker network")

	return nil
}

// RemoveNetwork removes a Docker network.
func (m *manager) RemoveNetwork(ctx context.Context, name string) error {
	if err := m.client.NetworkRemove(ctx, name); err != nil {
		return fmt.Errorf("removing network %s: %w", name, err)
	}

	m.log.WithField("network", name).Info("Removed Docker network")

	return nil
}

// CreateContainer creates a new container from the spec.
func (m *manager) CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error) {
	log := m.log.WithField("container", spec.Name)

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	exposed, bindings, err := portBindings(spec.Ports)
	if err != nil {
		return "", err
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       spec.Labels,
		Entrypoint:   spec.Entrypoint,
		Cmd:          spec.Command,
		ExposedPorts: exposed,
	}

	hostCfg := &container.HostConfig{
		NetworkMode:  container.NetworkMode(spec.NetworkName),
		PortBindings: bindings,
	}

	for _, mnt := range spec.Mounts {
		bind := fmt.Sprintf("%s:%s", mnt.Source, mnt.Target)
		if mnt.ReadOnly {
			bind += ":ro"
		}

		hostCfg.Binds = append(hostCfg.Binds, bind)
	}

	if spec.MemoryBytes > 0 {
		hostCfg.Memory = spec.MemoryBytes
	}

	resp, err := m.client.ContainerCreate(
		ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, spec.Name,
	)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	log.WithField("id", resp.ID[:12]).Debug("Created container")

	return resp.ID, nil
}

// StartContainer starts a container.
func (m *manager) StartContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", containerID[:12], err)
	}

	m.log.WithField("id", containerID[:12]).Debug("Started container")

	return nil
}

// StopContainer stops a container.
func (m *manager) StopContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("stopping container %s: %w", containerID[:12], err)
	}

	m.log.WithField("id", containerID[:12]).Debug("Stopped container")

	return nil
}

// RemoveContainer removes a container.
func (m *manager) RemoveContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		return fmt.Errorf("removing container %s: %w", containerID[:12], err)
	}

	m.log.WithField("id", containerID[:12]).Debug("Removed container")

	return nil
}

// StreamLogs streams container logs to the provided writers.
func (m *manager) StreamLogs(ctx context.Context, containerID string, stdout, stderr io.Writer) error {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
	}

	reader, err := m.client.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return fmt.Errorf("getting container logs: %w", err)
	}
	defer func() { _ = reader.Close() }()

	_, err = stdcopy.StdCopy(stdout, stderr, reader)
	if err != nil && err != io.EOF {
		return fmt.Errorf("copying logs: %w", err)
	}

	return nil
}

// PullImage pulls a Docker image.
func (m *manager) PullImage(ctx context.Context, imageName string, policy string) error {
	log := m.log.WithField("image", imageName)

	if policy == "never" {
		log.Debug("Skipping image pull (policy: never)")

		return nil
	}

	if policy == "if-not-present" {
		images, err := m.client.ImageList(ctx, image.ListOptions{
			Filters: filters.NewArgs(filters.Arg("reference", imageName)),
		})
		if err != nil {
			return fmt.Errorf("listing images: %w", err)
		}

		if len(images) > 0 {
			log.Debug("Image already exists (policy: if-not-present)")

			return nil
		}
	}

	log.Info("Pulling image")

	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()

	// Consume the pull output.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull response: %w", err)
	}

	log.Info("Image pulled successfully")

	return nil
}

// ListContainers returns all containers managed by regressoor.
func (m *manager) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", ManagedByLabel+"="+ManagedByValue),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	result := make([]ContainerInfo, 0, len(containers))

	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		result = append(result, ContainerInfo{
			ID:     c.ID,
			Name:   name,
			Labels: c.Labels,
		})
	}

	return result, nil
}

// portBindings converts "host:container" pairs into the Docker port maps.
func portBindings(ports []string) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}

	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))

	for _, p := range ports {
		host, cont, ok := strings.Cut(p, ":")
		if !ok {
			host, cont = p, p
		}

		port, err := nat.NewPort("tcp", cont)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing port %q: %w", p, err)
		}

		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostPort: host}}
	}

	return exposed, bindings, nil
}
