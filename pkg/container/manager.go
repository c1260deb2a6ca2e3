// Package container manages router containers through the Docker Engine API.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/ovs-container-lab/ovs-router/pkg/config"
	"github.com/sirupsen/logrus"
)

// NameLabel tags every container created by this daemon with its router name.
const NameLabel = "io.ovs-router.name"

// ErrNotFound is returned by Get when no container has the exact name.
var ErrNotFound = errors.New("container not found")

// API is the subset of the Docker Engine client used by Manager.
// *client.Client satisfies it.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config container.ExecStartOptions) error
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// RuntimeError reports a failed call to the container runtime.
type RuntimeError struct {
	Op        string
	Container string
	Err       error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("container runtime: %s %s: %v", e.Op, e.Container, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func runtimeErr(op, name string, err error) error {
	return &RuntimeError{Op: op, Container: name, Err: err}
}

// Info is a snapshot of a router container.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	State   string `json:"state"`
	Running bool   `json:"running"`
}

// Manager creates, inspects and removes router containers.
type Manager struct {
	api    API
	router config.Router
	logger *logrus.Logger
}

// NewManager creates a Manager for routers shaped by router.
func NewManager(api API, router config.Router, logger *logrus.Logger) *Manager {
	return &Manager{
		api:    api,
		router: router,
		logger: logger,
	}
}

// Ping verifies that the Docker daemon is reachable
func (m *Manager) Ping(ctx context.Context) error {
	if _, err := m.api.Ping(ctx); err != nil {
		return runtimeErr("ping", "", err)
	}
	return nil
}

// find lists all containers, stopped ones included, and returns the one
// named name.
func (m *Manager) find(ctx context.Context, name string) (*container.Summary, error) {
	containers, err := m.api.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, runtimeErr("list", name, err)
	}
	for i := range containers {
		for _, n := range containers[i].Names {
			if strings.TrimPrefix(n, "/") == name {
				return &containers[i], nil
			}
		}
	}
	return nil, nil
}

// RunRouter ensures a router container named name exists, creating and
// starting it when absent. It returns the container ID and whether this call
// created it.
func (m *Manager) RunRouter(ctx context.Context, name string) (string, bool, error) {
	log := m.logger.WithField("container", name)

	existing, err := m.find(ctx, name)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		log.Infof("Container %s already exists", name)
		return existing.ID, false, nil
	}

	containerConfig, hostConfig, err := m.specs(name)
	if err != nil {
		return "", false, err
	}

	resp, err := m.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil && cerrdefs.IsNotFound(err) {
		if pullErr := m.pull(ctx); pullErr != nil {
			return "", false, runtimeErr("pull", name, pullErr)
		}
		resp, err = m.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	}
	if err != nil {
		return "", false, runtimeErr("create", name, err)
	}

	if err := m.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, true, runtimeErr("start", name, err)
	}

	log.Infof("The container was created with ID %s", resp.ID)
	return resp.ID, true, nil
}

func (m *Manager) specs(name string) (*container.Config, *container.HostConfig, error) {
	containerConfig := &container.Config{
		Image:  m.router.Image,
		Labels: map[string]string{NameLabel: name},
	}
	hostConfig := &container.HostConfig{
		Privileged: true,
		CapAdd:     append([]string{}, m.router.Capabilities...),
	}

	if len(m.router.Ports) > 0 {
		exposed, bindings, err := nat.ParsePortSpecs(m.router.Ports)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid router port spec: %w", err)
		}
		containerConfig.ExposedPorts = exposed
		hostConfig.PortBindings = bindings
	}
	return containerConfig, hostConfig, nil
}

// pull fetches the router image, waiting for the pull to finish.
func (m *Manager) pull(ctx context.Context) error {
	m.logger.Infof("Image %s not found locally, pulling", m.router.Image)
	rc, err := m.api.ImagePull(ctx, m.router.Image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// StopRouter stops and force-removes the container named name. It reports
// whether a container was removed.
func (m *Manager) StopRouter(ctx context.Context, name string) (bool, error) {
	log := m.logger.WithField("container", name)

	existing, err := m.find(ctx, name)
	if err != nil {
		return false, err
	}
	if existing == nil {
		log.Infof("Container %s not found", name)
		return false, nil
	}

	if err := m.api.ContainerStop(ctx, existing.ID, container.StopOptions{}); err != nil && !cerrdefs.IsNotFound(err) {
		return false, runtimeErr("stop", name, err)
	}
	if err := m.api.ContainerRemove(ctx, existing.ID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		return false, runtimeErr("remove", name, err)
	}

	log.Infof("The container %s was terminated", name)
	return true, nil
}

// Get resolves a container by exact name.
func (m *Manager) Get(ctx context.Context, name string) (*Info, error) {
	resp, err := m.api.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, runtimeErr("inspect", name, err)
	}
	// Inspect also resolves ID prefixes; only an exact name counts.
	if strings.TrimPrefix(resp.Name, "/") != name {
		return nil, ErrNotFound
	}

	info := &Info{ID: resp.ID, Name: name}
	if resp.Config != nil {
		info.Image = resp.Config.Image
	}
	if resp.State != nil {
		info.State = string(resp.State.Status)
		info.Running = resp.State.Running
	}
	return info, nil
}

// Exec runs cmd inside the container. With detach the call returns as soon as
// the exec is dispatched and the exit code is always 0; otherwise it waits for
// the command and returns its exit code.
func (m *Manager) Exec(ctx context.Context, id string, cmd []string, detach bool) (int, error) {
	created, err := m.api.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		Detach:       detach,
		AttachStdout: !detach,
		AttachStderr: !detach,
	})
	if err != nil {
		return 0, runtimeErr("exec create", id, err)
	}

	if detach {
		if err := m.api.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}); err != nil {
			return 0, runtimeErr("exec start", id, err)
		}
		return 0, nil
	}

	attach, err := m.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, runtimeErr("exec attach", id, err)
	}
	_, _ = io.Copy(io.Discard, attach.Reader)
	attach.Close()

	for {
		inspect, err := m.api.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return 0, runtimeErr("exec inspect", id, err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, runtimeErr("exec wait", id, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}
