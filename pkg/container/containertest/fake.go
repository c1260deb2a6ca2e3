// Package containertest provides an in-memory Docker Engine API for tests.
package containertest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Container is a fake container record.
type Container struct {
	ID         string
	Name       string
	Config     container.Config
	HostConfig container.HostConfig
	Running    bool
	// Rules holds the iptables commands appended through exec.
	Rules []string
}

// Exec is a recorded exec call.
type Exec struct {
	ContainerID string
	Cmd         []string
	Detach      bool
	Started     bool
}

// Engine fakes the Docker Engine API.
type Engine struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*Container
	execs      map[string]*Exec
	images     map[string]bool
	calls      []string

	// Fail makes the named API call ("create", "start", "exec", ...) fail.
	Fail map[string]error
}

// NewEngine returns an engine where every image in images is present locally.
func NewEngine(images ...string) *Engine {
	e := &Engine{
		containers: make(map[string]*Container),
		execs:      make(map[string]*Exec),
		images:     make(map[string]bool),
		Fail:       make(map[string]error),
	}
	for _, img := range images {
		e.images[img] = true
	}
	return e
}

func (e *Engine) record(call string) error {
	e.calls = append(e.calls, call)
	return e.Fail[call]
}

func notFound(what string) error {
	return fmt.Errorf("No such %s: %w", what, cerrdefs.ErrNotFound)
}

// Calls returns the API calls made so far, in order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.calls...)
}

// Count returns how many times call was made.
func (e *Engine) Count(call string) int {
	n := 0
	for _, c := range e.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Add seeds a container.
func (e *Engine) Add(name string, running bool) *Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	c := &Container{ID: fmt.Sprintf("c%04d", e.seq), Name: name, Running: running}
	e.containers[c.ID] = c
	return c
}

// ByName returns the container named name, or nil.
func (e *Engine) ByName(name string) *Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byName(name)
}

func (e *Engine) byName(name string) *Container {
	for _, c := range e.containers {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (e *Engine) resolve(ref string) *Container {
	if c, ok := e.containers[ref]; ok {
		return c
	}
	return e.byName(ref)
}

// Len returns the number of containers.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.containers)
}

// Execs returns recorded exec calls.
func (e *Engine) Execs() []Exec {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Exec, 0, len(e.execs))
	for i := 1; i <= e.seq; i++ {
		if x, ok := e.execs[fmt.Sprintf("x%04d", i)]; ok {
			out = append(out, *x)
		}
	}
	return out
}

func (e *Engine) Ping(ctx context.Context) (types.Ping, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("ping"); err != nil {
		return types.Ping{}, err
	}
	return types.Ping{APIVersion: "1.51"}, nil
}

func (e *Engine) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("list"); err != nil {
		return nil, err
	}
	var out []container.Summary
	for _, c := range e.containers {
		if !options.All && !c.Running {
			continue
		}
		out = append(out, container.Summary{ID: c.ID, Names: []string{"/" + c.Name}, Image: c.Config.Image})
	}
	return out, nil
}

func (e *Engine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("create"); err != nil {
		return container.CreateResponse{}, err
	}
	if !e.images[config.Image] {
		return container.CreateResponse{}, notFound("image: " + config.Image)
	}
	if e.byName(containerName) != nil {
		return container.CreateResponse{}, fmt.Errorf("Conflict. The container name %q is already in use", containerName)
	}
	e.seq++
	c := &Container{
		ID:         fmt.Sprintf("c%04d", e.seq),
		Name:       containerName,
		Config:     *config,
		HostConfig: *hostConfig,
	}
	e.containers[c.ID] = c
	return container.CreateResponse{ID: c.ID}, nil
}

func (e *Engine) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("start"); err != nil {
		return err
	}
	c := e.resolve(containerID)
	if c == nil {
		return notFound("container: " + containerID)
	}
	c.Running = true
	return nil
}

func (e *Engine) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("stop"); err != nil {
		return err
	}
	c := e.resolve(containerID)
	if c == nil {
		return notFound("container: " + containerID)
	}
	c.Running = false
	return nil
}

func (e *Engine) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("remove"); err != nil {
		return err
	}
	c := e.resolve(containerID)
	if c == nil {
		return notFound("container: " + containerID)
	}
	if c.Running && !options.Force {
		return fmt.Errorf("cannot remove running container %s", containerID)
	}
	delete(e.containers, c.ID)
	return nil
}

func (e *Engine) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("inspect"); err != nil {
		return container.InspectResponse{}, err
	}
	c := e.resolve(containerID)
	if c == nil {
		return container.InspectResponse{}, notFound("container: " + containerID)
	}
	state := &container.State{Status: "exited"}
	if c.Running {
		state = &container.State{Status: "running", Running: true}
	}
	cfg := c.Config
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    c.ID,
			Name:  "/" + c.Name,
			State: state,
		},
		Config: &cfg,
	}, nil
}

func (e *Engine) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("exec"); err != nil {
		return container.ExecCreateResponse{}, err
	}
	c := e.resolve(containerID)
	if c == nil {
		return container.ExecCreateResponse{}, notFound("container: " + containerID)
	}
	if !c.Running {
		return container.ExecCreateResponse{}, fmt.Errorf("container %s is not running", containerID)
	}
	e.seq++
	id := fmt.Sprintf("x%04d", e.seq)
	e.execs[id] = &Exec{ContainerID: c.ID, Cmd: options.Cmd, Detach: options.Detach}
	return container.ExecCreateResponse{ID: id}, nil
}

func (e *Engine) ContainerExecStart(ctx context.Context, execID string, config container.ExecStartOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("exec start"); err != nil {
		return err
	}
	x, ok := e.execs[execID]
	if !ok {
		return notFound("exec instance: " + execID)
	}
	x.Started = true
	e.apply(x)
	return nil
}

func (e *Engine) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("exec attach"); err != nil {
		return types.HijackedResponse{}, err
	}
	x, ok := e.execs[execID]
	if !ok {
		return types.HijackedResponse{}, notFound("exec instance: " + execID)
	}
	x.Started = true
	client, server := net.Pipe()
	server.Close()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(strings.NewReader(""))}, nil
}

func (e *Engine) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("exec inspect"); err != nil {
		return container.ExecInspect{}, err
	}
	x, ok := e.execs[execID]
	if !ok {
		return container.ExecInspect{}, notFound("exec instance: " + execID)
	}
	return container.ExecInspect{ExecID: execID, ContainerID: x.ContainerID, ExitCode: e.apply(x)}, nil
}

// apply interprets iptables commands: -A appends a rule, -C checks it.
func (e *Engine) apply(x *Exec) int {
	c, ok := e.containers[x.ContainerID]
	if !ok || len(x.Cmd) == 0 || x.Cmd[0] != "iptables" {
		return 0
	}
	for i, arg := range x.Cmd {
		rule := strings.Join(slices.Concat(x.Cmd[1:i], x.Cmd[i+1:]), " ")
		switch arg {
		case "-A":
			c.Rules = append(c.Rules, rule)
			return 0
		case "-C":
			if slices.Contains(c.Rules, rule) {
				return 0
			}
			return 1
		}
	}
	return 0
}

// Rules returns the iptables rules appended inside the named container.
func (e *Engine) Rules(name string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.byName(name)
	if c == nil {
		return nil
	}
	return append([]string{}, c.Rules...)
}

func (e *Engine) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("pull"); err != nil {
		return nil, err
	}
	e.images[refStr] = true
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}
