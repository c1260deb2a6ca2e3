// Package ovstest provides an in-memory stand-in for ovs-vsctl and pipework.
package ovstest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ovs-container-lab/ovs-router/pkg/executor"
)

// Switch fakes the switch control plane and the attachment tool. It
// implements executor.Runner.
type Switch struct {
	mu      sync.Mutex
	bridges map[string][]string
	calls   []executor.Command

	// FailOn makes any command whose first argument matches fail with a
	// non-zero exit, e.g. "add-br" or "pipework".
	FailOn map[string]bool
}

// NewSwitch returns an empty fake switch.
func NewSwitch() *Switch {
	return &Switch{
		bridges: make(map[string][]string),
		FailOn:  make(map[string]bool),
	}
}

// AddBridge seeds a bridge with ports.
func (s *Switch) AddBridge(name string, ports ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bridges[name] = append([]string{}, ports...)
}

// HasBridge reports whether bridge exists.
func (s *Switch) HasBridge(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bridges[name]
	return ok
}

// Ports returns the ports of bridge.
func (s *Switch) Ports(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.bridges[name]...)
}

// Calls returns every command run so far.
func (s *Switch) Calls() []executor.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]executor.Command{}, s.calls...)
}

// Mutations returns the commands that changed switch state.
func (s *Switch) Mutations() []executor.Command {
	var out []executor.Command
	for _, c := range s.Calls() {
		if c.Program == "pipework" || (len(c.Args) > 0 && (c.Args[0] == "add-br" || c.Args[0] == "del-br")) {
			out = append(out, c)
		}
	}
	return out
}

func fail(cmd executor.Command, stderr string) error {
	return &executor.ExecutionError{
		Command:  append([]string{cmd.Program}, cmd.Args...),
		ExitCode: 1,
		Stderr:   stderr,
	}
}

// Run implements executor.Runner.
func (s *Switch) Run(ctx context.Context, cmd executor.Command) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cmd)

	if cmd.Program == "pipework" {
		return s.pipework(cmd)
	}
	if len(cmd.Args) == 0 {
		return "", fail(cmd, "missing command")
	}
	verb := cmd.Args[0]
	if s.FailOn[verb] {
		return "", fail(cmd, "injected failure")
	}

	switch verb {
	case "--version":
		return "ovs-vsctl (Open vSwitch) 3.3.0", nil
	case "list-br":
		names := make([]string, 0, len(s.bridges))
		for name := range s.bridges {
			names = append(names, name)
		}
		slices.Sort(names)
		return strings.Join(names, "\n"), nil
	case "add-br":
		if _, ok := s.bridges[cmd.Args[1]]; ok {
			return "", fail(cmd, fmt.Sprintf("cannot create a bridge named %s because a bridge named %s already exists", cmd.Args[1], cmd.Args[1]))
		}
		s.bridges[cmd.Args[1]] = nil
		return "", nil
	case "del-br":
		if _, ok := s.bridges[cmd.Args[1]]; !ok {
			return "", fail(cmd, "no bridge named "+cmd.Args[1])
		}
		delete(s.bridges, cmd.Args[1])
		return "", nil
	case "list-ports":
		ports, ok := s.bridges[cmd.Args[1]]
		if !ok {
			return "", fail(cmd, "no bridge named "+cmd.Args[1])
		}
		return strings.Join(ports, "\n"), nil
	}
	return "", fail(cmd, "unknown command "+verb)
}

// pipework <bridge> -i <iface> -l <label> <container> <cidr> <mac>
func (s *Switch) pipework(cmd executor.Command) (string, error) {
	if s.FailOn["pipework"] {
		return "", fail(cmd, "injected failure")
	}
	if len(cmd.Args) != 8 {
		return "", fail(cmd, "usage")
	}
	bridge, label := cmd.Args[0], cmd.Args[4]
	ports, ok := s.bridges[bridge]
	if !ok {
		return "", fail(cmd, "no bridge named "+bridge)
	}
	s.bridges[bridge] = append(ports, label)
	return "", nil
}
