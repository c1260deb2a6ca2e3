// Package pipework binds a router container's secondary interface into the
// router's OVS bridge with the pipework tool.
package pipework

import (
	"context"
	"fmt"
	"slices"

	"github.com/ovs-container-lab/ovs-router/pkg/config"
	"github.com/ovs-container-lab/ovs-router/pkg/executor"
	"github.com/sirupsen/logrus"
)

// PortLister reports the ports attached to a bridge.
type PortLister interface {
	ListPorts(ctx context.Context, bridge string) ([]string, error)
}

// Attacher runs pipework for routers shaped by its config.
type Attacher struct {
	runner  executor.Runner
	ports   PortLister
	program string
	router  config.Router
	logger  *logrus.Logger
}

// NewAttacher creates an Attacher.
func NewAttacher(runner executor.Runner, ports PortLister, program string, router config.Router, logger *logrus.Logger) *Attacher {
	if program == "" {
		program = "pipework"
	}
	return &Attacher{
		runner:  runner,
		ports:   ports,
		program: program,
		router:  router,
		logger:  logger,
	}
}

// Command returns the pipework invocation attaching the named router.
func (a *Attacher) Command(name string) executor.Command {
	return executor.Command{
		Program: a.program,
		Args: []string{
			a.router.BridgeName(name),
			"-i", a.router.SecondaryIface,
			"-l", name,
			name,
			a.router.FloatingCIDR,
			a.router.PeerMAC,
		},
		Order: executor.FlagsLast,
	}
}

// Attached reports whether the router's port is already on its bridge. It
// fails when the bridge does not exist.
func (a *Attacher) Attached(ctx context.Context, name string) (bool, error) {
	ports, err := a.ports.ListPorts(ctx, a.router.BridgeName(name))
	if err != nil {
		return false, err
	}
	return slices.Contains(ports, name), nil
}

// Attach binds the router container into its bridge unless the port is
// already present. It reports whether pipework ran. The container must be
// running; no readiness wait is performed.
func (a *Attacher) Attach(ctx context.Context, name string) (bool, error) {
	bridge := a.router.BridgeName(name)
	log := a.logger.WithFields(logrus.Fields{"bridge": bridge, "container": name})

	attached, err := a.Attached(ctx, name)
	if err != nil {
		return false, err
	}
	if attached {
		log.Infof("Bridge %s already contains port %s", bridge, name)
		return false, nil
	}

	if _, err := a.runner.Run(ctx, a.Command(name)); err != nil {
		return false, fmt.Errorf("failed to attach %s to bridge %s: %w", name, bridge, err)
	}

	log.Infof("Attached %s to bridge %s with %s", name, bridge, a.router.FloatingCIDR)
	return true, nil
}
