package ovs

import (
	"context"
	"fmt"
	"slices"

	"github.com/ovs-container-lab/ovs-router/pkg/executor"
	"github.com/sirupsen/logrus"
)

// Client manages the per-router Open vSwitch bridges through ovs-vsctl
type Client struct {
	runner  executor.Runner
	program string
	prefix  string
	logger  *logrus.Logger
}

// NewClient creates a new OVS client. Bridge names are prefix + router name.
func NewClient(runner executor.Runner, program, prefix string, logger *logrus.Logger) *Client {
	if program == "" {
		program = "ovs-vsctl"
	}
	return &Client{
		runner:  runner,
		program: program,
		prefix:  prefix,
		logger:  logger,
	}
}

// BridgeName returns the bridge dedicated to the named router
func (c *Client) BridgeName(name string) string {
	return c.prefix + name
}

func (c *Client) vsctl(ctx context.Context, args ...string) (string, error) {
	return c.runner.Run(ctx, executor.Command{
		Program: c.program,
		Args:    args,
		Order:   executor.FlagsFirst,
	})
}

// Ping verifies that OVS is accessible
func (c *Client) Ping(ctx context.Context) error {
	output, err := c.vsctl(ctx, "--version")
	if err != nil {
		return fmt.Errorf("ovs-vsctl not accessible: %w", err)
	}
	c.logger.Debugf("OVS version: %s", output)
	return nil
}

// ListBridges returns a list of all OVS bridges
func (c *Client) ListBridges(ctx context.Context) ([]string, error) {
	output, err := c.vsctl(ctx, "list-br")
	if err != nil {
		return nil, fmt.Errorf("failed to list bridges: %w", err)
	}
	return executor.Lines(output), nil
}

// ListPorts returns the ports attached to bridge
func (c *Client) ListPorts(ctx context.Context, bridge string) ([]string, error) {
	output, err := c.vsctl(ctx, "list-ports", bridge)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports of bridge %s: %w", bridge, err)
	}
	return executor.Lines(output), nil
}

// BridgeExists reports whether the named router's bridge is present
func (c *Client) BridgeExists(ctx context.Context, name string) (bool, error) {
	bridges, err := c.ListBridges(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(bridges, c.BridgeName(name)), nil
}

// CreateBridge ensures the named router's bridge exists. It reports whether
// the bridge was created by this call.
func (c *Client) CreateBridge(ctx context.Context, name string) (bool, error) {
	bridge := c.BridgeName(name)
	log := c.logger.WithField("bridge", bridge)

	exists, err := c.BridgeExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		log.Infof("Bridge %s already exists", bridge)
		return false, nil
	}

	if _, err := c.vsctl(ctx, "add-br", bridge); err != nil {
		return false, fmt.Errorf("failed to create bridge %s: %w", bridge, err)
	}

	log.Infof("Created OVS bridge %s", bridge)
	return true, nil
}

// DeleteBridge removes the named router's bridge. It reports whether a bridge
// was removed by this call.
func (c *Client) DeleteBridge(ctx context.Context, name string) (bool, error) {
	bridge := c.BridgeName(name)
	log := c.logger.WithField("bridge", bridge)

	exists, err := c.BridgeExists(ctx, name)
	if err != nil {
		return false, err
	}
	if !exists {
		log.Infof("Bridge %s not found", bridge)
		return false, nil
	}

	if _, err := c.vsctl(ctx, "del-br", bridge); err != nil {
		return false, fmt.Errorf("failed to delete bridge %s: %w", bridge, err)
	}

	log.Infof("Deleted OVS bridge %s", bridge)
	return true, nil
}
