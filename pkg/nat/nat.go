// Package nat installs the outbound masquerade rule inside router containers.
package nat

import (
	"context"
	"errors"
	"fmt"

	"github.com/ovs-container-lab/ovs-router/pkg/container"
	"github.com/sirupsen/logrus"
)

// Runtime is the part of the container manager the configurator needs.
type Runtime interface {
	Get(ctx context.Context, name string) (*container.Info, error)
	Exec(ctx context.Context, id string, cmd []string, detach bool) (int, error)
}

// Configurator applies the masquerade rule.
type Configurator struct {
	runtime       Runtime
	iface         string
	checkExisting bool
	logger        *logrus.Logger
}

// NewConfigurator creates a Configurator masquerading traffic leaving iface.
// With checkExisting the rule is probed first and not appended twice.
func NewConfigurator(runtime Runtime, iface string, checkExisting bool, logger *logrus.Logger) *Configurator {
	return &Configurator{
		runtime:       runtime,
		iface:         iface,
		checkExisting: checkExisting,
		logger:        logger,
	}
}

// Rule returns the iptables command for action ("-A" append, "-C" check).
func (c *Configurator) Rule(action string) []string {
	return []string{"iptables", "-t", "nat", action, "POSTROUTING", "-o", c.iface, "-j", "MASQUERADE"}
}

// ConfigureNAT dispatches the masquerade rule into the named container without
// waiting for it to run. A missing container is logged and skipped. It
// reports whether the rule was dispatched.
func (c *Configurator) ConfigureNAT(ctx context.Context, name string) (bool, error) {
	log := c.logger.WithField("container", name)

	info, err := c.runtime.Get(ctx, name)
	if errors.Is(err, container.ErrNotFound) {
		log.Infof("Container %s not found, skipping NAT", name)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if c.checkExisting {
		code, err := c.runtime.Exec(ctx, info.ID, c.Rule("-C"), false)
		if err != nil {
			return false, fmt.Errorf("failed to check NAT rule in %s: %w", name, err)
		}
		if code == 0 {
			log.Infof("NAT rule already present in %s", name)
			return false, nil
		}
	}

	if _, err := c.runtime.Exec(ctx, info.ID, c.Rule("-A"), true); err != nil {
		return false, fmt.Errorf("failed to configure NAT in %s: %w", name, err)
	}

	log.Infof("The NAT configuration was enforced to %s", name)
	return true, nil
}
