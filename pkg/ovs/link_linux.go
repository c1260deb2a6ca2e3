//go:build linux

package ovs

import (
	"github.com/ovs-container-lab/ovs-router/pkg/types"
	"github.com/vishvananda/netlink"
)

// LinkState looks up the netdev OVS creates for bridge. A missing link is not
// an error.
func LinkState(bridge string) (types.LinkStatus, error) {
	link, err := netlink.LinkByName(bridge)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return types.LinkStatus{}, nil
		}
		return types.LinkStatus{}, err
	}

	attrs := link.Attrs()
	status := types.LinkStatus{
		Present:   true,
		OperState: attrs.OperState.String(),
		MTU:       attrs.MTU,
	}
	if attrs.HardwareAddr != nil {
		status.MAC = attrs.HardwareAddr.String()
	}
	return status, nil
}
