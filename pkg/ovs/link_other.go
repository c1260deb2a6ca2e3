//go:build !linux

package ovs

import (
	"errors"

	"github.com/ovs-container-lab/ovs-router/pkg/types"
)

// LinkState is only available on Linux.
func LinkState(bridge string) (types.LinkStatus, error) {
	return types.LinkStatus{}, errors.New("link state is not supported on this platform")
}
