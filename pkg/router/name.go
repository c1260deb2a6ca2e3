package router

import (
	"errors"
	"fmt"
	"regexp"
)

// maxIfaceName is the Linux limit for interface names (IFNAMSIZ - 1).
const maxIfaceName = 15

// ErrInvalidName is returned for router names that cannot name a container
// and a bridge.
var ErrInvalidName = errors.New("invalid router name")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateName checks that name is usable as a container name and, prefixed,
// as a bridge name.
func ValidateName(name, bridgePrefix string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(bridgePrefix+name) > maxIfaceName {
		return fmt.Errorf("%w: bridge name %q exceeds %d characters", ErrInvalidName, bridgePrefix+name, maxIfaceName)
	}
	return nil
}
