//go:build !linux

package netio

import (
	"errors"
	"fmt"

	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// ErrTAPUnsupported indicates TAP interfaces are not available on this platform.
var ErrTAPUnsupported = errors.New("tap interfaces are only supported on linux")

// OpenPort always fails off Linux.
func OpenPort(name string) (vxlan.LocalPort, error) {
	return nil, fmt.Errorf("open tap %s: %w", name, ErrTAPUnsupported)
}
