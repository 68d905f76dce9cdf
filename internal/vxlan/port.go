package vxlan

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrPortDown indicates the local port is gone or unusable, for example
// because its interface was deleted. A ReadFrame error wrapping it is
// terminal: the bridge stops and the instance is marked faulted.
var ErrPortDown = errors.New("local port down")

// LocalPort is the local Ethernet attachment of one instance, typically a
// TAP device.
//
// ReadFrame blocks until one frame is available and copies it into buf.
// After Close, a blocked or subsequent ReadFrame returns an error
// satisfying errors.Is(err, io.EOF). Errors wrapping ErrPortDown are
// terminal; any other error is retried with backoff. WriteFrame delivers one frame and
// must not retain the slice.
type LocalPort interface {
	Name() string
	ReadFrame(buf []byte) (int, error)
	WriteFrame(frame []byte) error
	Close() error
}

// PortOpener opens the local port with the given interface name.
type PortOpener func(name string) (LocalPort, error)

// DefaultPortName returns the interface name used for vni when the
// request does not name one. The result fits IFNAMSIZ for every valid VNI.
func DefaultPortName(vni VNI) string {
	return fmt.Sprintf("vxlan%d", vni)
}

// Overlay is the shared UDP socket towards remote VTEPs.
//
// Group returns the daemon-wide flood destination. JoinGroup and
// LeaveGroup add and drop extra multicast memberships for instances with
// their own group.
type Overlay interface {
	WriteTo(pkt []byte, dst netip.AddrPort) error
	Group() netip.AddrPort
	JoinGroup(group netip.Addr) error
	LeaveGroup(group netip.Addr) error
}
