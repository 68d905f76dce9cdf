//go:build linux

package netio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// tunDevice is the clone device for TUN/TAP interfaces.
const tunDevice = "/dev/net/tun"

// TAP is a Linux TAP interface used as an instance's local port. Frames
// are read and written without the packet information prefix.
//
// The descriptor is non-blocking and registered with the runtime poller,
// so Close unblocks a pending ReadFrame.
type TAP struct {
	file *os.File
	name string
	once sync.Once
}

// OpenTAP creates (or attaches to) the TAP interface name and sets it up.
func OpenTAP(name string) (*TAP, error) {
	fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open tap %s: %s: %w", name, tunDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open tap %s: %w", name, err), unix.Close(fd))
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		return nil, errors.Join(fmt.Errorf("open tap %s: TUNSETIFF: %w", name, err), unix.Close(fd))
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, errors.Join(fmt.Errorf("open tap %s: set nonblock: %w", name, err), unix.Close(fd))
	}

	t := &TAP{
		file: os.NewFile(uintptr(fd), tunDevice),
		name: ifr.Name(),
	}

	if err := setLinkUp(t.name); err != nil {
		return nil, errors.Join(fmt.Errorf("open tap %s: %w", name, err), t.Close())
	}

	return t, nil
}

// setLinkUp brings the interface up over rtnetlink.
func setLinkUp(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link up: lookup %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("link up: %w", err)
	}
	return nil
}

// Name returns the kernel interface name.
func (t *TAP) Name() string { return t.name }

// ReadFrame reads one Ethernet frame. It returns io.EOF once the TAP is
// closed, and an error wrapping vxlan.ErrPortDown once the interface is
// gone.
func (t *TAP) ReadFrame(buf []byte) (int, error) {
	n, err := t.file.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return 0, io.EOF
		}
		if isPortDown(err) {
			return 0, fmt.Errorf("tap %s read: %w: %w", t.name, vxlan.ErrPortDown, err)
		}
		return 0, fmt.Errorf("tap %s read: %w", t.name, err)
	}
	return n, nil
}

// isPortDown reports read errors the TAP cannot recover from.
func isPortDown(err error) bool {
	return errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EBADFD) || errors.Is(err, unix.EIO)
}

// WriteFrame writes one Ethernet frame. After Close the error wraps both
// ErrPortClosed and io.EOF.
func (t *TAP) WriteFrame(frame []byte) error {
	if _, err := t.file.Write(frame); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return fmt.Errorf("tap %s write: %w: %w", t.name, ErrPortClosed, io.EOF)
		}
		return fmt.Errorf("tap %s write: %w", t.name, err)
	}
	return nil
}

// Close removes the interface. It is idempotent.
func (t *TAP) Close() error {
	var err error
	t.once.Do(func() {
		if cerr := t.file.Close(); cerr != nil {
			err = fmt.Errorf("tap %s close: %w", t.name, cerr)
		}
	})
	return err
}

var _ vxlan.LocalPort = (*TAP)(nil)

// OpenPort adapts OpenTAP to vxlan.PortOpener.
func OpenPort(name string) (vxlan.LocalPort, error) {
	t, err := OpenTAP(name)
	if err != nil {
		return nil, err
	}
	return t, nil
}
