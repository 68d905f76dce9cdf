package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// DefaultMulticastTTL is the TTL / hop limit of flooded packets. It keeps
// overlay multicast inside one administrative domain.
const DefaultMulticastTTL = 16

// Sentinel errors for overlay socket setup.
var (
	// ErrAddressResolution indicates the multicast group could not be
	// parsed or resolved, or is not a multicast address.
	ErrAddressResolution = errors.New("address resolution failed")

	// ErrInterfaceNotFound indicates the named local interface does not exist.
	ErrInterfaceNotFound = errors.New("interface not found")

	// ErrSocketSetup indicates a bind, join or socket option failure.
	ErrSocketSetup = errors.New("socket setup failed")

	// ErrFamilyMismatch indicates a group of a different address family
	// than the overlay socket.
	ErrFamilyMismatch = errors.New("address family does not match overlay socket")

	// ErrConnClosed indicates an operation on a closed MulticastConn.
	ErrConnClosed = errors.New("overlay connection closed")

	// ErrPortClosed indicates a frame was written to a closed local port.
	ErrPortClosed = errors.New("local port closed")
)

// MulticastConfig configures the overlay socket.
type MulticastConfig struct {
	// Group is the daemon-wide multicast group, IPv4 or IPv6, as text.
	Group string

	// Interface is the local interface to join the group on. Empty lets
	// the kernel choose.
	Interface string

	// Port is the UDP port. Zero selects vxlan.DefaultPort.
	Port uint16

	// TTL is the multicast TTL / hop limit. Zero selects DefaultMulticastTTL.
	TTL int
}

// ResolveGroup parses or resolves s and checks that it is a multicast
// address. IPv4-mapped IPv6 addresses are unmapped.
func ResolveGroup(ctx context.Context, s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, fmt.Errorf("resolve group: %w: empty address", ErrAddressResolution)
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		addrs, lerr := net.DefaultResolver.LookupNetIP(ctx, "ip", s)
		if lerr != nil {
			return netip.Addr{}, fmt.Errorf("resolve group %q: %w: %w", s, ErrAddressResolution, lerr)
		}
		if len(addrs) == 0 {
			return netip.Addr{}, fmt.Errorf("resolve group %q: %w: no addresses", s, ErrAddressResolution)
		}
		addr = addrs[0]
	}

	addr = addr.Unmap().WithZone("")
	if !addr.IsMulticast() {
		return netip.Addr{}, fmt.Errorf("resolve group %q: %w: %s is not multicast", s, ErrAddressResolution, addr)
	}

	return addr, nil
}

// -------------------------------------------------------------------------
// MulticastConn
// -------------------------------------------------------------------------

// MulticastConn is the overlay UDP socket. It is bound to the wildcard
// address of the group's family on the VXLAN port, is a member of the
// daemon-wide group and any extra groups joined through JoinGroup, and
// sends with multicast loopback disabled.
//
// ReadFrom is called by the single receive loop. WriteTo is safe for
// concurrent use by the bridges.
type MulticastConn struct {
	conn  *net.UDPConn
	p4    *ipv4.PacketConn
	p6    *ipv6.PacketConn
	ifi   *net.Interface
	group netip.AddrPort

	logger *slog.Logger

	mu     sync.Mutex
	joined map[netip.Addr]int
	closed bool
}

// OpenMulticastSocket opens the overlay socket described by cfg.
func OpenMulticastSocket(ctx context.Context, cfg MulticastConfig, logger *slog.Logger) (*MulticastConn, error) {
	group, err := ResolveGroup(ctx, cfg.Group)
	if err != nil {
		return nil, err
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("open overlay socket: %w: %s: %w", ErrInterfaceNotFound, cfg.Interface, err)
		}
	}

	port := cfg.Port
	if port == 0 {
		port = vxlan.DefaultPort
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultMulticastTTL
	}

	network, wildcard := "udp4", netip.IPv4Unspecified()
	if group.Is6() {
		network, wildcard = "udp6", netip.IPv6Unspecified()
	}

	conn, err := listenUDP(ctx, network, netip.AddrPortFrom(wildcard, port))
	if err != nil {
		return nil, fmt.Errorf("open overlay socket: %w: %w", ErrSocketSetup, err)
	}

	c := &MulticastConn{
		conn:   conn,
		ifi:    ifi,
		group:  netip.AddrPortFrom(group, port),
		joined: make(map[netip.Addr]int),
		logger: logger.With(
			slog.String("component", "netio.multicast"),
			slog.String("group", group.String()),
			slog.String("interface", cfg.Interface),
		),
	}

	if err := c.configure(group, ttl); err != nil {
		return nil, errors.Join(err, conn.Close())
	}

	c.logger.Info("overlay socket open",
		slog.Uint64("port", uint64(port)),
		slog.Int("ttl", ttl),
	)

	return c, nil
}

// configure joins the daemon-wide group and sets the send options.
func (c *MulticastConn) configure(group netip.Addr, ttl int) error {
	if group.Is4() {
		c.p4 = ipv4.NewPacketConn(c.conn)
		if c.ifi != nil {
			if err := c.p4.SetMulticastInterface(c.ifi); err != nil {
				return fmt.Errorf("set multicast interface: %w: %w", ErrSocketSetup, err)
			}
		}
		if err := c.p4.SetMulticastLoopback(false); err != nil {
			return fmt.Errorf("disable multicast loopback: %w: %w", ErrSocketSetup, err)
		}
		if err := c.p4.SetMulticastTTL(ttl); err != nil {
			return fmt.Errorf("set multicast TTL %d: %w: %w", ttl, ErrSocketSetup, err)
		}
	} else {
		c.p6 = ipv6.NewPacketConn(c.conn)
		if c.ifi != nil {
			if err := c.p6.SetMulticastInterface(c.ifi); err != nil {
				return fmt.Errorf("set multicast interface: %w: %w", ErrSocketSetup, err)
			}
		}
		if err := c.p6.SetMulticastLoopback(false); err != nil {
			return fmt.Errorf("disable multicast loopback: %w: %w", ErrSocketSetup, err)
		}
		if err := c.p6.SetMulticastHopLimit(ttl); err != nil {
			return fmt.Errorf("set multicast hop limit %d: %w: %w", ttl, ErrSocketSetup, err)
		}
	}

	return c.JoinGroup(group)
}

// JoinGroup adds a membership for group on the configured interface.
// Memberships are counted; only the first join reaches the kernel.
func (c *MulticastConn) JoinGroup(group netip.Addr) error {
	group = group.Unmap()
	if !group.IsMulticast() {
		return fmt.Errorf("join %s: %w: not a multicast address", group, ErrSocketSetup)
	}
	if group.Is4() != c.group.Addr().Is4() {
		return fmt.Errorf("join %s: %w: %w", group, ErrSocketSetup, ErrFamilyMismatch)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("join %s: %w", group, ErrConnClosed)
	}

	if c.joined[group] == 0 {
		ga := &net.UDPAddr{IP: group.AsSlice()}
		var err error
		if c.p4 != nil {
			err = c.p4.JoinGroup(c.ifi, ga)
		} else {
			err = c.p6.JoinGroup(c.ifi, ga)
		}
		if err != nil {
			return fmt.Errorf("join %s: %w: %w", group, ErrSocketSetup, err)
		}
		c.logger.Debug("joined multicast group", slog.String("joined", group.String()))
	}
	c.joined[group]++

	return nil
}

// LeaveGroup drops one membership reference for group.
func (c *MulticastConn) LeaveGroup(group netip.Addr) error {
	group = group.Unmap()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("leave %s: %w", group, ErrConnClosed)
	}
	if c.joined[group] == 0 {
		return nil
	}

	c.joined[group]--
	if c.joined[group] > 0 {
		return nil
	}
	delete(c.joined, group)

	ga := &net.UDPAddr{IP: group.AsSlice()}
	var err error
	if c.p4 != nil {
		err = c.p4.LeaveGroup(c.ifi, ga)
	} else {
		err = c.p6.LeaveGroup(c.ifi, ga)
	}
	if err != nil {
		return fmt.Errorf("leave %s: %w: %w", group, ErrSocketSetup, err)
	}

	c.logger.Debug("left multicast group", slog.String("left", group.String()))
	return nil
}

// ReadFrom reads one datagram and returns the sender's address with any
// IPv4-in-IPv6 mapping removed.
func (c *MulticastConn) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	n, src, err := c.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, fmt.Errorf("overlay read: %w", err)
	}
	return n, netip.AddrPortFrom(src.Addr().Unmap(), src.Port()), nil
}

// WriteTo sends one datagram to dst.
func (c *MulticastConn) WriteTo(pkt []byte, dst netip.AddrPort) error {
	if _, err := c.conn.WriteToUDPAddrPort(pkt, dst); err != nil {
		return fmt.Errorf("overlay send to %s: %w", dst, err)
	}
	return nil
}

// SetReadDeadline bounds the blocking ReadFrom. The receive loop uses it
// to stop reading without closing the socket.
func (c *MulticastConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Group returns the daemon-wide group and port.
func (c *MulticastConn) Group() netip.AddrPort { return c.group }

// LocalAddr returns the bound wildcard address and port.
func (c *MulticastConn) LocalAddr() netip.AddrPort {
	if ua, ok := c.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

// Close closes the socket. The kernel drops all memberships. Close is
// idempotent.
func (c *MulticastConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.joined = nil

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close overlay socket: %w", err)
	}

	c.logger.Info("overlay socket closed")
	return nil
}

// listenUDP binds a UDP socket with address and port reuse enabled.
func listenUDP(ctx context.Context, network string, laddr netip.AddrPort) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseControl}

	pc, err := lc.ListenPacket(ctx, network, laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, laddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		return nil, errors.Join(
			fmt.Errorf("listen %s %s: %w", network, laddr, ErrUnexpectedConnType),
			pc.Close(),
		)
	}

	return conn, nil
}

// ErrUnexpectedConnType indicates ListenPacket returned something other
// than *net.UDPConn.
var ErrUnexpectedConnType = errors.New("unexpected connection type from ListenPacket")

var _ vxlan.Overlay = (*MulticastConn)(nil)
