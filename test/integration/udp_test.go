//go:build integration

package integration_test

import (
	"net"
	"net/netip"
	"testing"
)

// loopbackConn adapts a UDP socket to netio.DatagramReader.
type loopbackConn struct {
	*net.UDPConn
}

func (c loopbackConn) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	return c.ReadFromUDPAddrPort(buf)
}

func listenLoopback(t *testing.T) (loopbackConn, netip.AddrPort) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ap := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return loopbackConn{conn}, netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func sendTo(t *testing.T, dst netip.AddrPort, pkt []byte) {
	t.Helper()

	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(dst))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(pkt); err != nil {
		t.Fatalf("write: %v", err)
	}
}
