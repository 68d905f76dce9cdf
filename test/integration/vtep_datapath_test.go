//go:build integration

package integration_test

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/govxlan/internal/netio"
	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// -------------------------------------------------------------------------
// In-memory underlay: delivers datagrams between VTEPs
// -------------------------------------------------------------------------

var testGroup = netip.MustParseAddrPort("239.1.1.1:4789")

// underlay connects several VTEPs. Datagrams to the group reach every
// member except the sender; unicast reaches the VTEP owning the address.
type underlay struct {
	mu    sync.Mutex
	vteps map[netip.Addr]*vtep
}

func newUnderlay() *underlay {
	return &underlay{vteps: make(map[netip.Addr]*vtep)}
}

func (u *underlay) deliver(from netip.Addr, pkt []byte, dst netip.AddrPort) {
	u.mu.Lock()
	var targets []*vtep
	for addr, v := range u.vteps {
		if addr == from {
			continue
		}
		if dst == testGroup || dst.Addr() == addr {
			targets = append(targets, v)
		}
	}
	u.mu.Unlock()

	src := netip.AddrPortFrom(from, testGroup.Port())
	for _, v := range targets {
		// Errors are counted by the manager; unknown VNIs are expected.
		_ = v.mgr.HandleDatagram(slices.Clone(pkt), src)
	}
}

// vtepOverlay is one VTEP's view of the underlay.
type vtepOverlay struct {
	u    *underlay
	self netip.Addr
}

func (o *vtepOverlay) WriteTo(pkt []byte, dst netip.AddrPort) error {
	o.u.deliver(o.self, pkt, dst)
	return nil
}

func (o *vtepOverlay) Group() netip.AddrPort { return testGroup }

func (o *vtepOverlay) JoinGroup(netip.Addr) error { return nil }

func (o *vtepOverlay) LeaveGroup(netip.Addr) error { return nil }

// -------------------------------------------------------------------------
// Local ports
// -------------------------------------------------------------------------

type memPort struct {
	name    string
	in      chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once
}

func (p *memPort) Name() string { return p.name }

func (p *memPort) ReadFrame(buf []byte) (int, error) {
	select {
	case f := <-p.in:
		return copy(buf, f), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *memPort) WriteFrame(frame []byte) error {
	select {
	case p.written <- slices.Clone(frame):
		return nil
	case <-p.closed:
		return io.EOF
	}
}

func (p *memPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// -------------------------------------------------------------------------
// VTEP fixture
// -------------------------------------------------------------------------

type vtep struct {
	addr netip.Addr
	mgr  *vxlan.Manager

	mu    sync.Mutex
	ports map[string]*memPort
}

func (u *underlay) addVTEP(t *testing.T, addr string) *vtep {
	t.Helper()

	v := &vtep{
		addr:  netip.MustParseAddr(addr),
		ports: make(map[string]*memPort),
	}
	overlay := &vtepOverlay{u: u, self: v.addr}
	v.mgr = vxlan.NewManager(overlay, v.openPort, slog.New(slog.DiscardHandler))
	t.Cleanup(v.mgr.Close)

	u.mu.Lock()
	u.vteps[v.addr] = v
	u.mu.Unlock()

	return v
}

func (v *vtep) openPort(name string) (vxlan.LocalPort, error) {
	p := &memPort{
		name:    name,
		in:      make(chan []byte, 16),
		written: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}

	v.mu.Lock()
	v.ports[name] = p
	v.mu.Unlock()

	return p, nil
}

func (v *vtep) port(t *testing.T, name string) *memPort {
	t.Helper()

	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.ports[name]
	if !ok {
		t.Fatalf("%s: port %q not opened", v.addr, name)
	}
	return p
}

func (v *vtep) create(t *testing.T, vni vxlan.VNI) *memPort {
	t.Helper()

	if _, err := v.mgr.CreateInstance(t.Context(), vxlan.InstanceConfig{VNI: vni}); err != nil {
		t.Fatalf("%s: create vni %d: %v", v.addr, vni, err)
	}
	return v.port(t, vxlan.DefaultPortName(vni))
}

func ethFrame(dst, src vxlan.MAC, payload string) []byte {
	frame := make([]byte, 0, 14+len(payload))
	frame = append(frame, dst[:]...)
	frame = append(frame, src[:]...)
	frame = binary.BigEndian.AppendUint16(frame, 0x88b5)
	return append(frame, payload...)
}

func expectFrame(t *testing.T, p *memPort, want []byte) {
	t.Helper()

	select {
	case got := <-p.written:
		if !slices.Equal(got, want) {
			t.Fatalf("port %s: got frame %x, want %x", p.name, got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("port %s: no frame delivered", p.name)
	}
}

func expectNoFrame(t *testing.T, p *memPort) {
	t.Helper()

	select {
	case got := <-p.written:
		t.Fatalf("port %s: unexpected frame %x", p.name, got)
	case <-time.After(100 * time.Millisecond):
	}
}

// -------------------------------------------------------------------------
// Tests
// -------------------------------------------------------------------------

var (
	macA = vxlan.MAC{0x02, 0, 0, 0, 0, 0x0a}
	macB = vxlan.MAC{0x02, 0, 0, 0, 0, 0x0b}
)

// TestFloodAndLearn drives a conversation between hosts behind two VTEPs:
// the first frame floods, the reply is unicast to the learned VTEP and
// so is every later frame.
func TestFloodAndLearn(t *testing.T) {
	u := newUnderlay()
	a := u.addVTEP(t, "192.0.2.1")
	b := u.addVTEP(t, "192.0.2.2")

	portA := a.create(t, 100)
	portB := b.create(t, 100)

	// A -> B, B's MAC unknown: flooded.
	f1 := ethFrame(macB, macA, "hello")
	portA.in <- f1
	expectFrame(t, portB, f1)

	// B -> A: B learned macA behind 192.0.2.1.
	f2 := ethFrame(macA, macB, "hi")
	portB.in <- f2
	expectFrame(t, portA, f2)

	// A -> B again: now unicast.
	f3 := ethFrame(macB, macA, "again")
	portA.in <- f3
	expectFrame(t, portB, f3)

	snapA, err := a.mgr.ShowInstance(100)
	if err != nil {
		t.Fatalf("show A: %v", err)
	}
	if snapA.PacketsSentFlood != 1 || snapA.PacketsSentUnicast != 1 {
		t.Errorf("A sent flood=%d unicast=%d, want 1/1",
			snapA.PacketsSentFlood, snapA.PacketsSentUnicast)
	}
	if snapA.PacketsReceived != 1 {
		t.Errorf("A received %d, want 1", snapA.PacketsReceived)
	}

	snapB, err := b.mgr.ShowInstance(100)
	if err != nil {
		t.Fatalf("show B: %v", err)
	}
	if snapB.PacketsSentUnicast != 1 || snapB.PacketsSentFlood != 0 {
		t.Errorf("B sent flood=%d unicast=%d, want 0/1",
			snapB.PacketsSentFlood, snapB.PacketsSentUnicast)
	}

	entries, err := b.mgr.ListFDB(100)
	if err != nil {
		t.Fatalf("list fdb B: %v", err)
	}
	if len(entries) != 1 || entries[0].MAC != macA ||
		entries[0].Remote.Addr() != netip.MustParseAddr("192.0.2.1") {
		t.Errorf("B fdb = %+v, want macA behind 192.0.2.1", entries)
	}
}

// TestVNIIsolation checks that traffic never crosses VNIs and that a VTEP
// without the VNI drops it.
func TestVNIIsolation(t *testing.T) {
	u := newUnderlay()
	a := u.addVTEP(t, "192.0.2.1")
	b := u.addVTEP(t, "192.0.2.2")
	c := u.addVTEP(t, "192.0.2.3")

	portA100 := a.create(t, 100)
	a.create(t, 200)
	portB100 := b.create(t, 100)
	portB200 := b.create(t, 200)
	portC300 := c.create(t, 300)

	f := ethFrame(vxlan.BroadcastMAC, macA, "vni100")
	portA100.in <- f

	expectFrame(t, portB100, f)
	expectNoFrame(t, portB200)
	expectNoFrame(t, portC300)

	entries, err := c.mgr.ListFDB(300)
	if err != nil {
		t.Fatalf("list fdb C: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("C learned %d entries from a foreign VNI", len(entries))
	}
}

// TestDestroyStopsForwarding verifies that a destroyed instance neither
// receives nor learns.
func TestDestroyStopsForwarding(t *testing.T) {
	u := newUnderlay()
	a := u.addVTEP(t, "192.0.2.1")
	b := u.addVTEP(t, "192.0.2.2")

	portA := a.create(t, 100)
	portB := b.create(t, 100)

	if err := b.mgr.DestroyInstance(t.Context(), 100); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	portA.in <- ethFrame(macB, macA, "gone")
	expectNoFrame(t, portB)

	if _, err := b.mgr.ShowInstance(100); err == nil {
		t.Fatal("instance still present after destroy")
	}
}

// TestReceiverOverLoopback runs the real receive loop on a loopback UDP
// socket and feeds it hand-built VXLAN datagrams.
func TestReceiverOverLoopback(t *testing.T) {
	u := newUnderlay()
	b := u.addVTEP(t, "192.0.2.2")
	portB := b.create(t, 100)

	conn, addr := listenLoopback(t)

	recv := netio.NewReceiver(b.mgr, slog.New(slog.DiscardHandler))
	done := make(chan error, 1)
	go func() { done <- recv.Run(t.Context(), conn) }()

	frame := ethFrame(macB, macA, "over udp")
	pkt, err := vxlan.Encapsulate(nil, 100, frame)
	if err != nil {
		t.Fatalf("encapsulate: %v", err)
	}
	sendTo(t, addr, pkt)

	expectFrame(t, portB, frame)

	entries, err := b.mgr.ListFDB(100)
	if err != nil {
		t.Fatalf("list fdb: %v", err)
	}
	if len(entries) != 1 || !entries[0].Remote.Addr().IsLoopback() {
		t.Errorf("fdb = %+v, want one loopback entry", entries)
	}
}
