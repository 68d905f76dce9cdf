package vxlan_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// -------------------------------------------------------------------------
// fakePort: in-memory LocalPort
// -------------------------------------------------------------------------

type fakePort struct {
	name    string
	in      chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once

	// writeHook, if set, runs before a frame is recorded.
	writeHook func(frame []byte) error

	// readErr, if set, is returned by every ReadFrame until Close.
	readErr error
	reads   atomic.Int64
}

func newFakePort(name string) *fakePort {
	return &fakePort{
		name:    name,
		in:      make(chan []byte, 16),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (p *fakePort) Name() string { return p.name }

func (p *fakePort) ReadFrame(buf []byte) (int, error) {
	if p.readErr != nil {
		if p.isClosed() {
			return 0, io.EOF
		}
		p.reads.Add(1)
		return 0, p.readErr
	}

	select {
	case f := <-p.in:
		return copy(buf, f), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) WriteFrame(frame []byte) error {
	if p.writeHook != nil {
		if err := p.writeHook(frame); err != nil {
			return err
		}
	}
	select {
	case p.written <- slices.Clone(frame):
		return nil
	case <-p.closed:
		return io.EOF
	}
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// portFactory hands out fakePorts and remembers them by name.
type portFactory struct {
	mu    sync.Mutex
	ports map[string]*fakePort
	err   error
	// readErr is handed to every port opened afterwards.
	readErr error
}

func newPortFactory() *portFactory {
	return &portFactory{ports: make(map[string]*fakePort)}
}

func (f *portFactory) open(name string) (vxlan.LocalPort, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	p := newFakePort(name)
	p.readErr = f.readErr
	f.ports[name] = p
	return p, nil
}

func (f *portFactory) get(t *testing.T, name string) *fakePort {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.ports[name]
	if !ok {
		t.Fatalf("port %q was never opened", name)
	}
	return p
}

// -------------------------------------------------------------------------
// fakeOverlay: records sends and group membership
// -------------------------------------------------------------------------

type sentPacket struct {
	pkt []byte
	dst netip.AddrPort
}

type fakeOverlay struct {
	group netip.AddrPort
	sent  chan sentPacket

	mu      sync.Mutex
	joined  map[netip.Addr]int
	joinErr error
}

var errJoinRefused = errors.New("join refused")

func newFakeOverlay() *fakeOverlay {
	return &fakeOverlay{
		group:  netip.MustParseAddrPort("239.1.1.1:4789"),
		sent:   make(chan sentPacket, 64),
		joined: make(map[netip.Addr]int),
	}
}

func (o *fakeOverlay) WriteTo(pkt []byte, dst netip.AddrPort) error {
	o.sent <- sentPacket{pkt: slices.Clone(pkt), dst: dst}
	return nil
}

func (o *fakeOverlay) Group() netip.AddrPort { return o.group }

func (o *fakeOverlay) JoinGroup(group netip.Addr) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.joinErr != nil {
		return o.joinErr
	}
	o.joined[group]++
	return nil
}

func (o *fakeOverlay) LeaveGroup(group netip.Addr) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.joined[group]--
	if o.joined[group] == 0 {
		delete(o.joined, group)
	}
	return nil
}

func (o *fakeOverlay) memberships(group netip.Addr) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.joined[group]
}

// -------------------------------------------------------------------------
// recordHandler: captures log records by message
// -------------------------------------------------------------------------

type recordHandler struct {
	mu   sync.Mutex
	msgs []string
	// quiet drops debug records, like a logger at the default level.
	quiet atomic.Bool
}

func (h *recordHandler) Enabled(_ context.Context, level slog.Level) bool {
	return !h.quiet.Load() || level >= slog.LevelInfo
}

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.msgs = append(h.msgs, r.Message)
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordHandler) WithGroup(string) slog.Handler { return h }

func (h *recordHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n int
	for _, m := range h.msgs {
		if m == msg {
			n++
		}
	}
	return n
}

// -------------------------------------------------------------------------
// Manager fixture
// -------------------------------------------------------------------------

type fixture struct {
	mgr     *vxlan.Manager
	overlay *fakeOverlay
	ports   *portFactory
	logs    *recordHandler
}

func newFixture(t *testing.T, opts ...vxlan.ManagerOption) *fixture {
	t.Helper()

	f := &fixture{
		overlay: newFakeOverlay(),
		ports:   newPortFactory(),
		logs:    &recordHandler{},
	}
	f.mgr = vxlan.NewManager(f.overlay, f.ports.open, slog.New(f.logs), opts...)
	t.Cleanup(f.mgr.Close)
	return f
}

func (f *fixture) create(t *testing.T, vni vxlan.VNI) *fakePort {
	t.Helper()

	snap, err := f.mgr.CreateInstance(context.Background(), vxlan.InstanceConfig{VNI: vni})
	if err != nil {
		t.Fatalf("CreateInstance(%d): %v", vni, err)
	}
	return f.ports.get(t, snap.PortName)
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
