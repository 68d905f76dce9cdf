package vxlan

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// InstanceConfig describes an instance to create.
type InstanceConfig struct {
	// VNI is the tunnel identifier. Must be valid.
	VNI VNI

	// Group optionally overrides the daemon-wide multicast group used for
	// flooding. The zero value selects the daemon-wide group.
	Group netip.Addr

	// PortName is the local interface name. Empty selects DefaultPortName.
	PortName string
}

// Instance is one active tunnel: its local port, its FDB and the table of
// MACs seen on the local side.
//
// An Instance is owned by the Registry. Lookup hands out borrowed
// references counted in inflight; teardown waits for them to drain before
// releasing the port.
type Instance struct {
	vni       VNI
	group     netip.AddrPort
	ownGroup  bool
	port      LocalPort
	fdb       *FDB
	local     *FDB
	createdAt time.Time

	inflight   sync.WaitGroup
	bridgeDone chan struct{}
	// stop is closed by teardown to end a bridge waiting out a backoff.
	stop chan struct{}
	// faulted is set when the bridge stopped on ErrPortDown.
	faulted atomic.Bool

	rx        atomic.Uint64
	txUnicast atomic.Uint64
	txFlood   atomic.Uint64
	dropped   atomic.Uint64
}

func newInstance(vni VNI, group netip.AddrPort, ownGroup bool, port LocalPort, fdbMax int) *Instance {
	return &Instance{
		vni:        vni,
		group:      group,
		ownGroup:   ownGroup,
		port:       port,
		fdb:        NewFDB(fdbMax),
		local:      NewFDB(fdbMax),
		createdAt:  time.Now(),
		bridgeDone: make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// VNI returns the instance's network identifier.
func (i *Instance) VNI() VNI { return i.vni }

// FDB returns the instance's forwarding database.
func (i *Instance) FDB() *FDB { return i.fdb }

// Port returns the instance's local port.
func (i *Instance) Port() LocalPort { return i.port }

// Group returns the flood destination of the instance.
func (i *Instance) Group() netip.AddrPort { return i.group }

// Release ends a borrow obtained from Registry.Lookup.
func (i *Instance) Release() { i.inflight.Done() }

func (i *Instance) acquire() { i.inflight.Add(1) }

// InstanceSnapshot is a read-only view of an instance.
type InstanceSnapshot struct {
	VNI                VNI
	PortName           string
	Group              netip.AddrPort
	FDBEntries         int
	LocalMACs          int
	CreatedAt          time.Time
	PacketsReceived    uint64
	PacketsSentUnicast uint64
	PacketsSentFlood   uint64
	PacketsDropped     uint64
	// Faulted reports that the local port went down. The instance keeps
	// its FDB but no longer bridges local frames until it is recreated.
	Faulted bool
}

// Snapshot copies the instance's current state.
func (i *Instance) Snapshot() InstanceSnapshot {
	return InstanceSnapshot{
		VNI:                i.vni,
		PortName:           i.port.Name(),
		Group:              i.group,
		FDBEntries:         i.fdb.Len(),
		LocalMACs:          i.local.Len(),
		CreatedAt:          i.createdAt,
		PacketsReceived:    i.rx.Load(),
		PacketsSentUnicast: i.txUnicast.Load(),
		PacketsSentFlood:   i.txFlood.Load(),
		PacketsDropped:     i.dropped.Load(),
		Faulted:            i.faulted.Load(),
	}
}
