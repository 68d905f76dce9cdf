package vxlan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
)

// -------------------------------------------------------------------------
// Manager Errors
// -------------------------------------------------------------------------

var (
	// ErrUnknownVNI indicates no instance is registered for the VNI.
	ErrUnknownVNI = errors.New("unknown VNI")

	// ErrInstanceNotFound indicates an administrative request named a VNI
	// that has no instance.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrManagerClosed indicates the Manager has been closed.
	ErrManagerClosed = errors.New("manager closed")
)

// -------------------------------------------------------------------------
// Manager
// -------------------------------------------------------------------------

// Manager is the control plane of the VTEP. It creates and destroys
// instances, runs the overlay dispatch state machine (HandleDatagram), the
// per-instance local port bridges and the FDB aging sweep.
//
// Create and destroy are serialized by ctlMu. The packet path never takes
// ctlMu; it only borrows instances from the Registry.
type Manager struct {
	registry *Registry
	overlay  Overlay
	openPort PortOpener

	ctlMu  sync.Mutex
	closed bool
	// groups counts instances per extra multicast membership.
	groups map[netip.Addr]int
	// declared holds VNIs owned by ReconcileInstances.
	declared map[VNI]struct{}

	bridges sync.WaitGroup
	events  chan MACEvent

	fdbMax  int
	metrics MetricsReporter
	logger  *slog.Logger
}

// ManagerOption configures optional Manager parameters.
type ManagerOption func(*Manager)

// WithMetrics sets the MetricsReporter. A nil reporter is ignored.
func WithMetrics(mr MetricsReporter) ManagerOption {
	return func(m *Manager) {
		if mr != nil {
			m.metrics = mr
		}
	}
}

// WithFDBMaxEntries bounds each instance's FDB and local MAC table.
func WithFDBMaxEntries(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.fdbMax = n
		}
	}
}

// WithEventBuffer sets the capacity of the MACEvents channel.
func WithEventBuffer(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.events = make(chan MACEvent, n)
		}
	}
}

// NewManager creates a Manager that sends over overlay and opens local
// ports with openPort.
func NewManager(overlay Overlay, openPort PortOpener, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: NewRegistry(),
		overlay:  overlay,
		openPort: openPort,
		groups:   make(map[netip.Addr]int),
		declared: make(map[VNI]struct{}),
		events:   make(chan MACEvent, defaultEventBuffer),
		fdbMax:   DefaultFDBMaxEntries,
		metrics:  noopMetrics{},
		logger:   logger.With(slog.String("component", "vxlan.manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the VNI registry shared by all paths.
func (m *Manager) Registry() *Registry { return m.registry }

// MACEvents returns the channel of local MAC notifications. Events are
// dropped when the channel is full.
func (m *Manager) MACEvents() <-chan MACEvent { return m.events }

// -------------------------------------------------------------------------
// Create
// -------------------------------------------------------------------------

// CreateInstance builds an instance and publishes it. The multicast group
// and local port are fully set up before the instance becomes visible to
// the packet path; on failure everything acquired so far is released and
// the registry is unchanged.
func (m *Manager) CreateInstance(ctx context.Context, cfg InstanceConfig) (InstanceSnapshot, error) {
	return m.createInstance(ctx, cfg, false)
}

// createInstance implements CreateInstance. A declared instance is marked
// as owned by ReconcileInstances inside the same critical section that
// publishes it.
func (m *Manager) createInstance(ctx context.Context, cfg InstanceConfig, declared bool) (InstanceSnapshot, error) {
	if !cfg.VNI.Valid() {
		return InstanceSnapshot{}, fmt.Errorf("create instance vni %d: %w", cfg.VNI, ErrInvalidVNI)
	}
	if err := ctx.Err(); err != nil {
		return InstanceSnapshot{}, fmt.Errorf("create instance vni %d: %w", cfg.VNI, err)
	}

	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	inst, err := m.buildInstance(cfg)
	if err != nil {
		return InstanceSnapshot{}, err
	}

	if err := m.registry.Insert(inst); err != nil {
		m.releaseResources(inst)
		return InstanceSnapshot{}, fmt.Errorf("create instance: %w", err)
	}
	if declared {
		m.declared[inst.vni] = struct{}{}
	}

	m.bridges.Add(1)
	go m.runBridge(inst)

	m.metrics.RegisterInstance(inst.vni)
	m.logger.Info("instance created",
		slog.Uint64("vni", uint64(inst.vni)),
		slog.String("port", inst.port.Name()),
		slog.String("group", inst.group.String()),
	)

	return inst.Snapshot(), nil
}

// buildInstance acquires the group membership and the local port.
// Called with ctlMu held.
func (m *Manager) buildInstance(cfg InstanceConfig) (*Instance, error) {
	if m.closed {
		return nil, fmt.Errorf("create instance vni %d: %w", cfg.VNI, ErrManagerClosed)
	}
	if m.registry.Contains(cfg.VNI) {
		return nil, fmt.Errorf("create instance vni %d: %w", cfg.VNI, ErrDuplicateVNI)
	}

	group := m.overlay.Group()
	ownGroup := cfg.Group.IsValid() && cfg.Group.Unmap() != group.Addr()
	if ownGroup {
		addr := cfg.Group.Unmap()
		if err := m.joinGroup(addr); err != nil {
			return nil, fmt.Errorf("create instance vni %d: %w", cfg.VNI, err)
		}
		group = netip.AddrPortFrom(addr, group.Port())
	}

	name := cfg.PortName
	if name == "" {
		name = DefaultPortName(cfg.VNI)
	}

	port, err := m.openPort(name)
	if err != nil {
		if ownGroup {
			m.leaveGroup(group.Addr())
		}
		return nil, fmt.Errorf("create instance vni %d: open port %s: %w", cfg.VNI, name, err)
	}

	return newInstance(cfg.VNI, group, ownGroup, port, m.fdbMax), nil
}

// joinGroup adds a membership for group unless another instance holds it.
func (m *Manager) joinGroup(group netip.Addr) error {
	if m.groups[group] == 0 {
		if err := m.overlay.JoinGroup(group); err != nil {
			return fmt.Errorf("join group %s: %w", group, err)
		}
	}
	m.groups[group]++
	return nil
}

// leaveGroup drops one reference to group and leaves it on the last one.
func (m *Manager) leaveGroup(group netip.Addr) {
	m.groups[group]--
	if m.groups[group] > 0 {
		return
	}
	delete(m.groups, group)

	if err := m.overlay.LeaveGroup(group); err != nil {
		m.logger.Warn("leave group failed",
			slog.String("group", group.String()),
			slog.String("error", err.Error()),
		)
	}
}

// -------------------------------------------------------------------------
// Destroy
// -------------------------------------------------------------------------

// DestroyInstance unpublishes the instance for vni and then releases it.
// Packets already holding the instance finish before the port is closed;
// packets arriving after removal see ErrUnknownVNI.
func (m *Manager) DestroyInstance(_ context.Context, vni VNI) error {
	if !vni.Valid() {
		return fmt.Errorf("destroy instance vni %d: %w", vni, ErrInvalidVNI)
	}

	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	return m.destroyLocked(vni)
}

func (m *Manager) destroyLocked(vni VNI) error {
	inst, ok := m.registry.Remove(vni)
	if !ok {
		return fmt.Errorf("destroy instance vni %d: %w", vni, ErrInstanceNotFound)
	}
	delete(m.declared, vni)

	m.teardown(inst)

	m.logger.Info("instance destroyed", slog.Uint64("vni", uint64(vni)))
	return nil
}

// teardown releases an instance that is no longer in the registry.
func (m *Manager) teardown(inst *Instance) {
	// No new borrow can start once the instance is unpublished.
	inst.inflight.Wait()

	close(inst.stop)
	m.releaseResources(inst)
	<-inst.bridgeDone

	inst.fdb.Flush()
	for _, e := range inst.local.Flush() {
		m.emit(MACEvent{Type: MACWithdrawn, VNI: inst.vni, MAC: e.MAC})
	}

	m.metrics.SetFDBEntries(inst.vni, 0)
	m.metrics.UnregisterInstance(inst.vni)
}

// releaseResources closes the port and drops the group membership.
func (m *Manager) releaseResources(inst *Instance) {
	if err := inst.port.Close(); err != nil {
		m.logger.Warn("close local port failed",
			slog.Uint64("vni", uint64(inst.vni)),
			slog.String("port", inst.port.Name()),
			slog.String("error", err.Error()),
		)
	}
	if inst.ownGroup {
		m.leaveGroup(inst.group.Addr())
	}
}

// -------------------------------------------------------------------------
// Queries
// -------------------------------------------------------------------------

// ListInstances returns snapshots of all instances ordered by VNI.
func (m *Manager) ListInstances() []InstanceSnapshot {
	vnis := m.registry.List()
	out := make([]InstanceSnapshot, 0, len(vnis))
	for _, vni := range vnis {
		inst, ok := m.registry.Lookup(vni)
		if !ok {
			continue
		}
		out = append(out, inst.Snapshot())
		inst.Release()
	}
	return out
}

// ShowInstance returns the snapshot of one instance.
func (m *Manager) ShowInstance(vni VNI) (InstanceSnapshot, error) {
	inst, ok := m.registry.Lookup(vni)
	if !ok {
		return InstanceSnapshot{}, fmt.Errorf("show instance vni %d: %w", vni, ErrInstanceNotFound)
	}
	defer inst.Release()

	return inst.Snapshot(), nil
}

// ListFDB returns the learned entries of one instance, oldest first.
func (m *Manager) ListFDB(vni VNI) ([]FDBEntry, error) {
	inst, ok := m.registry.Lookup(vni)
	if !ok {
		return nil, fmt.Errorf("list fdb vni %d: %w", vni, ErrInstanceNotFound)
	}
	defer inst.Release()

	return inst.fdb.Entries(), nil
}

// FlushFDB clears the learned entries of one instance and returns how
// many were removed.
func (m *Manager) FlushFDB(vni VNI) (int, error) {
	inst, ok := m.registry.Lookup(vni)
	if !ok {
		return 0, fmt.Errorf("flush fdb vni %d: %w", vni, ErrInstanceNotFound)
	}
	defer inst.Release()

	n := len(inst.fdb.Flush())
	m.metrics.SetFDBEntries(vni, 0)
	m.logger.Info("fdb flushed",
		slog.Uint64("vni", uint64(vni)),
		slog.Int("entries", n),
	)
	return n, nil
}

// -------------------------------------------------------------------------
// Reconcile
// -------------------------------------------------------------------------

// ReconcileInstances makes the set of configuration-owned instances match
// desired. Instances created through the API are never touched. Errors
// are accumulated; reconciliation continues for the remaining VNIs.
func (m *Manager) ReconcileInstances(ctx context.Context, desired []InstanceConfig) (int, int, error) {
	want := make(map[VNI]InstanceConfig, len(desired))
	for _, cfg := range desired {
		want[cfg.VNI] = cfg
	}

	m.ctlMu.Lock()
	var stale []VNI
	for vni := range m.declared {
		if _, ok := want[vni]; !ok {
			stale = append(stale, vni)
		}
	}
	m.ctlMu.Unlock()

	var created, destroyed int
	var errs []error

	for _, vni := range stale {
		ok, err := m.destroyDeclared(vni)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile destroy %d: %w", vni, err))
			continue
		}
		if ok {
			destroyed++
		}
	}

	for _, cfg := range desired {
		if m.registry.Contains(cfg.VNI) {
			continue
		}

		m.logger.Info("reconcile: creating instance", slog.Uint64("vni", uint64(cfg.VNI)))
		if _, err := m.createInstance(ctx, cfg, true); err != nil {
			errs = append(errs, fmt.Errorf("reconcile create %d: %w", cfg.VNI, err))
			continue
		}
		created++
	}

	m.logger.Info("instance reconciliation complete",
		slog.Int("created", created),
		slog.Int("destroyed", destroyed),
	)

	return created, destroyed, errors.Join(errs...)
}

// destroyDeclared destroys vni if ReconcileInstances still owns it. An
// instance destroyed through the API in the meantime is skipped.
func (m *Manager) destroyDeclared(vni VNI) (bool, error) {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	if _, ok := m.declared[vni]; !ok {
		return false, nil
	}

	m.logger.Info("reconcile: destroying removed instance", slog.Uint64("vni", uint64(vni)))
	if err := m.destroyLocked(vni); err != nil {
		return false, err
	}
	return true, nil
}

// -------------------------------------------------------------------------
// Lifecycle
// -------------------------------------------------------------------------

// Close destroys every instance and waits for all bridges to exit. After
// Close, CreateInstance fails with ErrManagerClosed. Close is idempotent.
func (m *Manager) Close() {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	vnis := m.registry.List()
	for _, vni := range vnis {
		if err := m.destroyLocked(vni); err != nil {
			m.logger.Warn("destroy on close failed",
				slog.Uint64("vni", uint64(vni)),
				slog.String("error", err.Error()),
			)
		}
	}

	m.bridges.Wait()

	m.logger.Info("manager closed", slog.Int("instances", len(vnis)))
}

// emit publishes a MAC event without blocking the caller.
func (m *Manager) emit(ev MACEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Debug("mac event dropped: channel full",
			slog.Uint64("vni", uint64(ev.VNI)),
			slog.String("mac", ev.MAC.String()),
			slog.String("type", ev.Type.String()),
		)
	}
}
