package vxlan

import (
	"context"
	"log/slog"
	"time"
)

// Aging defaults. The idle timeout matches the Linux bridge default.
const (
	DefaultAgingTime     = 300 * time.Second
	DefaultSweepInterval = 10 * time.Second
)

// RunAging sweeps every instance each interval until ctx is cancelled,
// removing FDB entries idle for longer than idle. The sweep runs apart
// from the packet path and only holds each FDB lock briefly.
func (m *Manager) RunAging(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.AgeOut(now, idle)
		}
	}
}

// AgeOut runs one sweep over all instances and returns the number of
// remote entries removed. Local MACs that age out are withdrawn.
func (m *Manager) AgeOut(now time.Time, idle time.Duration) int {
	var total int

	for _, vni := range m.registry.List() {
		inst, ok := m.registry.Lookup(vni)
		if !ok {
			continue
		}

		if aged := inst.fdb.AgeOut(now, idle); len(aged) > 0 {
			total += len(aged)
			m.metrics.AddFDBAged(vni, len(aged))
			m.metrics.SetFDBEntries(vni, inst.fdb.Len())
			m.logger.Debug("fdb entries aged out",
				slog.Uint64("vni", uint64(vni)),
				slog.Int("count", len(aged)),
			)
		}

		for _, e := range inst.local.AgeOut(now, idle) {
			m.emit(MACEvent{Type: MACWithdrawn, VNI: vni, MAC: e.MAC})
		}

		inst.Release()
	}

	return total
}
