package vxlan

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
)

// HandleDatagram runs one overlay datagram through the receive path:
// decode the VXLAN header, resolve the VNI, learn the inner source MAC
// against src and write the inner frame unchanged to the local port.
//
// Every failure drops the datagram, is logged here and is returned so
// callers can count it. None of them is fatal to the receive loop. pkt is
// not retained after HandleDatagram returns.
func (m *Manager) HandleDatagram(pkt []byte, src netip.AddrPort) error {
	hdr, frame, err := DecodeVXLANHeader(pkt)
	if err != nil {
		m.metrics.IncPacketsDropped(DropMalformed)
		if m.debugEnabled() {
			m.logger.Debug("malformed packet",
				slog.String("src", src.String()),
				slog.Int("len", len(pkt)),
				slog.String("error", err.Error()),
			)
		}
		return err
	}

	inst, ok := m.registry.Lookup(hdr.VNI)
	if !ok {
		m.metrics.IncPacketsDropped(DropUnknownVNI)
		if m.debugEnabled() {
			m.logger.Debug("unknown VNI",
				slog.Uint64("vni", uint64(hdr.VNI)),
				slog.String("src", src.String()),
			)
		}
		return fmt.Errorf("vni %d from %s: %w", hdr.VNI, src, ErrUnknownVNI)
	}
	defer inst.Release()

	eth, _, err := DecodeEthernetHeader(frame)
	if err != nil {
		inst.dropped.Add(1)
		m.metrics.IncPacketsDropped(DropMalformed)
		if m.debugEnabled() {
			m.logger.Debug("malformed inner frame",
				slog.Uint64("vni", uint64(hdr.VNI)),
				slog.String("src", src.String()),
				slog.String("error", err.Error()),
			)
		}
		return err
	}

	m.learnRemote(inst, eth.Src, src)

	if err := inst.port.WriteFrame(frame); err != nil {
		inst.dropped.Add(1)
		m.metrics.IncPacketsDropped(DropPortWrite)
		if m.debugEnabled() {
			m.logger.Debug("local port write failed",
				slog.Uint64("vni", uint64(hdr.VNI)),
				slog.String("port", inst.port.Name()),
				slog.String("error", err.Error()),
			)
		}
		return fmt.Errorf("vni %d: write frame to %s: %w", hdr.VNI, inst.port.Name(), err)
	}

	inst.rx.Add(1)
	m.metrics.IncPacketsReceived(hdr.VNI)

	return nil
}

// learnRemote records mac behind the overlay sender src.
func (m *Manager) learnRemote(inst *Instance, mac MAC, src netip.AddrPort) {
	switch inst.fdb.Learn(mac, src) {
	case LearnCreated:
		m.metrics.IncFDBLearned(inst.vni)
		m.metrics.SetFDBEntries(inst.vni, inst.fdb.Len())
		if m.debugEnabled() {
			m.logger.Debug("mac learned",
				slog.Uint64("vni", uint64(inst.vni)),
				slog.String("mac", mac.String()),
				slog.String("remote", src.String()),
			)
		}
	case LearnMoved:
		m.metrics.IncFDBMoves(inst.vni)
		if m.debugEnabled() {
			m.logger.Debug("mac moved",
				slog.Uint64("vni", uint64(inst.vni)),
				slog.String("mac", mac.String()),
				slog.String("remote", src.String()),
			)
		}
	case LearnRefreshed:
	}
}

// debugEnabled guards per-packet debug logs so their attributes are only
// built when they will be written.
func (m *Manager) debugEnabled() bool {
	return m.logger.Enabled(context.Background(), slog.LevelDebug)
}
