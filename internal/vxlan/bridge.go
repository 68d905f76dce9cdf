package vxlan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// runBridge is the reverse path of one instance. It reads frames from the
// local port until the port is closed, goes down or the instance leaves
// the registry. Transient read errors are retried with backoff.
// Each frame is resolved through the registry so the bridge never works
// against an unpublished instance.
func (m *Manager) runBridge(inst *Instance) {
	defer m.bridges.Done()
	defer close(inst.bridgeDone)

	vni, port := inst.vni, inst.port
	logger := m.logger.With(
		slog.Uint64("vni", uint64(vni)),
		slog.String("port", port.Name()),
	)

	buf := make([]byte, MaxFrameSize)
	out := make([]byte, 0, MaxDatagramSize)

	var backoff ReadBackoff

	for {
		n, err := port.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || !m.registry.Contains(vni) {
				logger.Debug("bridge stopped")
				return
			}
			if errors.Is(err, ErrPortDown) {
				inst.faulted.Store(true)
				logger.Error("local port down, bridge stopped", slog.String("error", err.Error()))
				return
			}

			delay := backoff.Fail()
			if backoff.ShouldLog() {
				logger.Warn("read frame failed",
					slog.String("error", err.Error()),
					slog.Int("consecutive_failures", backoff.Failures()),
					slog.Duration("retry_in", delay),
				)
			}
			select {
			case <-inst.stop:
				logger.Debug("bridge stopped")
				return
			case <-time.After(delay):
			}
			continue
		}
		backoff.Reset()

		if !m.forwardFrame(vni, buf[:n], out, logger) {
			logger.Debug("bridge stopped: instance removed")
			return
		}
	}
}

// forwardFrame encapsulates one local frame and sends it to the learned
// remote, or floods it to the instance's group. It returns false when
// the instance is no longer registered.
func (m *Manager) forwardFrame(vni VNI, frame, out []byte, logger *slog.Logger) bool {
	inst, ok := m.registry.Lookup(vni)
	if !ok {
		return false
	}
	defer inst.Release()

	eth, _, err := DecodeEthernetHeader(frame)
	if err != nil {
		inst.dropped.Add(1)
		m.metrics.IncPacketsDropped(DropMalformed)
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			logger.Debug("malformed local frame", slog.String("error", err.Error()))
		}
		return true
	}

	if inst.local.Learn(eth.Src, netip.AddrPort{}) == LearnCreated {
		m.emit(MACEvent{Type: MACLearned, VNI: vni, MAC: eth.Src})
	}

	dst, kind := inst.group, SendFlood
	if !eth.Dst.IsMulticast() {
		if remote, hit := inst.fdb.Lookup(eth.Dst); hit {
			// Remote VTEPs listen on the VXLAN port, not on the source
			// port they sent from.
			dst, kind = netip.AddrPortFrom(remote.Addr(), inst.group.Port()), SendUnicast
		}
	}

	pkt, err := Encapsulate(out[:0], vni, frame)
	if err != nil {
		inst.dropped.Add(1)
		m.metrics.IncPacketsDropped(DropSend)
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			logger.Debug("encapsulate failed", slog.String("error", err.Error()))
		}
		return true
	}

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		logger.Debug("forward frame",
			slog.String("dst", dst.String()),
			slog.String("kind", string(kind)),
			slog.String("layers", FrameSummary(frame)),
		)
	}

	if err := m.overlay.WriteTo(pkt, dst); err != nil {
		inst.dropped.Add(1)
		m.metrics.IncPacketsDropped(DropSend)
		if logger.Enabled(context.Background(), slog.LevelDebug) {
			logger.Debug("overlay send failed",
				slog.String("dst", dst.String()),
				slog.String("error", err.Error()),
			)
		}
		return true
	}

	if kind == SendUnicast {
		inst.txUnicast.Add(1)
	} else {
		inst.txFlood.Add(1)
	}
	m.metrics.IncPacketsSent(vni, kind)

	return true
}

// FrameSummary returns the decoded layer stack of an Ethernet frame, for
// example "Ethernet/IPv4/TCP". It is used for debug logging only.
func FrameSummary(frame []byte) string {
	p := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	var names []string
	for _, l := range p.Layers() {
		names = append(names, l.LayerType().String())
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "/")
}
