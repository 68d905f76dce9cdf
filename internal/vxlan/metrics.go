package vxlan

// SendKind labels how a frame left the bridge.
type SendKind string

// Send kinds.
const (
	SendUnicast SendKind = "unicast"
	SendFlood   SendKind = "flood"
)

// DropReason labels why a packet or frame was discarded.
type DropReason string

// Drop reasons.
const (
	DropMalformed  DropReason = "malformed"
	DropUnknownVNI DropReason = "unknown_vni"
	DropPortWrite  DropReason = "port_write"
	DropSend       DropReason = "overlay_send"
)

// MetricsReporter receives counters from the Manager. The Prometheus
// collector in internal/metrics implements it.
type MetricsReporter interface {
	RegisterInstance(vni VNI)
	UnregisterInstance(vni VNI)
	IncPacketsReceived(vni VNI)
	IncPacketsSent(vni VNI, kind SendKind)
	IncPacketsDropped(reason DropReason)
	SetFDBEntries(vni VNI, n int)
	IncFDBLearned(vni VNI)
	IncFDBMoves(vni VNI)
	AddFDBAged(vni VNI, n int)
}

type noopMetrics struct{}

func (noopMetrics) RegisterInstance(VNI) {}
func (noopMetrics) UnregisterInstance(VNI) {}
func (noopMetrics) IncPacketsReceived(VNI) {}
func (noopMetrics) IncPacketsSent(VNI, SendKind) {}
func (noopMetrics) IncPacketsDropped(DropReason) {}
func (noopMetrics) SetFDBEntries(VNI, int) {}
func (noopMetrics) IncFDBLearned(VNI) {}
func (noopMetrics) IncFDBMoves(VNI) {}
func (noopMetrics) AddFDBAged(VNI, int) {}
