package vxlan

import "fmt"

// MACEventType distinguishes local MAC appearance from withdrawal.
type MACEventType uint8

const (
	// MACLearned is emitted the first time a source MAC is seen on a
	// local port.
	MACLearned MACEventType = iota + 1

	// MACWithdrawn is emitted when a local MAC ages out or its instance
	// is destroyed.
	MACWithdrawn
)

// String returns the event type name.
func (t MACEventType) String() string {
	switch t {
	case MACLearned:
		return "learned"
	case MACWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("MACEventType(%d)", uint8(t))
	}
}

// MACEvent notifies consumers such as the EVPN exporter about MACs that
// live behind this VTEP.
type MACEvent struct {
	Type MACEventType
	VNI  VNI
	MAC  MAC
}

// defaultEventBuffer is the capacity of the MAC event channel.
const defaultEventBuffer = 256
