// Package vxlan implements the VXLAN tunnel endpoint core (RFC 7348).
//
// This includes the header codec, the per-VNI forwarding database with
// MAC learning and aging, the VNI registry shared by the packet path and
// the control plane, the overlay dispatch state machine, and the local
// port bridge that encapsulates frames towards remote VTEPs.
package vxlan
