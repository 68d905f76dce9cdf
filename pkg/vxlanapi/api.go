// Package vxlanapi defines the VTEP control API served by govxland over
// ConnectRPC and the typed client used by govxlanctl.
//
// Messages are plain Go structs carried with a JSON codec, so any Connect
// client can drive the daemon with curl:
//
//	curl -H 'Content-Type: application/json' -d '{"vni":100}' \
//	    http://127.0.0.1:50052/govxlan.v1.VtepService/ShowInstance
package vxlanapi

import "time"

// ServiceName is the fully-qualified name of the VTEP service.
const ServiceName = "govxlan.v1.VtepService"

// Procedure paths.
const (
	CreateInstanceProcedure  = "/" + ServiceName + "/CreateInstance"
	DestroyInstanceProcedure = "/" + ServiceName + "/DestroyInstance"
	ListInstancesProcedure   = "/" + ServiceName + "/ListInstances"
	ShowInstanceProcedure    = "/" + ServiceName + "/ShowInstance"
	ListFDBProcedure         = "/" + ServiceName + "/ListFDB"
	FlushFDBProcedure        = "/" + ServiceName + "/FlushFDB"
)

// Instance describes one running VXLAN instance.
type Instance struct {
	VNI                uint32    `json:"vni"                  yaml:"vni"`
	PortName           string    `json:"port_name"            yaml:"port_name"`
	Group              string    `json:"group"                yaml:"group"`
	FDBEntries         int       `json:"fdb_entries"          yaml:"fdb_entries"`
	LocalMACs          int       `json:"local_macs"           yaml:"local_macs"`
	CreatedAt          time.Time `json:"created_at"           yaml:"created_at"`
	PacketsReceived    uint64    `json:"packets_received"     yaml:"packets_received"`
	PacketsSentUnicast uint64    `json:"packets_sent_unicast" yaml:"packets_sent_unicast"`
	PacketsSentFlood   uint64    `json:"packets_sent_flood"   yaml:"packets_sent_flood"`
	PacketsDropped     uint64    `json:"packets_dropped"      yaml:"packets_dropped"`
	// Faulted is set once the local port has gone away. The instance must
	// be destroyed and created again.
	Faulted bool `json:"faulted,omitempty" yaml:"faulted,omitempty"`
}

// FDBEntry is one learned remote MAC address.
type FDBEntry struct {
	MAC      string    `json:"mac"       yaml:"mac"`
	Remote   string    `json:"remote"    yaml:"remote"`
	LastSeen time.Time `json:"last_seen" yaml:"last_seen"`
}

// CreateInstanceRequest creates an instance. Group and PortName are
// optional; empty values select the daemon's overlay group and "vxlan<VNI>".
type CreateInstanceRequest struct {
	VNI      uint32 `json:"vni"`
	Group    string `json:"group,omitempty"`
	PortName string `json:"port_name,omitempty"`
}

// CreateInstanceResponse carries the newly created instance.
type CreateInstanceResponse struct {
	Instance Instance `json:"instance"`
}

// DestroyInstanceRequest names the instance to destroy.
type DestroyInstanceRequest struct {
	VNI uint32 `json:"vni"`
}

// DestroyInstanceResponse is empty; success is the absence of an error.
type DestroyInstanceResponse struct{}

// ListInstancesRequest has no parameters.
type ListInstancesRequest struct{}

// ListInstancesResponse holds every instance ordered by VNI.
type ListInstancesResponse struct {
	Instances []Instance `json:"instances"`
}

// ShowInstanceRequest names one instance.
type ShowInstanceRequest struct {
	VNI uint32 `json:"vni"`
}

// ShowInstanceResponse carries the requested instance.
type ShowInstanceResponse struct {
	Instance Instance `json:"instance"`
}

// ListFDBRequest names the instance whose FDB is listed.
type ListFDBRequest struct {
	VNI uint32 `json:"vni"`
}

// ListFDBResponse holds the learned entries, oldest first.
type ListFDBResponse struct {
	Entries []FDBEntry `json:"entries"`
}

// FlushFDBRequest names the instance whose FDB is cleared.
type FlushFDBRequest struct {
	VNI uint32 `json:"vni"`
}

// FlushFDBResponse reports how many entries were removed.
type FlushFDBResponse struct {
	Flushed int `json:"flushed"`
}
