// Package server implements the ConnectRPC control API of the VTEP daemon.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/dantte-lp/govxlan/internal/netio"
	"github.com/dantte-lp/govxlan/internal/vxlan"
	"github.com/dantte-lp/govxlan/pkg/vxlanapi"
)

// maxPortNameLen is IFNAMSIZ minus the terminating NUL.
const maxPortNameLen = 15

// errPortNameTooLong indicates a requested interface name exceeds IFNAMSIZ.
var errPortNameTooLong = errors.New("port name too long")

// InstanceManager is the subset of vxlan.Manager the API drives.
type InstanceManager interface {
	CreateInstance(ctx context.Context, cfg vxlan.InstanceConfig) (vxlan.InstanceSnapshot, error)
	DestroyInstance(ctx context.Context, vni vxlan.VNI) error
	ListInstances() []vxlan.InstanceSnapshot
	ShowInstance(vni vxlan.VNI) (vxlan.InstanceSnapshot, error)
	ListFDB(vni vxlan.VNI) ([]vxlan.FDBEntry, error)
	FlushFDB(vni vxlan.VNI) (int, error)
}

// VTEPServer implements vxlanapi.VtepServiceHandler.
//
// Each RPC validates its arguments and delegates to the InstanceManager.
// Domain errors are mapped to Connect codes by connectError.
type VTEPServer struct {
	mgr    InstanceManager
	logger *slog.Logger
}

// verify interface compliance at compile time.
var _ vxlanapi.VtepServiceHandler = (*VTEPServer)(nil)

// New creates a VTEPServer and returns the HTTP handler and its mount path.
func New(mgr InstanceManager, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	srv := &VTEPServer{
		mgr:    mgr,
		logger: logger.With(slog.String("component", "server")),
	}
	return vxlanapi.NewVtepServiceHandler(srv, opts...)
}

// CreateInstance creates a new VXLAN instance.
func (s *VTEPServer) CreateInstance(
	ctx context.Context,
	req *connect.Request[vxlanapi.CreateInstanceRequest],
) (*connect.Response[vxlanapi.CreateInstanceResponse], error) {
	msg := req.Msg

	cfg := vxlan.InstanceConfig{
		VNI:      vxlan.VNI(msg.VNI),
		PortName: msg.PortName,
	}
	if !cfg.VNI.Valid() {
		return nil, connectError(fmt.Errorf("vni %d: %w", msg.VNI, vxlan.ErrInvalidVNI))
	}
	if len(msg.PortName) > maxPortNameLen {
		return nil, connectError(fmt.Errorf("%w: %q exceeds %d bytes", errPortNameTooLong, msg.PortName, maxPortNameLen))
	}

	if msg.Group != "" {
		group, err := netio.ResolveGroup(ctx, msg.Group)
		if err != nil {
			return nil, connectError(err)
		}
		cfg.Group = group

		s.logger.DebugContext(ctx, "group resolved",
			slog.String("group", msg.Group),
			slog.String("addr", group.String()),
		)
	}

	snap, err := s.mgr.CreateInstance(ctx, cfg)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&vxlanapi.CreateInstanceResponse{
		Instance: instanceToAPI(snap),
	}), nil
}

// DestroyInstance removes an instance and releases its port.
func (s *VTEPServer) DestroyInstance(
	ctx context.Context,
	req *connect.Request[vxlanapi.DestroyInstanceRequest],
) (*connect.Response[vxlanapi.DestroyInstanceResponse], error) {
	if err := s.mgr.DestroyInstance(ctx, vxlan.VNI(req.Msg.VNI)); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&vxlanapi.DestroyInstanceResponse{}), nil
}

// ListInstances returns all instances in ascending VNI order.
func (s *VTEPServer) ListInstances(
	_ context.Context,
	_ *connect.Request[vxlanapi.ListInstancesRequest],
) (*connect.Response[vxlanapi.ListInstancesResponse], error) {
	snaps := s.mgr.ListInstances()

	out := make([]vxlanapi.Instance, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, instanceToAPI(snap))
	}

	return connect.NewResponse(&vxlanapi.ListInstancesResponse{Instances: out}), nil
}

// ShowInstance returns one instance.
func (s *VTEPServer) ShowInstance(
	_ context.Context,
	req *connect.Request[vxlanapi.ShowInstanceRequest],
) (*connect.Response[vxlanapi.ShowInstanceResponse], error) {
	snap, err := s.mgr.ShowInstance(vxlan.VNI(req.Msg.VNI))
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&vxlanapi.ShowInstanceResponse{Instance: instanceToAPI(snap)}), nil
}

// ListFDB returns the learned remote MACs of one instance.
func (s *VTEPServer) ListFDB(
	_ context.Context,
	req *connect.Request[vxlanapi.ListFDBRequest],
) (*connect.Response[vxlanapi.ListFDBResponse], error) {
	entries, err := s.mgr.ListFDB(vxlan.VNI(req.Msg.VNI))
	if err != nil {
		return nil, connectError(err)
	}

	out := make([]vxlanapi.FDBEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, vxlanapi.FDBEntry{
			MAC:      e.MAC.String(),
			Remote:   e.Remote.String(),
			LastSeen: e.LastSeen,
		})
	}

	return connect.NewResponse(&vxlanapi.ListFDBResponse{Entries: out}), nil
}

// FlushFDB drops every learned remote MAC of one instance.
func (s *VTEPServer) FlushFDB(
	_ context.Context,
	req *connect.Request[vxlanapi.FlushFDBRequest],
) (*connect.Response[vxlanapi.FlushFDBResponse], error) {
	n, err := s.mgr.FlushFDB(vxlan.VNI(req.Msg.VNI))
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&vxlanapi.FlushFDBResponse{Flushed: n}), nil
}

// -------------------------------------------------------------------------
// Conversion helpers
// -------------------------------------------------------------------------

func instanceToAPI(s vxlan.InstanceSnapshot) vxlanapi.Instance {
	return vxlanapi.Instance{
		VNI:                uint32(s.VNI),
		PortName:           s.PortName,
		Group:              s.Group.String(),
		FDBEntries:         s.FDBEntries,
		LocalMACs:          s.LocalMACs,
		CreatedAt:          s.CreatedAt,
		PacketsReceived:    s.PacketsReceived,
		PacketsSentUnicast: s.PacketsSentUnicast,
		PacketsSentFlood:   s.PacketsSentFlood,
		PacketsDropped:     s.PacketsDropped,
		Faulted:            s.Faulted,
	}
}

// connectError maps domain errors to Connect error codes.
func connectError(err error) *connect.Error {
	switch {
	case errors.Is(err, vxlan.ErrInvalidVNI),
		errors.Is(err, errPortNameTooLong),
		errors.Is(err, netio.ErrAddressResolution),
		errors.Is(err, netio.ErrInterfaceNotFound),
		errors.Is(err, netio.ErrFamilyMismatch):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, vxlan.ErrDuplicateVNI):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, vxlan.ErrInstanceNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, netio.ErrSocketSetup),
		errors.Is(err, vxlan.ErrManagerClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
