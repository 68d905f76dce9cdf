package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dantte-lp/govxlan/internal/server"
	"github.com/dantte-lp/govxlan/internal/vxlan"
	"github.com/dantte-lp/govxlan/pkg/vxlanapi"
)

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

// stubPort is a LocalPort whose reads block until Close.
type stubPort struct {
	name   string
	closed chan struct{}
	once   sync.Once
}

func (p *stubPort) Name() string { return p.name }

func (p *stubPort) ReadFrame([]byte) (int, error) {
	<-p.closed
	return 0, io.EOF
}

func (p *stubPort) WriteFrame([]byte) error { return nil }

func (p *stubPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func openStubPort(name string) (vxlan.LocalPort, error) {
	return &stubPort{name: name, closed: make(chan struct{})}, nil
}

// stubOverlay discards sends and accepts every membership.
type stubOverlay struct{}

func (stubOverlay) WriteTo([]byte, netip.AddrPort) error { return nil }
func (stubOverlay) Group() netip.AddrPort { return netip.MustParseAddrPort("239.1.1.1:4789") }
func (stubOverlay) JoinGroup(netip.Addr) error { return nil }
func (stubOverlay) LeaveGroup(netip.Addr) error { return nil }

// setupTestServer creates a real HTTP server backed by a vxlan.Manager and
// returns a client connected to it. Everything is torn down when the test
// finishes.
func setupTestServer(t *testing.T, opts ...connect.HandlerOption) (vxlanapi.VtepServiceClient, *vxlan.Manager) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	mgr := vxlan.NewManager(stubOverlay{}, openStubPort, logger)
	t.Cleanup(mgr.Close)

	path, handler := server.New(mgr, logger, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return vxlanapi.NewVtepServiceClient(srv.Client(), srv.URL), mgr
}

func requireCode(t *testing.T, err error, want connect.Code) {
	t.Helper()

	require.Error(t, err)

	var connectErr *connect.Error
	require.True(t, errors.As(err, &connectErr), "expected connect.Error, got %T: %v", err, err)
	assert.Equal(t, want, connectErr.Code())
}

// -------------------------------------------------------------------------
// CreateInstance
// -------------------------------------------------------------------------

func TestCreateInstance(t *testing.T) {
	t.Parallel()

	client, _ := setupTestServer(t)

	resp, err := client.CreateInstance(context.Background(), connect.NewRequest(&vxlanapi.CreateInstanceRequest{
		VNI: 100,
	}))
	require.NoError(t, err)

	inst := resp.Msg.Instance
	assert.Equal(t, uint32(100), inst.VNI)
	assert.Equal(t, "vxlan100", inst.PortName)
	assert.Equal(t, "239.1.1.1:4789", inst.Group)
	assert.Zero(t, inst.FDBEntries)
	assert.False(t, inst.CreatedAt.IsZero())
}

func TestCreateInstanceWithOverrides(t *testing.T) {
	t.Parallel()

	client, _ := setupTestServer(t)

	resp, err := client.CreateInstance(context.Background(), connect.NewRequest(&vxlanapi.CreateInstanceRequest{
		VNI:      7,
		Group:    "239.9.9.9",
		PortName: "tap7",
	}))
	require.NoError(t, err)
	assert.Equal(t, "tap7", resp.Msg.Instance.PortName)
	assert.Equal(t, "239.9.9.9:4789", resp.Msg.Instance.Group)
}

func TestCreateInstanceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *vxlanapi.CreateInstanceRequest
		want connect.Code
	}{
		{
			name: "vni out of range",
			req:  &vxlanapi.CreateInstanceRequest{VNI: 1 << 24},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "unicast group",
			req:  &vxlanapi.CreateInstanceRequest{VNI: 1, Group: "192.0.2.1"},
			want: connect.CodeInvalidArgument,
		},
		{
			name: "port name too long",
			req:  &vxlanapi.CreateInstanceRequest{VNI: 1, PortName: "a-very-long-interface-name"},
			want: connect.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, _ := setupTestServer(t)
			_, err := client.CreateInstance(context.Background(), connect.NewRequest(tt.req))
			requireCode(t, err, tt.want)
		})
	}
}

func TestCreateInstanceDuplicate(t *testing.T) {
	t.Parallel()

	client, _ := setupTestServer(t)
	ctx := context.Background()

	_, err := client.CreateInstance(ctx, connect.NewRequest(&vxlanapi.CreateInstanceRequest{VNI: 5}))
	require.NoError(t, err)

	_, err = client.CreateInstance(ctx, connect.NewRequest(&vxlanapi.CreateInstanceRequest{VNI: 5}))
	requireCode(t, err, connect.CodeAlreadyExists)
}

func TestCreateInstanceAfterClose(t *testing.T) {
	t.Parallel()

	client, mgr := setupTestServer(t)
	mgr.Close()

	_, err := client.CreateInstance(context.Background(), connect.NewRequest(&vxlanapi.CreateInstanceRequest{VNI: 5}))
	requireCode(t, err, connect.CodeUnavailable)
}

// -------------------------------------------------------------------------
// DestroyInstance / ShowInstance / ListInstances
// -------------------------------------------------------------------------

func TestDestroyInstance(t *testing.T) {
	t.Parallel()

	client, mgr := setupTestServer(t)
	ctx := context.Background()

	_, err := client.CreateInstance(ctx, connect.NewRequest(&vxlanapi.CreateInstanceRequest{VNI: 9}))
	require.NoError(t, err)

	_, err = client.DestroyInstance(ctx, connect.NewRequest(&vxlanapi.DestroyInstanceRequest{VNI: 9}))
	require.NoError(t, err)
	assert.False(t, mgr.Registry().Contains(9))

	_, err = client.DestroyInstance(ctx, connect.NewRequest(&vxlanapi.DestroyInstanceRequest{VNI: 9}))
	requireCode(t, err, connect.CodeNotFound)
}

func TestShowInstanceNotFound(t *testing.T) {
	t.Parallel()

	client, _ := setupTestServer(t)

	_, err := client.ShowInstance(context.Background(), connect.NewRequest(&vxlanapi.ShowInstanceRequest{VNI: 77}))
	requireCode(t, err, connect.CodeNotFound)
}

func TestListInstancesSorted(t *testing.T) {
	t.Parallel()

	client, _ := setupTestServer(t)
	ctx := context.Background()

	for _, vni := range []uint32{30, 10, 20} {
		_, err := client.CreateInstance(ctx, connect.NewRequest(&vxlanapi.CreateInstanceRequest{VNI: vni}))
		require.NoError(t, err)
	}

	resp, err := client.ListInstances(ctx, connect.NewRequest(&vxlanapi.ListInstancesRequest{}))
	require.NoError(t, err)

	got := make([]uint32, 0, len(resp.Msg.Instances))
	for _, inst := range resp.Msg.Instances {
		got = append(got, inst.VNI)
	}
	assert.Equal(t, []uint32{10, 20, 30}, got)
}

func TestListInstancesEmpty(t *testing.T) {
	t.Parallel()

	client, _ := setupTestServer(t)

	resp, err := client.ListInstances(context.Background(), connect.NewRequest(&vxlanapi.ListInstancesRequest{}))
	require.NoError(t, err)
	assert.Empty(t, resp.Msg.Instances)
}

// -------------------------------------------------------------------------
// FDB
// -------------------------------------------------------------------------

func TestListAndFlushFDB(t *testing.T) {
	t.Parallel()

	client, mgr := setupTestServer(t)
	ctx := context.Background()

	_, err := client.CreateInstance(ctx, connect.NewRequest(&vxlanapi.CreateInstanceRequest{VNI: 3}))
	require.NoError(t, err)

	inst, ok := mgr.Registry().Lookup(3)
	require.True(t, ok)
	mac, err := vxlan.ParseMAC("02:00:00:00:00:01")
	require.NoError(t, err)
	inst.FDB().Learn(mac, netip.MustParseAddrPort("192.0.2.10:4789"))
	inst.Release()

	listed, err := client.ListFDB(ctx, connect.NewRequest(&vxlanapi.ListFDBRequest{VNI: 3}))
	require.NoError(t, err)
	require.Len(t, listed.Msg.Entries, 1)
	assert.Equal(t, "02:00:00:00:00:01", listed.Msg.Entries[0].MAC)
	assert.Equal(t, "192.0.2.10:4789", listed.Msg.Entries[0].Remote)

	flushed, err := client.FlushFDB(ctx, connect.NewRequest(&vxlanapi.FlushFDBRequest{VNI: 3}))
	require.NoError(t, err)
	assert.Equal(t, 1, flushed.Msg.Flushed)

	listed, err = client.ListFDB(ctx, connect.NewRequest(&vxlanapi.ListFDBRequest{VNI: 3}))
	require.NoError(t, err)
	assert.Empty(t, listed.Msg.Entries)
}

func TestFDBUnknownInstance(t *testing.T) {
	t.Parallel()

	client, _ := setupTestServer(t)
	ctx := context.Background()

	_, err := client.ListFDB(ctx, connect.NewRequest(&vxlanapi.ListFDBRequest{VNI: 1}))
	requireCode(t, err, connect.CodeNotFound)

	_, err = client.FlushFDB(ctx, connect.NewRequest(&vxlanapi.FlushFDBRequest{VNI: 1}))
	requireCode(t, err, connect.CodeNotFound)
}
