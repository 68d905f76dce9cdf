// Package evpn advertises MAC addresses learned on local ports as EVPN
// type-2 (MAC/IP Advertisement) routes through GoBGP's gRPC API.
//
// Remote VTEPs running a BGP EVPN control plane can then forward unicast
// traffic to this VTEP without first flooding it.
package evpn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -------------------------------------------------------------------------
// Client Interface
// -------------------------------------------------------------------------

// Client abstracts the GoBGP operations needed by the Handler.
type Client interface {
	// AdvertiseMAC adds r to GoBGP's global RIB.
	AdvertiseMAC(ctx context.Context, r MACRoute) error

	// WithdrawMAC removes r from GoBGP's global RIB.
	WithdrawMAC(ctx context.Context, r MACRoute) error

	// Close releases the underlying gRPC connection.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("gobgp client is closed")

	// ErrDialFailed indicates the gRPC dial to GoBGP failed.
	ErrDialFailed = errors.New("gobgp gRPC dial failed")
)

// -------------------------------------------------------------------------
// GRPCClient
// -------------------------------------------------------------------------

// GRPCClient connects to GoBGP's gRPC API and implements Client.
//
// The connection uses insecure credentials; gobgpd's API is normally bound
// to localhost.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewGRPCClient creates a GoBGP client for addr. grpc.NewClient connects
// lazily, so connectivity is only checked by the first RPC.
func NewGRPCClient(addr string, logger *slog.Logger) (*GRPCClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("create gobgp client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client to %s: %w: %w", addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "evpn.client"),
			slog.String("addr", addr),
		),
	}

	client.logger.Info("gobgp gRPC client created")

	return client, nil
}

func (c *GRPCClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// AdvertiseMAC adds a MAC/IP Advertisement route to the global RIB.
func (c *GRPCClient) AdvertiseMAC(ctx context.Context, r MACRoute) error {
	if c.isClosed() {
		return fmt.Errorf("advertise %s: %w", r.Key(), ErrClientClosed)
	}

	path, err := r.path()
	if err != nil {
		return fmt.Errorf("advertise %s: %w", r.Key(), err)
	}

	if _, err := c.api.AddPath(ctx, &apipb.AddPathRequest{
		TableType: apipb.TableType_GLOBAL,
		Path:      path,
	}); err != nil {
		return fmt.Errorf("advertise %s: %w", r.Key(), err)
	}

	c.logger.Debug("advertised MAC route",
		slog.String("route", r.Key()),
		slog.String("rd", r.RD.String()),
	)

	return nil
}

// WithdrawMAC deletes a previously advertised MAC/IP Advertisement route.
func (c *GRPCClient) WithdrawMAC(ctx context.Context, r MACRoute) error {
	if c.isClosed() {
		return fmt.Errorf("withdraw %s: %w", r.Key(), ErrClientClosed)
	}

	path, err := r.path()
	if err != nil {
		return fmt.Errorf("withdraw %s: %w", r.Key(), err)
	}

	if _, err := c.api.DeletePath(ctx, &apipb.DeletePathRequest{
		TableType: apipb.TableType_GLOBAL,
		Family:    evpnFamily(),
		Path:      path,
	}); err != nil {
		return fmt.Errorf("withdraw %s: %w", r.Key(), err)
	}

	c.logger.Debug("withdrew MAC route", slog.String("route", r.Key()))

	return nil
}

// Close releases the underlying gRPC connection. After Close, all methods
// return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp client: %w", err)
	}

	c.logger.Info("gobgp gRPC client closed")

	return nil
}

var _ Client = (*GRPCClient)(nil)
