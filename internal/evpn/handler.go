package evpn

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// shutdownWithdrawTimeout bounds the withdrawals sent when Run stops.
const shutdownWithdrawTimeout = 5 * time.Second

// HandlerConfig holds the configuration for a Handler.
type HandlerConfig struct {
	// Client is the GoBGP client.
	Client Client

	// RouteDistinguisher is a fixed RD for every VNI. Empty derives one
	// per VNI from NextHop.
	RouteDistinguisher string

	// NextHop is this VTEP's tunnel endpoint address.
	NextHop netip.Addr

	// Logger is the parent logger. The handler adds its own component tag.
	Logger *slog.Logger
}

// Handler turns local MAC events into GoBGP route updates.
//
// It runs as a single goroutine in the daemon's errgroup and owns the set
// of advertised routes, so a withdrawal is only sent for a route that was
// successfully advertised.
type Handler struct {
	client     Client
	rd         RouteDistinguisher
	fixedRD    bool
	nextHop    netip.Addr
	advertised map[string]MACRoute
	logger     *slog.Logger
}

// NewHandler creates a Handler. It fails if the route distinguisher does
// not parse, or if none is set and NextHop is not IPv4.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	h := &Handler{
		client:     cfg.Client,
		nextHop:    cfg.NextHop,
		advertised: make(map[string]MACRoute),
		logger: cfg.Logger.With(
			slog.String("component", "evpn.handler"),
			slog.String("next_hop", cfg.NextHop.String()),
		),
	}

	if cfg.RouteDistinguisher != "" {
		rd, err := ParseRouteDistinguisher(cfg.RouteDistinguisher)
		if err != nil {
			return nil, fmt.Errorf("new evpn handler: %w", err)
		}
		h.rd = rd
		h.fixedRD = true
		return h, nil
	}

	if err := CheckAutoRouteDistinguisher(cfg.NextHop); err != nil {
		return nil, fmt.Errorf("new evpn handler: %w", err)
	}

	return h, nil
}

// Run consumes MAC events until ctx is cancelled or events is closed, then
// withdraws every route it still has advertised.
//
//	g.Go(func() error {
//	    return handler.Run(gCtx, mgr.MACEvents())
//	})
func (h *Handler) Run(ctx context.Context, events <-chan vxlan.MACEvent) error {
	h.logger.Info("handler started, consuming local MAC events")
	defer h.withdrawAll(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("handler stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				h.logger.Info("MAC event channel closed, handler stopping")
				return nil
			}
			h.handleEvent(ctx, ev)
		}
	}
}

func (h *Handler) route(vni vxlan.VNI, mac vxlan.MAC) MACRoute {
	rd := h.rd
	if !h.fixedRD {
		// NewHandler checked the next hop family.
		rd, _ = AutoRouteDistinguisher(h.nextHop, vni)
	}
	return MACRoute{RD: rd, VNI: vni, MAC: mac, NextHop: h.nextHop}
}

func (h *Handler) handleEvent(ctx context.Context, ev vxlan.MACEvent) {
	r := h.route(ev.VNI, ev.MAC)
	key := r.Key()

	switch ev.Type {
	case vxlan.MACLearned:
		if _, ok := h.advertised[key]; ok {
			return
		}
		if err := h.client.AdvertiseMAC(ctx, r); err != nil {
			h.logger.Error("failed to advertise MAC route",
				slog.String("route", key),
				slog.String("error", err.Error()),
			)
			return
		}
		h.advertised[key] = r

	case vxlan.MACWithdrawn:
		if _, ok := h.advertised[key]; !ok {
			return
		}
		if err := h.client.WithdrawMAC(ctx, r); err != nil {
			h.logger.Error("failed to withdraw MAC route",
				slog.String("route", key),
				slog.String("error", err.Error()),
			)
		}
		delete(h.advertised, key)

	default:
		h.logger.Debug("ignoring MAC event", slog.String("type", ev.Type.String()))
	}
}

// withdrawAll removes every advertised route. It runs after ctx is done, so
// it uses a detached context with its own deadline.
func (h *Handler) withdrawAll(ctx context.Context) {
	if len(h.advertised) == 0 {
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWithdrawTimeout)
	defer cancel()

	for key, r := range h.advertised {
		if err := h.client.WithdrawMAC(wctx, r); err != nil {
			h.logger.Warn("failed to withdraw MAC route on shutdown",
				slog.String("route", key),
				slog.String("error", err.Error()),
			)
		}
		delete(h.advertised, key)
	}
}
