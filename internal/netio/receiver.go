package netio

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// Demuxer routes one overlay datagram to its instance. vxlan.Manager
// implements it and logs its own drops.
type Demuxer interface {
	HandleDatagram(pkt []byte, src netip.AddrPort) error
}

// DatagramReader is the read side of the overlay socket.
type DatagramReader interface {
	ReadFrom(buf []byte) (int, netip.AddrPort, error)
	SetReadDeadline(t time.Time) error
}

// Receiver is the overlay receive loop. It blocks on the socket, hands
// each datagram to the Demuxer and goes back to waiting. Per-datagram
// failures never stop the loop; repeated read errors are retried with
// backoff.
type Receiver struct {
	demuxer Demuxer
	logger  *slog.Logger
}

// NewReceiver creates a Receiver that routes datagrams to demuxer.
func NewReceiver(demuxer Demuxer, logger *slog.Logger) *Receiver {
	return &Receiver{
		demuxer: demuxer,
		logger:  logger.With(slog.String("component", "netio.receiver")),
	}
}

// Run reads from conn until ctx is cancelled or conn is closed. On
// cancellation the read deadline is moved to now so the blocked read
// returns; the socket itself stays open for the caller to close after
// the instances are gone.
func (r *Receiver) Run(ctx context.Context, conn DatagramReader) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	bufp, _ := vxlan.PacketPool.Get().(*[]byte)
	defer vxlan.PacketPool.Put(bufp)
	buf := *bufp

	r.logger.Info("receive loop started")

	var backoff vxlan.ReadBackoff

	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Info("receive loop stopped")
				return nil
			}

			delay := backoff.Fail()
			if backoff.ShouldLog() {
				r.logger.Warn("recv error",
					slog.String("error", err.Error()),
					slog.Int("consecutive_failures", backoff.Failures()),
					slog.Duration("retry_in", delay),
				)
			}
			select {
			case <-ctx.Done():
				r.logger.Info("receive loop stopped")
				return nil
			case <-time.After(delay):
			}
			continue
		}
		backoff.Reset()

		// Drops are logged and counted by the demuxer.
		_ = r.demuxer.HandleDatagram(buf[:n], src)
	}
}
