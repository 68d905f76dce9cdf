package netio_test

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"slices"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// MockDatagramConn: test double for the overlay read side
// -------------------------------------------------------------------------

// mockDatagram is one scripted ReadFrom result.
type mockDatagram struct {
	data []byte
	src  netip.AddrPort
	err  error
}

// MockDatagramConn feeds scripted datagrams to ReadFrom and honours
// SetReadDeadline(past) and Close the way a UDP socket does.
type MockDatagramConn struct {
	in chan mockDatagram

	mu       sync.Mutex
	expired  chan struct{}
	closed   chan struct{}
	once     sync.Once
	deadline bool
}

func NewMockDatagramConn() *MockDatagramConn {
	return &MockDatagramConn{
		in:      make(chan mockDatagram, 16),
		expired: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Push queues a datagram for ReadFrom.
func (m *MockDatagramConn) Push(data []byte, src netip.AddrPort) {
	m.in <- mockDatagram{data: slices.Clone(data), src: src}
}

// PushErr queues a read error.
func (m *MockDatagramConn) PushErr(err error) {
	m.in <- mockDatagram{err: err}
}

func (m *MockDatagramConn) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	select {
	case <-m.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	case <-m.expired:
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	default:
	}

	select {
	case d := <-m.in:
		if d.err != nil {
			return 0, netip.AddrPort{}, d.err
		}
		return copy(buf, d.data), d.src, nil
	case <-m.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	case <-m.expired:
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	}
}

func (m *MockDatagramConn) SetReadDeadline(t time.Time) error {
	if t.IsZero() || t.After(time.Now()) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.deadline {
		m.deadline = true
		close(m.expired)
	}
	return nil
}

func (m *MockDatagramConn) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

// -------------------------------------------------------------------------
// recordingDemuxer
// -------------------------------------------------------------------------

var errDemuxDrop = errors.New("dropped")

type demuxed struct {
	data []byte
	src  netip.AddrPort
}

// recordingDemuxer records every datagram and optionally fails them.
type recordingDemuxer struct {
	got  chan demuxed
	fail bool
}

func newRecordingDemuxer() *recordingDemuxer {
	return &recordingDemuxer{got: make(chan demuxed, 16)}
}

func (d *recordingDemuxer) HandleDatagram(pkt []byte, src netip.AddrPort) error {
	d.got <- demuxed{data: slices.Clone(pkt), src: src}
	if d.fail {
		return errDemuxDrop
	}
	return nil
}
