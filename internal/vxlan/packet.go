package vxlan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

// -------------------------------------------------------------------------
// Wire Constants: RFC 7348 Section 5
// -------------------------------------------------------------------------

const (
	// HeaderSize is the fixed VXLAN header size in bytes.
	HeaderSize = 8

	// EthernetHeaderSize is the size of an untagged Ethernet II header:
	// destination MAC, source MAC and EtherType.
	EthernetHeaderSize = 14

	// DefaultPort is the IANA-assigned VXLAN UDP destination port.
	DefaultPort uint16 = 4789

	// MaxVNI is the largest VNI representable in the 24-bit field.
	MaxVNI VNI = 0x00FFFFFF

	// MaxDatagramSize bounds the UDP payload read from the overlay socket.
	// Large enough for a 9000-byte jumbo inner frame plus the VXLAN header.
	MaxDatagramSize = 9216

	// MaxFrameSize bounds a single frame read from the local port.
	MaxFrameSize = MaxDatagramSize - HeaderSize

	// flagVNI is the I flag. It MUST be set for a valid VNI.
	flagVNI uint8 = 0x08
)

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

var (
	// ErrMalformedPacket indicates an undersized or ill-flagged datagram.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrInvalidVNI indicates a VNI outside the 24-bit range.
	ErrInvalidVNI = errors.New("VNI exceeds 24-bit range")

	// ErrInvalidMAC indicates a MAC address that is not 6 bytes long.
	ErrInvalidMAC = errors.New("invalid MAC address")
)

// -------------------------------------------------------------------------
// VNI
// -------------------------------------------------------------------------

// VNI is a 24-bit VXLAN Network Identifier.
type VNI uint32

// Valid reports whether v fits into the 24-bit VNI field.
func (v VNI) Valid() bool {
	return v <= MaxVNI
}

// String returns the decimal form of the VNI.
func (v VNI) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// ParseVNI parses a decimal or 0x-prefixed hexadecimal VNI and checks
// that it fits into 24 bits.
func ParseVNI(s string) (VNI, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parse VNI %q: %w", s, err)
	}

	vni := VNI(n)
	if !vni.Valid() {
		return 0, fmt.Errorf("parse VNI %q: %w", s, ErrInvalidVNI)
	}

	return vni, nil
}

// -------------------------------------------------------------------------
// MAC
// -------------------------------------------------------------------------

// MAC is a 48-bit Ethernet address. It is comparable and usable as a map key.
type MAC [6]byte

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC parses a 48-bit MAC address in any form accepted by net.ParseMAC.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, fmt.Errorf("parse MAC %q: %w", s, err)
	}
	if len(hw) != len(MAC{}) {
		return MAC{}, fmt.Errorf("parse MAC %q: %w", s, ErrInvalidMAC)
	}

	var m MAC
	copy(m[:], hw)
	return m, nil
}

// String returns the colon-separated lower-case form.
func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsMulticast reports whether the group bit is set. Broadcast is a
// multicast address under this definition.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// -------------------------------------------------------------------------
// VXLAN Header
// -------------------------------------------------------------------------
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|R|R|R|R|I|R|R|R|            Reserved                           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                VXLAN Network Identifier (VNI) |   Reserved    |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

// Header is a decoded VXLAN header. Reserved fields are not retained.
type Header struct {
	// Flags is the raw flags byte. The I flag is always set on a
	// successfully decoded header.
	Flags uint8

	// VNI is the 24-bit network identifier.
	VNI VNI
}

// DecodeVXLANHeader parses the 8-byte VXLAN header at the start of buf
// and returns it together with the bytes that follow it. The returned
// slice aliases buf.
func DecodeVXLANHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: vxlan header needs %d bytes, got %d",
			ErrMalformedPacket, HeaderSize, len(buf))
	}
	if buf[0]&flagVNI == 0 {
		return Header{}, nil, fmt.Errorf("%w: vxlan I flag not set (flags=%#02x)",
			ErrMalformedPacket, buf[0])
	}

	// VNI occupies the top 24 bits of the second 32-bit word.
	vni := VNI(binary.BigEndian.Uint32(buf[4:8]) >> 8)

	return Header{Flags: buf[0], VNI: vni}, buf[HeaderSize:], nil
}

// PutVXLANHeader writes the header for vni into buf[:HeaderSize] with the
// I flag set and all reserved bits cleared.
func PutVXLANHeader(buf []byte, vni VNI) error {
	if !vni.Valid() {
		return fmt.Errorf("encode vxlan header vni=%d: %w", vni, ErrInvalidVNI)
	}
	if len(buf) < HeaderSize {
		return fmt.Errorf("encode vxlan header: buffer %d bytes: %w", len(buf), ErrMalformedPacket)
	}

	buf[0] = flagVNI
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.BigEndian.PutUint32(buf[4:8], uint32(vni)<<8)

	return nil
}

// EncodeVXLANHeader returns a freshly allocated 8-byte header for vni.
func EncodeVXLANHeader(vni VNI) ([]byte, error) {
	buf := make([]byte, HeaderSize)
	if err := PutVXLANHeader(buf, vni); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encapsulate appends a VXLAN header for vni followed by frame to dst
// and returns the extended slice. Pass dst[:0] to reuse a buffer.
func Encapsulate(dst []byte, vni VNI, frame []byte) ([]byte, error) {
	var hdr [HeaderSize]byte
	if err := PutVXLANHeader(hdr[:], vni); err != nil {
		return dst, err
	}

	dst = append(dst, hdr[:]...)
	return append(dst, frame...), nil
}

// -------------------------------------------------------------------------
// Ethernet Header
// -------------------------------------------------------------------------

// EthernetHeader holds the fields of an Ethernet II header that the
// forwarding logic inspects.
type EthernetHeader struct {
	Dst       MAC
	Src       MAC
	EtherType uint16
}

// DecodeEthernetHeader parses the 14-byte Ethernet header at the start of
// buf and returns it with the remaining payload. 802.1Q tags are left in
// the payload; only the MAC fields matter for forwarding.
func DecodeEthernetHeader(buf []byte) (EthernetHeader, []byte, error) {
	if len(buf) < EthernetHeaderSize {
		return EthernetHeader{}, nil, fmt.Errorf("%w: ethernet header needs %d bytes, got %d",
			ErrMalformedPacket, EthernetHeaderSize, len(buf))
	}

	var h EthernetHeader
	copy(h.Dst[:], buf[0:6])
	copy(h.Src[:], buf[6:12])
	h.EtherType = binary.BigEndian.Uint16(buf[12:14])

	return h, buf[EthernetHeaderSize:], nil
}

// -------------------------------------------------------------------------
// Buffer Pool
// -------------------------------------------------------------------------

// PacketPool recycles MaxDatagramSize buffers between overlay reads.
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxDatagramSize)
		return &buf
	},
}
