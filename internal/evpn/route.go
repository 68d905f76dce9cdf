package evpn

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// tunnelTypeVXLAN is the BGP Encapsulation extended community value for
// VXLAN (RFC 8365 Section 5.1.3).
const tunnelTypeVXLAN = 8

// originIGP is the ORIGIN attribute value for IGP.
const originIGP = 0

var (
	// ErrInvalidRouteDistinguisher indicates a malformed route distinguisher.
	ErrInvalidRouteDistinguisher = errors.New("invalid route distinguisher")

	// ErrAutoRouteDistinguisher indicates a per-VNI RD cannot be derived
	// from the next hop. Type 1 RDs carry an IPv4 administrator only.
	ErrAutoRouteDistinguisher = errors.New("auto route distinguisher needs an IPv4 next hop")
)

// -------------------------------------------------------------------------
// Route Distinguisher
// -------------------------------------------------------------------------

// rdKind is the RFC 4364 route distinguisher type.
type rdKind uint8

const (
	rdTwoOctetASN rdKind = iota
	rdIPAddress
	rdFourOctetASN
)

// RouteDistinguisher is an RFC 4364 route distinguisher.
type RouteDistinguisher struct {
	kind     rdKind
	asn      uint32
	ip       netip.Addr
	assigned uint32
}

// ParseRouteDistinguisher parses "ASN:NN" or "IPv4:NN". ASNs above 65535
// select the four-octet form.
func ParseRouteDistinguisher(s string) (RouteDistinguisher, error) {
	admin, num, ok := strings.Cut(s, ":")
	if !ok {
		return RouteDistinguisher{}, fmt.Errorf("%w: %q", ErrInvalidRouteDistinguisher, s)
	}

	if ip, err := netip.ParseAddr(admin); err == nil {
		if !ip.Is4() {
			return RouteDistinguisher{}, fmt.Errorf("%w: %q: admin must be IPv4", ErrInvalidRouteDistinguisher, s)
		}
		assigned, err := strconv.ParseUint(num, 10, 16)
		if err != nil {
			return RouteDistinguisher{}, fmt.Errorf("%w: %q: %w", ErrInvalidRouteDistinguisher, s, err)
		}
		return RouteDistinguisher{kind: rdIPAddress, ip: ip, assigned: uint32(assigned)}, nil
	}

	asn, err := strconv.ParseUint(admin, 10, 32)
	if err != nil {
		return RouteDistinguisher{}, fmt.Errorf("%w: %q: %w", ErrInvalidRouteDistinguisher, s, err)
	}

	if asn <= 0xFFFF {
		assigned, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			return RouteDistinguisher{}, fmt.Errorf("%w: %q: %w", ErrInvalidRouteDistinguisher, s, err)
		}
		return RouteDistinguisher{kind: rdTwoOctetASN, asn: uint32(asn), assigned: uint32(assigned)}, nil
	}

	assigned, err := strconv.ParseUint(num, 10, 16)
	if err != nil {
		return RouteDistinguisher{}, fmt.Errorf("%w: %q: %w", ErrInvalidRouteDistinguisher, s, err)
	}
	return RouteDistinguisher{kind: rdFourOctetASN, asn: uint32(asn), assigned: uint32(assigned)}, nil
}

// AutoRouteDistinguisher derives "<nextHop>:<vni>" with the VNI truncated
// to the 16-bit assigned number field. nextHop must be IPv4 (or
// IPv4-mapped IPv6).
func AutoRouteDistinguisher(nextHop netip.Addr, vni vxlan.VNI) (RouteDistinguisher, error) {
	ip := nextHop.Unmap()
	if !ip.Is4() {
		return RouteDistinguisher{}, fmt.Errorf("%w: %s", ErrAutoRouteDistinguisher, nextHop)
	}
	return RouteDistinguisher{kind: rdIPAddress, ip: ip, assigned: uint32(vni) & 0xFFFF}, nil
}

// CheckAutoRouteDistinguisher reports whether per-VNI RDs can be derived
// from nextHop.
func CheckAutoRouteDistinguisher(nextHop netip.Addr) error {
	_, err := AutoRouteDistinguisher(nextHop, 0)
	return err
}

// String returns the "admin:assigned" form.
func (rd RouteDistinguisher) String() string {
	if rd.kind == rdIPAddress {
		return fmt.Sprintf("%s:%d", rd.ip, rd.assigned)
	}
	return fmt.Sprintf("%d:%d", rd.asn, rd.assigned)
}

func (rd RouteDistinguisher) marshal() (*anypb.Any, error) {
	var msg proto.Message
	switch rd.kind {
	case rdIPAddress:
		msg = &apipb.RouteDistinguisherIPAddress{Admin: rd.ip.String(), Assigned: rd.assigned}
	case rdFourOctetASN:
		msg = &apipb.RouteDistinguisherFourOctetASN{Admin: rd.asn, Assigned: rd.assigned}
	default:
		msg = &apipb.RouteDistinguisherTwoOctetASN{Admin: rd.asn, Assigned: rd.assigned}
	}
	return anypb.New(msg)
}

// -------------------------------------------------------------------------
// MAC Route
// -------------------------------------------------------------------------

// MACRoute is an EVPN type-2 route for one locally attached MAC.
type MACRoute struct {
	RD      RouteDistinguisher
	VNI     vxlan.VNI
	MAC     vxlan.MAC
	NextHop netip.Addr
}

// Key identifies the route for withdraw bookkeeping.
func (r MACRoute) Key() string {
	return r.VNI.String() + "/" + r.MAC.String()
}

// evpnFamily is L2VPN/EVPN.
func evpnFamily() *apipb.Family {
	return &apipb.Family{Afi: apipb.Family_AFI_L2VPN, Safi: apipb.Family_SAFI_EVPN}
}

// path builds the GoBGP path for r: a MAC/IP Advertisement NLRI with zero
// ESI, ethernet tag 0, the VNI as label, and the ORIGIN, NEXT_HOP and
// VXLAN encapsulation attributes.
func (r MACRoute) path() (*apipb.Path, error) {
	rd, err := r.RD.marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal rd: %w", err)
	}

	nlri, err := anypb.New(&apipb.EVPNMACIPAdvertisementRoute{
		Rd:          rd,
		Esi:         &apipb.EthernetSegmentIdentifier{Type: 0, Value: make([]byte, 9)},
		EthernetTag: 0,
		MacAddress:  r.MAC.String(),
		IpAddress:   "0.0.0.0",
		Labels:      []uint32{uint32(r.VNI)},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal nlri: %w", err)
	}

	origin, err := anypb.New(&apipb.OriginAttribute{Origin: originIGP})
	if err != nil {
		return nil, fmt.Errorf("marshal origin: %w", err)
	}

	nextHop, err := anypb.New(&apipb.NextHopAttribute{NextHop: r.NextHop.String()})
	if err != nil {
		return nil, fmt.Errorf("marshal next hop: %w", err)
	}

	encap, err := anypb.New(&apipb.EncapExtended{TunnelType: tunnelTypeVXLAN})
	if err != nil {
		return nil, fmt.Errorf("marshal encapsulation: %w", err)
	}
	extComms, err := anypb.New(&apipb.ExtendedCommunitiesAttribute{Communities: []*anypb.Any{encap}})
	if err != nil {
		return nil, fmt.Errorf("marshal extended communities: %w", err)
	}

	return &apipb.Path{
		Family: evpnFamily(),
		Nlri:   nlri,
		Pattrs: []*anypb.Any{origin, nextHop, extComms},
	}, nil
}
