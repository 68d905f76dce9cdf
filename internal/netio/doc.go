// Package netio provides the host networking for the VTEP: the overlay
// multicast UDP socket (RFC 7348 Section 4.2), the Linux TAP devices used
// as local ports, and the overlay receive loop.
//
// Sockets bind the wildcard address of the group's family on the VXLAN
// port with SO_REUSEADDR/SO_REUSEPORT, join the group on the configured
// interface through golang.org/x/net/ipv4 and ipv6, and disable multicast
// loopback so a VTEP never learns its own floods.
package netio
