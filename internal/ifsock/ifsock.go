// Package ifsock builds the per-interface RX/TX multicast sockets the
// reflector forwards packets through (Address Introspection + Interface
// Endpoint Factory).
package ifsock

import (
	"fmt"
	"net"
)

// Family distinguishes the two socket variants the reflector builds. The set
// is closed at two, so Endpoint carries both variants as a single tagged
// struct rather than through an interface.
type Family int

const (
	V4 Family = iota
	V6
)

func (f Family) String() string {
	if f == V4 {
		return "ipv4"
	}
	return "ipv6"
}

const (
	// MDNSPort is the well-known mDNS port (RFC 6762 §5).
	MDNSPort = 5353
)

var (
	// MDNSAddrV4 is the IPv4 mDNS group address.
	MDNSAddrV4 = net.IPv4(224, 0, 0, 251).To4()
	// MDNSAddrV6 is the IPv6 mDNS group address.
	MDNSAddrV6 = net.ParseIP("ff02::fb")
)

// OpError names the interface, family and failing operation behind a
// socket construction failure, per spec §4.2 and §7.
type OpError struct {
	Op        string
	Interface string
	Family    Family
	Err       error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("ifsock: %s on %s (%s): %v", e.Op, e.Interface, e.Family, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Endpoint is one (name, family) pair of sockets bound for one local
// interface: an RX socket joined to the mDNS group and a TX socket whose
// multicast egress is pinned to that interface.
type Endpoint struct {
	Name    string
	Family  Family
	Index   int
	OwnAddr net.IP

	// Network is the receiving interface's CIDR, used by the v4 origin
	// check. It is nil for v6 endpoints: per the Open Question decisions in
	// DESIGN.md (resolving spec.md §9's ambiguous "fd::/24 sentinel"),
	// v6 origin filtering is scope-based only and uses no network.
	Network *net.IPNet

	rxFd int
	txFd int
}

// RXFd returns the raw RX socket descriptor, used by the registry to key its
// descriptor -> Endpoint map and by the reflector loop's readiness
// multiplexer.
func (e *Endpoint) RXFd() int { return e.rxFd }

// TXFd returns the raw TX socket descriptor the reflector sends fan-out
// datagrams through.
func (e *Endpoint) TXFd() int { return e.txFd }

// Contains reports whether addr lies within this endpoint's own network.
// Always false for v6 endpoints (see Network's doc comment).
func (e *Endpoint) Contains(addr net.IP) bool {
	if e.Network == nil {
		return false
	}
	return e.Network.Contains(addr)
}

// NewTestEndpoint builds an Endpoint around caller-supplied descriptors
// without touching the network, for use by other packages' unit tests
// (registry/filter/reflector) that need an Endpoint but not a real socket.
func NewTestEndpoint(name string, family Family, network *net.IPNet, ownAddr net.IP, rxFd, txFd int) *Endpoint {
	return &Endpoint{Name: name, Family: family, Network: network, OwnAddr: ownAddr, rxFd: rxFd, txFd: txFd}
}

// Dest returns the canonical mDNS group destination for this endpoint's
// family.
func (e *Endpoint) Dest() *net.UDPAddr {
	if e.Family == V4 {
		return &net.UDPAddr{IP: MDNSAddrV4, Port: MDNSPort}
	}
	return &net.UDPAddr{IP: MDNSAddrV6, Port: MDNSPort, Zone: e.Name}
}
