//go:build linux

package ifsock

import (
	"fmt"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ifreq mirrors the kernel's struct ifreq for the ioctls this package
// issues: a 16-byte interface name followed by a generic sockaddr. Address
// Introspection reads the IPv4 octets out of sa_data[2:6] of that sockaddr,
// exactly as spec.md §4.1 describes (traditional sockaddr_in layout within a
// generic sockaddr).
type ifreq struct {
	Name [unix.IFNAMSIZ]byte
	Addr unix.RawSockaddr
	// Pads the union to the kernel's 24 bytes on 64-bit platforms, so the
	// ioctl's copy-out of a whole struct ifreq stays inside this value.
	_ [8]byte
}

func ifreqFor(name string) ifreq {
	var req ifreq
	copy(req.Name[:], name)
	return req
}

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func sockaddrToIPv4(addr unix.RawSockaddr) net.IP {
	return net.IPv4(byte(addr.Data[2]), byte(addr.Data[3]), byte(addr.Data[4]), byte(addr.Data[5])).To4()
}

// networkOf opens a throwaway datagram socket and issues the two kernel
// interface-query ioctls (SIOCGIFADDR, SIOCGIFNETMASK) spec.md §4.1
// describes, returning the interface's own address and its network.
func networkOf(name string) (net.IP, *net.IPNet, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, nil, &OpError{Op: "socket(AF_INET)", Interface: name, Family: V4, Err: err}
	}
	defer unix.Close(fd)

	addrReq := ifreqFor(name)
	if err := ioctl(fd, unix.SIOCGIFADDR, unsafe.Pointer(&addrReq)); err != nil {
		return nil, nil, &OpError{Op: "ioctl(SIOCGIFADDR)", Interface: name, Family: V4, Err: err}
	}
	addr := sockaddrToIPv4(addrReq.Addr)

	maskReq := ifreqFor(name)
	if err := ioctl(fd, unix.SIOCGIFNETMASK, unsafe.Pointer(&maskReq)); err != nil {
		return nil, nil, &OpError{Op: "ioctl(SIOCGIFNETMASK)", Interface: name, Family: V4, Err: err}
	}
	mask := net.IPMask(sockaddrToIPv4(maskReq.Addr))

	network := &net.IPNet{IP: addr.Mask(mask), Mask: mask}
	return addr, network, nil
}

// indexOf resolves the kernel's integer index for name, needed for IPv6
// multicast egress selection and as the canonical way to pin IPv4 multicast
// egress (spec.md §4.1).
func indexOf(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("ifsock: index of %s: %w", name, err)
	}
	return iface.Index, nil
}

func ownAddrV6(name string) (net.IP, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("ifsock: resolve %s: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("ifsock: addrs of %s: %w", name, err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipnet.IP.To4() != nil {
			continue
		}
		if ipnet.IP.IsLinkLocalUnicast() {
			return ipnet.IP, nil
		}
	}
	return nil, fmt.Errorf("ifsock: no link-local ipv6 address on %s", name)
}

func commonSockopts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt(SO_REUSEADDR): %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	return nil
}

// NewEndpoint produces the (name, family) Endpoint: an RX socket bound to
// the wildcard address and joined to the mDNS group scoped to this
// interface, and a TX socket whose multicast egress is pinned to this
// interface (spec.md §4.2).
func NewEndpoint(name string, family Family) (*Endpoint, error) {
	switch family {
	case V4:
		return newEndpointV4(name)
	case V6:
		return newEndpointV6(name)
	default:
		return nil, fmt.Errorf("ifsock: unknown family %v", family)
	}
}

func newEndpointV4(name string) (*Endpoint, error) {
	ownAddr, network, err := networkOf(name)
	if err != nil {
		return nil, err
	}
	index, err := indexOf(name)
	if err != nil {
		return nil, &OpError{Op: "index lookup", Interface: name, Family: V4, Err: err}
	}

	txFd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, &OpError{Op: "socket", Interface: name, Family: V4, Err: err}
	}
	if err := unix.SetsockoptInt(txFd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 1); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "setsockopt(IP_MULTICAST_LOOP)", Interface: name, Family: V4, Err: err}
	}
	if err := unix.SetsockoptIPMreqn(txFd, unix.IPPROTO_IP, unix.IP_MULTICAST_IF, &unix.IPMreqn{Ifindex: int32(index)}); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "setsockopt(IP_MULTICAST_IF)", Interface: name, Family: V4, Err: err}
	}
	if err := unix.SetsockoptInt(txFd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 255); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "setsockopt(IP_MULTICAST_TTL)", Interface: name, Family: V4, Err: err}
	}
	if err := commonSockopts(txFd); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "common sockopts", Interface: name, Family: V4, Err: err}
	}
	// Bind the TX socket to the interface's own address (Open Question 2:
	// kept for behavioral fidelity with original_source, which always binds).
	var ownAddr4 [4]byte
	copy(ownAddr4[:], ownAddr.To4())
	if err := unix.Bind(txFd, &unix.SockaddrInet4{Port: MDNSPort, Addr: ownAddr4}); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "bind(tx)", Interface: name, Family: V4, Err: err}
	}
	var mdnsAddr4 [4]byte
	copy(mdnsAddr4[:], MDNSAddrV4)
	if err := unix.SetsockoptIPMreq(txFd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, &unix.IPMreq{Multiaddr: mdnsAddr4, Interface: ownAddr4}); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "setsockopt(IP_ADD_MEMBERSHIP tx)", Interface: name, Family: V4, Err: err}
	}

	rxFd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "socket", Interface: name, Family: V4, Err: err}
	}
	if err := unix.SetsockoptInt(rxFd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 1); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "setsockopt(IP_MULTICAST_LOOP)", Interface: name, Family: V4, Err: err}
	}
	if err := unix.SetsockoptInt(rxFd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "setsockopt(IP_PKTINFO)", Interface: name, Family: V4, Err: err}
	}
	if err := unix.SetsockoptString(rxFd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, name); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "setsockopt(SO_BINDTODEVICE)", Interface: name, Family: V4, Err: err}
	}
	if err := commonSockopts(rxFd); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "common sockopts", Interface: name, Family: V4, Err: err}
	}
	if err := unix.Bind(rxFd, &unix.SockaddrInet4{Port: MDNSPort}); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "bind(rx)", Interface: name, Family: V4, Err: err}
	}
	if err := unix.SetsockoptIPMreq(rxFd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, &unix.IPMreq{Multiaddr: mdnsAddr4, Interface: ownAddr4}); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "setsockopt(IP_ADD_MEMBERSHIP rx)", Interface: name, Family: V4, Err: err}
	}

	return &Endpoint{Name: name, Family: V4, Index: index, OwnAddr: ownAddr, Network: network, rxFd: rxFd, txFd: txFd}, nil
}

func newEndpointV6(name string) (*Endpoint, error) {
	index, err := indexOf(name)
	if err != nil {
		return nil, &OpError{Op: "index lookup", Interface: name, Family: V6, Err: err}
	}
	ownAddr, err := ownAddrV6(name)
	if err != nil {
		return nil, &OpError{Op: "own address lookup", Interface: name, Family: V6, Err: err}
	}

	txFd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, &OpError{Op: "socket", Interface: name, Family: V6, Err: err}
	}
	if err := unix.SetsockoptInt(txFd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "setsockopt(IPV6_V6ONLY)", Interface: name, Family: V6, Err: err}
	}
	if err := unix.SetsockoptInt(txFd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_IF, index); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "setsockopt(IPV6_MULTICAST_IF)", Interface: name, Family: V6, Err: err}
	}
	if err := unix.SetsockoptInt(txFd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, 255); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "setsockopt(IPV6_MULTICAST_HOPS)", Interface: name, Family: V6, Err: err}
	}
	if err := commonSockopts(txFd); err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "common sockopts", Interface: name, Family: V6, Err: err}
	}

	rxFd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		unix.Close(txFd)
		return nil, &OpError{Op: "socket", Interface: name, Family: V6, Err: err}
	}
	if err := unix.SetsockoptInt(rxFd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "setsockopt(IPV6_V6ONLY)", Interface: name, Family: V6, Err: err}
	}
	if err := unix.SetsockoptInt(rxFd, unix.IPPROTO_IPV6, unix.IPV6_RECVPKTINFO, 1); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "setsockopt(IPV6_RECVPKTINFO)", Interface: name, Family: V6, Err: err}
	}
	if err := unix.SetsockoptString(rxFd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, name); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "setsockopt(SO_BINDTODEVICE)", Interface: name, Family: V6, Err: err}
	}
	if err := commonSockopts(rxFd); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "common sockopts", Interface: name, Family: V6, Err: err}
	}
	// Bind the wildcard address rather than the group address itself; both
	// are acceptable per spec.md §4.2 so long as the socket is joined to the
	// group and bound to the device.
	if err := unix.Bind(rxFd, &unix.SockaddrInet6{Port: MDNSPort}); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "bind(rx)", Interface: name, Family: V6, Err: err}
	}
	var mdnsAddr6 [16]byte
	copy(mdnsAddr6[:], MDNSAddrV6.To16())
	if err := unix.SetsockoptIPv6Mreq(rxFd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, &unix.IPv6Mreq{Multiaddr: mdnsAddr6, Interface: uint32(index)}); err != nil {
		unix.Close(txFd)
		unix.Close(rxFd)
		return nil, &OpError{Op: "setsockopt(IPV6_JOIN_GROUP)", Interface: name, Family: V6, Err: err}
	}

	return &Endpoint{Name: name, Family: V6, Index: index, OwnAddr: ownAddr, Network: nil, rxFd: rxFd, txFd: txFd}, nil
}

// Close releases both sockets. Safe to call once; the Endpoint owns both
// descriptors for their entire lifetime.
func (e *Endpoint) Close() error {
	err1 := unix.Close(e.rxFd)
	err2 := unix.Close(e.txFd)
	if err1 != nil {
		return err1
	}
	return err2
}

// Send issues a single datagram send on the TX socket to the family's
// canonical mDNS destination.
func (e *Endpoint) Send(payload []byte) error {
	dest := e.Dest()
	if e.Family == V4 {
		var addr [4]byte
		copy(addr[:], dest.IP.To4())
		return unix.Sendto(e.txFd, payload, 0, &unix.SockaddrInet4{Port: dest.Port, Addr: addr})
	}
	var addr [16]byte
	copy(addr[:], dest.IP.To16())
	return unix.Sendto(e.txFd, payload, 0, &unix.SockaddrInet6{Port: dest.Port, Addr: addr, ZoneId: uint32(e.Index)})
}

// Recv issues a single non-blocking datagram receive on the RX socket. A
// would-block is reported through syscall.EAGAIN so the reflector loop can
// treat spurious readiness as "no packet this iteration" per spec.md §5.
func (e *Endpoint) Recv(buf []byte) (int, net.IP, error) {
	n, from, err := unix.Recvfrom(e.rxFd, buf, 0)
	if err != nil {
		return 0, nil, err
	}
	switch sa := from.(type) {
	case *unix.SockaddrInet4:
		return n, net.IP(sa.Addr[:]).To4(), nil
	case *unix.SockaddrInet6:
		ip := net.IP(sa.Addr[:])
		return n, ip, nil
	default:
		return n, nil, nil
	}
}

// IsWouldBlock reports whether err is the non-blocking "no data yet" signal.
func IsWouldBlock(err error) bool {
	return err == syscall.EAGAIN || err == syscall.EWOULDBLOCK
}
