//go:build !linux

package ifsock

import (
	"fmt"
	"net"
)

// NewEndpoint is only implemented on Linux: the reflector's socket layer
// relies on Linux-specific ioctls (SIOCGIFADDR/SIOCGIFNETMASK) and sockopts
// (SO_BINDTODEVICE, IP_MULTICAST_IF by ifindex) that have no portable
// equivalent.
func NewEndpoint(name string, family Family) (*Endpoint, error) {
	return nil, fmt.Errorf("ifsock: multicast socket construction is only supported on linux")
}

func (e *Endpoint) Close() error { return nil }

func (e *Endpoint) Send(payload []byte) error {
	return fmt.Errorf("ifsock: send is only supported on linux")
}

func (e *Endpoint) Recv(buf []byte) (int, net.IP, error) {
	return 0, nil, fmt.Errorf("ifsock: recv is only supported on linux")
}

func IsWouldBlock(err error) bool { return false }
