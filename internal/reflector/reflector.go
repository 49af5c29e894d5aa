// Package reflector implements the Reflector Loop: the single-threaded
// event loop that demultiplexes readiness events across every configured
// interface's RX socket, identifies each datagram's source Endpoint,
// applies the Filter Policy, and fans the datagram out to every other
// Endpoint of the same family (spec.md §4.5).
package reflector

import (
	"fmt"
	"log"
	"net"

	"mdns-reflector/internal/filter"
	"mdns-reflector/internal/ifsock"
	"mdns-reflector/internal/registry"
)

const (
	// PollBatch bounds how many ready descriptors are serviced per
	// readiness wait. Per spec.md §9 this is an operational parameter, not
	// a contract.
	PollBatch = 16
	// PollTimeoutMs is the readiness multiplexer's wait timeout. Per
	// spec.md §9 the value is not load-bearing: nothing currently consumes
	// the timeout beyond giving the loop a preemption point.
	PollTimeoutMs = 100
	// ReadBufferSize is the fixed per-event read buffer. mDNS messages are
	// bounded; oversized datagrams are truncated by the kernel.
	ReadBufferSize = 4096
)

// SendFunc issues the fan-out send on dest's TX socket. Exposed as a field
// so tests can substitute a recording stub without real sockets, the same
// way the teacher's Reflector.forwarder field does.
type SendFunc func(dest *ifsock.Endpoint, payload []byte) error

// RecvFunc issues the single datagram receive on src's RX socket. Exposed
// as a field for the same reason as SendFunc: it lets reflector-loop tests
// run without real sockets.
type RecvFunc func(src *ifsock.Endpoint, buf []byte) (int, net.IP, error)

// Reflector is the event loop's owner: it holds the Interface Registry, the
// Filter Policy, and the send-error policy from spec.md §7.
type Reflector struct {
	Registry           *registry.Registry
	Filter             *filter.Policy
	ErrorInsteadOfExit bool
	Logger             *log.Logger

	sender   SendFunc
	receiver RecvFunc
}

// New builds a Reflector around an already-populated registry and filter
// policy. Socket construction (§4.1/§4.2) happens before this is called;
// there is no runtime add/remove of Endpoints (spec.md §3).
func New(reg *registry.Registry, pol *filter.Policy, errorInsteadOfExit bool, logger *log.Logger) *Reflector {
	r := &Reflector{Registry: reg, Filter: pol, ErrorInsteadOfExit: errorInsteadOfExit, Logger: logger}
	r.sender = r.defaultSend
	r.receiver = r.defaultRecv
	return r
}

func (r *Reflector) defaultSend(dest *ifsock.Endpoint, payload []byte) error {
	return dest.Send(payload)
}

func (r *Reflector) defaultRecv(src *ifsock.Endpoint, buf []byte) (int, net.IP, error) {
	return src.Recv(buf)
}

// handlePacket runs the Filter Policy against one received datagram and, if
// it passes, fans it out to every other Endpoint of the source's family in
// registry order (spec.md §4.5 step 2e, "Ordering guarantee").
func (r *Reflector) handlePacket(src *ifsock.Endpoint, srcIP net.IP, payload []byte) error {
	if !r.Filter.Allow(src, srcIP, payload) {
		return nil
	}

	for _, dest := range r.Registry.Destinations(src) {
		if err := r.sender(dest, payload); err != nil {
			if r.ErrorInsteadOfExit {
				if r.Logger != nil {
					r.Logger.Printf("error: forwarding %d bytes from %s (%s) to %s: %v", len(payload), srcIP, src.Name, dest.Name, err)
				}
				continue
			}
			return fmt.Errorf("forwarding from %s (source %s) to interface %s: %w", srcIP, src.Name, dest.Name, err)
		}
		if r.Logger != nil {
			r.Logger.Printf("reflected %d bytes from %s (%s) to %s", len(payload), srcIP, src.Name, dest.Name)
		}
	}
	return nil
}

// handleReady services one ready RX descriptor: receives a single datagram,
// resolves its source Endpoint, and runs it through handlePacket. It
// implements spec.md §4.5 step 2 and the predicate-1 ("unknown source
// descriptor") rule from §4.4.
func (r *Reflector) handleReady(fd int, buf []byte) error {
	src, ok := r.Registry.Lookup(fd)
	if !ok {
		// Defensive: should not occur, the registry is built from exactly
		// the descriptors registered with the multiplexer.
		return nil
	}

	n, srcIP, err := r.receiver(src, buf)
	if err != nil {
		if ifsock.IsWouldBlock(err) {
			// Spurious readiness: tolerate per spec.md §5.
			return nil
		}
		if r.Logger != nil {
			r.Logger.Printf("debug: recv error on %s: %v", src.Name, err)
		}
		return nil
	}
	if srcIP == nil {
		// Peer address absent; skip per spec.md §4.5 step 2b.
		return nil
	}

	payload := make([]byte, n)
	copy(payload, buf[:n])
	return r.handlePacket(src, srcIP, payload)
}
