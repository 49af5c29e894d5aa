//go:build linux

package reflector

import (
	"golang.org/x/sys/unix"
)

// Run registers every Endpoint's RX descriptor with the readiness
// multiplexer and services ready descriptors (spec.md §4.5, §7).
// Readiness wait errors are logged and the loop continues. Run returns
// only when handlePacket reports a send error under the terminate-on-error
// policy (ErrorInsteadOfExit false); otherwise it runs until the process
// receives a fatal signal. There is no graceful shutdown.
func (r *Reflector) Run() error {
	endpoints := r.Registry.All()
	pfds := make([]unix.PollFd, len(endpoints))
	for i, e := range endpoints {
		pfds[i] = unix.PollFd{Fd: int32(e.RXFd()), Events: unix.POLLIN}
	}

	buf := make([]byte, ReadBufferSize)

	for {
		n, err := unix.Poll(pfds, PollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// Readiness wait error: log and continue, do not terminate
			// (spec.md §7).
			if r.Logger != nil {
				r.Logger.Printf("readiness wait error: %v", err)
			}
			continue
		}
		if n == 0 {
			continue
		}

		handled := 0
		for i := range pfds {
			if handled >= PollBatch {
				break
			}
			if pfds[i].Revents&(unix.POLLIN|unix.POLLERR) == 0 {
				continue
			}
			pfds[i].Revents = 0
			handled++

			if err := r.handleReady(int(pfds[i].Fd), buf); err != nil {
				return err
			}
		}
	}
}
