// Package filter implements the Filter Policy: stateless predicates
// evaluated in order against each received packet (spec.md §4.4). Predicate
// 1 ("unknown source descriptor") is handled by the registry lookup in the
// reflector loop itself; this package implements predicates 2-4.
package filter

import (
	"net"

	"github.com/miekg/dns"

	"mdns-reflector/internal/ifsock"
)

// Policy holds the configuration-derived, immutable-for-process-lifetime
// filter rules (spec.md §3 "Filter Rules").
type Policy struct {
	AdditionalSubnets     []*net.IPNet
	IgnoreQuestionSubnets []*net.IPNet
}

// New builds a Policy from the parsed CIDR lists.
func New(additionalSubnets, ignoreQuestionSubnets []*net.IPNet) *Policy {
	return &Policy{AdditionalSubnets: additionalSubnets, IgnoreQuestionSubnets: ignoreQuestionSubnets}
}

// Allow runs predicates 2-4 against a packet received on src from srcIP,
// with the raw payload available for question-suppression parsing. It
// returns true iff the packet should be forwarded.
func (p *Policy) Allow(src *ifsock.Endpoint, srcIP net.IP, payload []byte) bool {
	// 2. Self-echo suppression.
	if src.OwnAddr != nil && srcIP.Equal(src.OwnAddr) {
		return false
	}

	// 3. Origin network check (v4 only); v6 endpoints skip this check
	// because the scope of ff02::fb already restricts ingress to the link.
	if src.Family == ifsock.V4 {
		if !src.Contains(srcIP) && !containsAny(p.AdditionalSubnets, srcIP) {
			return false
		}
	}

	// 4. Question suppression.
	if len(p.IgnoreQuestionSubnets) > 0 && containsAny(p.IgnoreQuestionSubnets, srcIP) {
		msg := new(dns.Msg)
		if err := msg.Unpack(payload); err == nil && len(msg.Question) > 0 {
			return false
		}
	}

	return true
}

func containsAny(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
