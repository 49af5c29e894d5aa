// Package registry maintains the Interface Registry: the in-memory
// collection of Endpoints, each tagged by family and interface name,
// supporting O(1) lookup from RX descriptor to owning Endpoint and
// iteration for fan-out.
package registry

import "mdns-reflector/internal/ifsock"

// Registry is immutable after Build: there is no runtime add/remove
// (spec.md §3 "Lifecycle").
type Registry struct {
	endpoints []*ifsock.Endpoint
	byRXFd    map[int]*ifsock.Endpoint
}

// Build constructs the registry's descriptor -> Endpoint mapping once,
// before the reflector loop starts. Iteration order is preserved as given
// (configuration order), used only for fan-out ordering.
func Build(endpoints []*ifsock.Endpoint) *Registry {
	r := &Registry{
		endpoints: endpoints,
		byRXFd:    make(map[int]*ifsock.Endpoint, len(endpoints)),
	}
	for _, e := range endpoints {
		r.byRXFd[e.RXFd()] = e
	}
	return r
}

// Lookup returns the Endpoint owning rxFd, if any.
func (r *Registry) Lookup(rxFd int) (*ifsock.Endpoint, bool) {
	e, ok := r.byRXFd[rxFd]
	return e, ok
}

// All returns the endpoints in configuration order.
func (r *Registry) All() []*ifsock.Endpoint {
	return r.endpoints
}

// Destinations returns, in registry order, every endpoint that should
// receive a fan-out send for a packet received on src: same family, name
// different from src's (spec.md §3 invariant "an Endpoint never sends to
// itself").
func (r *Registry) Destinations(src *ifsock.Endpoint) []*ifsock.Endpoint {
	dests := make([]*ifsock.Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		if e.Family != src.Family {
			continue
		}
		if e.Name == src.Name {
			continue
		}
		dests = append(dests, e)
	}
	return dests
}

// Close closes every endpoint's sockets. The registry (and the reflector
// that owns it) is the last owner of the Endpoint collection.
func (r *Registry) Close() error {
	var first error
	for _, e := range r.endpoints {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
