package fib

import (
	"context"
	"fmt"
	"net/netip"
)

// NoInterface marks a route that does not resolve to an egress interface,
// such as a blackhole, unreachable or prohibit route.
const NoInterface = ^uint32(0)

// Route is one IPv6 prefix of a routing scope and the interface it egresses through.
// Metric is the kernel route priority; among routes for the same prefix the
// lowest metric is used.
type Route struct {
	Prefix    netip.Prefix
	Interface uint32
	Metric    uint32
}

// HasInterface reports whether the route resolves to an egress interface.
func (r Route) HasInterface() bool {
	return r.Interface != NoInterface
}

// String returns a human-readable representation of the route.
func (r Route) String() string {
	if !r.HasInterface() {
		return fmt.Sprintf("%s dev none", r.Prefix)
	}
	return fmt.Sprintf("%s dev %d", r.Prefix, r.Interface)
}

// RouteHandle abstracts the kernel routing tables, allowing platform-specific implementations.
// On Linux, it reads routing tables over netlink.
// On non-Linux systems, it provides a fake in-memory implementation for development and testing.
type RouteHandle interface {
	// Routes returns the IPv6 routes of a routing scope (kernel table id).
	Routes(scope uint32) ([]Route, error)

	// Subscribe invokes notify whenever an IPv6 route changes, until ctx is done.
	Subscribe(ctx context.Context, notify func()) error

	Close()
}
