//go:build linux

package fib

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// linuxHandle reads the kernel IPv6 routing tables over netlink.
type linuxHandle struct {
	handle *netlink.Handle
}

// NewRouteHandle creates a netlink route handle on Linux.
func NewRouteHandle() (RouteHandle, error) {
	handle, err := netlink.NewHandle(unix.NETLINK_ROUTE)
	if err != nil {
		return nil, err
	}
	return &linuxHandle{handle: handle}, nil
}

func (h *linuxHandle) Close() {
	h.handle.Close()
}

func (h *linuxHandle) Routes(scope uint32) ([]Route, error) {
	filter := &netlink.Route{Table: int(scope)}
	nlRoutes, err := h.handle.RouteListFiltered(netlink.FAMILY_V6, filter, netlink.RT_FILTER_TABLE)
	if errors.Is(err, netlink.ErrDumpInterrupted) {
		// The table changed during the dump.
		nlRoutes, err = h.handle.RouteListFiltered(netlink.FAMILY_V6, filter, netlink.RT_FILTER_TABLE)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list routes of table %d: %w", scope, err)
	}

	routes := make([]Route, 0, len(nlRoutes))
	for _, r := range nlRoutes {
		route, ok := fromNetlinkRoute(r)
		if !ok {
			continue
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func (h *linuxHandle) Subscribe(ctx context.Context, notify func()) error {
	updates := make(chan netlink.RouteUpdate, 64)
	errCh := make(chan error, 1)

	err := netlink.RouteSubscribeWithOptions(updates, ctx.Done(), netlink.RouteSubscribeOptions{
		ErrorCallback: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to route updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return fmt.Errorf("route subscription failed: %w", err)
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Family != netlink.FAMILY_V6 {
				continue
			}
			notify()
		}
	}
}

// fromNetlinkRoute converts a kernel route. Routes without a usable egress
// interface keep NoInterface so lookups can tell them apart from misses.
func fromNetlinkRoute(r netlink.Route) (Route, bool) {
	prefix := netip.MustParsePrefix("::/0")
	if r.Dst != nil {
		addr, ok := netip.AddrFromSlice(r.Dst.IP)
		if !ok {
			return Route{}, false
		}
		ones, bits := r.Dst.Mask.Size()
		if bits != 128 {
			return Route{}, false
		}
		prefix = netip.PrefixFrom(addr, ones)
	}

	route := Route{Prefix: prefix, Interface: NoInterface, Metric: uint32(r.Priority)}
	switch r.Type {
	case unix.RTN_BLACKHOLE, unix.RTN_UNREACHABLE, unix.RTN_PROHIBIT, unix.RTN_THROW:
		return route, true
	}

	switch {
	case r.LinkIndex > 0:
		route.Interface = uint32(r.LinkIndex)
	case len(r.MultiPath) > 0 && r.MultiPath[0].LinkIndex > 0:
		route.Interface = uint32(r.MultiPath[0].LinkIndex)
	}
	return route, true
}
