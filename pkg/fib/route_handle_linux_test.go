//go:build linux

package fib

import (
	"net"
	"net/netip"
	"testing"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

func TestFromNetlinkRoute(t *testing.T) {
	_, dst, _ := net.ParseCIDR("2001:db8::/64")

	r, ok := fromNetlinkRoute(netlink.Route{Dst: dst, LinkIndex: 4, Priority: 256})
	if !ok || r.Prefix != netip.MustParsePrefix("2001:db8::/64") || r.Interface != 4 || r.Metric != 256 {
		t.Errorf("unicast route = %v (metric %d), %v", r, r.Metric, ok)
	}

	r, ok = fromNetlinkRoute(netlink.Route{Dst: dst, Type: unix.RTN_BLACKHOLE})
	if !ok || r.HasInterface() {
		t.Errorf("blackhole route = %v, %v, want no interface", r, ok)
	}

	r, ok = fromNetlinkRoute(netlink.Route{LinkIndex: 2})
	if !ok || r.Prefix != netip.MustParsePrefix("::/0") {
		t.Errorf("route without destination = %v, %v, want default", r, ok)
	}
}

func TestNetlinkDefaultRoutesByMetric(t *testing.T) {
	var routes []Route
	for _, nr := range []netlink.Route{
		{LinkIndex: 2, Priority: 100},
		{LinkIndex: 3, Priority: 600},
	} {
		r, ok := fromNetlinkRoute(nr)
		if !ok {
			t.Fatalf("fromNetlinkRoute(%v) rejected", nr)
		}
		routes = append(routes, r)
	}

	table := NewTable()
	table.Replace(map[uint32][]Route{254: routes})
	r, ok := table.Lookup(254, netip.MustParseAddr("2001:db8:100::53"))
	if !ok || r.Interface != 2 {
		t.Errorf("Lookup = %v, %v, want the metric 100 route via dev 2", r, ok)
	}
}
