package nat66

import (
	"net/netip"

	"github.com/easzlab/eznat66/pkg/fib"
	"github.com/easzlab/eznat66/pkg/mapping"
	"github.com/easzlab/eznat66/pkg/stats"
)

// Disposition is where a packet goes after processing.
type Disposition uint8

const (
	// Forward hands the packet to IPv6 forwarding.
	Forward Disposition = iota
	// Drop discards the packet.
	Drop
)

// String returns the name of the disposition.
func (d Disposition) String() string {
	if d == Drop {
		return "drop"
	}
	return "forward"
}

// Packet is one IPv6 packet handed to the translator together with the
// interface it arrived on. The result fields are set by processing.
type Packet struct {
	Data    []byte
	Ingress uint32
	Traced  bool

	Disposition Disposition
	Reason      stats.Reason
	Modified    bool
	Trace       TraceRecord
}

// TraceRecord is the diagnostic record kept for traced packets.
type TraceRecord struct {
	Ingress     uint32
	Disposition Disposition
	Reason      stats.Reason
}

// Resolver resolves a destination to its route within a routing scope.
type Resolver interface {
	Lookup(scope uint32, addr netip.Addr) (fib.Route, bool)
}

// Roster answers interface membership questions.
type Roster interface {
	IsOutside(index uint32) bool
	ScopeOf(index uint32) uint32
}

// Mappings looks up static mappings by either of their addresses.
type Mappings interface {
	Lookup(src netip.Addr, scope uint32) (mapping.Mapping, bool)
	LookupOutside(dst netip.Addr, scope uint32) (mapping.Mapping, bool)
}

// Accounting attributes translated traffic to a counter slot of one worker.
type Accounting interface {
	Increment(worker int, slot uint32, packets, bytes uint64)
}

// WorkerContext identifies the worker running a batch.
type WorkerContext struct {
	Worker    int
	Direction stats.Direction
	Tracer    *Tracer
}

// Stage is one packet processing step, independent of how packets are delivered.
type Stage interface {
	Process(w *WorkerContext, pkt *Packet) Disposition
}
