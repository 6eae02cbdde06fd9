package nat66

import (
	"net/netip"
	"sync/atomic"

	"github.com/easzlab/eznat66/pkg/packet"
	"github.com/easzlab/eznat66/pkg/stats"
)

// Translator is the stateless NAT66 packet path.
type Translator struct {
	routes       Resolver
	roster       Roster
	mappings     Mappings
	counters     Accounting
	nodes        *stats.NodeCounters
	outsideScope atomic.Uint32
}

// NewTranslator creates a Translator over the given tables.
func NewTranslator(routes Resolver, roster Roster, mappings Mappings, counters Accounting, nodes *stats.NodeCounters, outsideScope uint32) *Translator {
	t := &Translator{
		routes:   routes,
		roster:   roster,
		mappings: mappings,
		counters: counters,
		nodes:    nodes,
	}
	t.outsideScope.Store(outsideScope)
	return t
}

// SetOutsideScope changes the scope retried by NotTranslate.
func (t *Translator) SetOutsideScope(scope uint32) {
	t.outsideScope.Store(scope)
}

// NotTranslate reports whether a packet to dst entering in scope must be left
// untranslated. Only destinations whose route egresses through an outside
// interface are translated; a missing route, or a route without an interface
// in both the ingress and the outside scope, means no translation.
func (t *Translator) NotTranslate(scope uint32, dst netip.Addr) bool {
	route, ok := t.routes.Lookup(scope, dst)
	if !ok {
		return true
	}
	if !route.HasInterface() {
		route, ok = t.routes.Lookup(t.outsideScope.Load(), dst)
		if !ok || !route.HasInterface() {
			return true
		}
	}

	return !t.roster.IsOutside(route.Interface)
}

// Process runs pkt through the path of the worker's direction.
func (t *Translator) Process(w *WorkerContext, pkt *Packet) Disposition {
	if w.Direction == stats.Out2In {
		return t.Out2In(w, pkt)
	}
	return t.In2Out(w, pkt)
}

// In2Out translates the source address of an inside-originated packet.
func (t *Translator) In2Out(w *WorkerContext, pkt *Packet) Disposition {
	c := packet.Classify(pkt.Data)
	if !c.Valid {
		return t.finish(w, pkt, Drop, stats.ReasonUnknown)
	}

	scope := t.roster.ScopeOf(pkt.Ingress)
	if t.NotTranslate(scope, packet.Destination(pkt.Data)) {
		return t.finish(w, pkt, Forward, stats.ReasonNoTranslation)
	}

	m, ok := t.mappings.Lookup(packet.Source(pkt.Data), scope)
	if !ok {
		return t.finish(w, pkt, Forward, stats.ReasonNoTranslation)
	}

	packet.RewriteSource(pkt.Data, c, m.Outside)
	pkt.Modified = true
	t.counters.Increment(w.Worker, m.Slot, 1, uint64(len(pkt.Data)))

	return t.finish(w, pkt, Forward, stats.ReasonTranslated)
}

// Out2In translates the destination address of return traffic back to the
// inside address of its mapping.
func (t *Translator) Out2In(w *WorkerContext, pkt *Packet) Disposition {
	c := packet.Classify(pkt.Data)
	if !c.Valid {
		return t.finish(w, pkt, Drop, stats.ReasonUnknown)
	}

	scope := t.roster.ScopeOf(pkt.Ingress)
	m, ok := t.mappings.LookupOutside(packet.Destination(pkt.Data), scope)
	if !ok {
		return t.finish(w, pkt, Forward, stats.ReasonNoTranslation)
	}

	packet.RewriteDestination(pkt.Data, c, m.Inside)
	pkt.Modified = true
	t.counters.Increment(w.Worker, m.Slot, 1, uint64(len(pkt.Data)))

	return t.finish(w, pkt, Forward, stats.ReasonTranslated)
}

// ProcessBatch runs pkts in arrival order and returns how many were forwarded.
func (t *Translator) ProcessBatch(w *WorkerContext, pkts []Packet) int {
	forwarded := 0
	for i := range pkts {
		pkt := &pkts[i]
		if t.Process(w, pkt) == Forward {
			forwarded++
		}
		if pkt.Traced {
			pkt.Trace = TraceRecord{Ingress: pkt.Ingress, Disposition: pkt.Disposition, Reason: pkt.Reason}
			w.Tracer.Record(w, pkt.Trace)
		}
	}
	t.nodes.AddProcessed(w.Direction, w.Worker, uint64(forwarded))
	return forwarded
}

func (t *Translator) finish(w *WorkerContext, pkt *Packet, d Disposition, reason stats.Reason) Disposition {
	pkt.Disposition = d
	pkt.Reason = reason
	t.nodes.Count(w.Direction, w.Worker, reason)
	return d
}
