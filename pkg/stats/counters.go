package stats

import "sync/atomic"

// Direction tells the two translation paths apart.
type Direction uint8

const (
	In2Out Direction = iota
	Out2In
)

// String returns the metric label of the direction.
func (d Direction) String() string {
	if d == Out2In {
		return "out2in"
	}
	return "in2out"
}

type cell struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

// Counters holds per-mapping traffic counters, one row per worker. A worker
// only ever writes its own row; rows are summed when read.
type Counters struct {
	workers int
	slots   int
	cells   []cell
}

// NewCounters allocates counters for workers rows of slots cells each.
func NewCounters(workers, slots int) *Counters {
	return &Counters{
		workers: workers,
		slots:   slots,
		cells:   make([]cell, workers*slots),
	}
}

// Workers returns the number of worker rows.
func (c *Counters) Workers() int {
	return c.workers
}

// Slots returns the number of counter slots per worker.
func (c *Counters) Slots() int {
	return c.slots
}

// Increment adds packets and bytes to slot in the row of worker.
func (c *Counters) Increment(worker int, slot uint32, packets, bytes uint64) {
	cl := &c.cells[worker*c.slots+int(slot)]
	cl.packets.Add(packets)
	cl.bytes.Add(bytes)
}

// Combined returns the totals of slot summed across all workers.
func (c *Counters) Combined(slot uint32) (packets, bytes uint64) {
	for w := 0; w < c.workers; w++ {
		cl := &c.cells[w*c.slots+int(slot)]
		packets += cl.packets.Load()
		bytes += cl.bytes.Load()
	}
	return packets, bytes
}

// Zero resets slot in every worker row.
func (c *Counters) Zero(slot uint32) {
	for w := 0; w < c.workers; w++ {
		cl := &c.cells[w*c.slots+int(slot)]
		cl.packets.Store(0)
		cl.bytes.Store(0)
	}
}

// Reason classifies the outcome of one packet.
type Reason uint8

const (
	// ReasonTranslated marks a packet whose address was rewritten.
	ReasonTranslated Reason = iota
	// ReasonNoTranslation marks a packet forwarded unmodified.
	ReasonNoTranslation
	// ReasonUnknown marks a packet dropped as malformed.
	ReasonUnknown
	numReasons
)

// String returns the metric label of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonTranslated:
		return "translated"
	case ReasonNoTranslation:
		return "no_translation"
	default:
		return "unknown"
	}
}

// Description returns the human-readable counter name.
func (r Reason) Description() string {
	switch r {
	case ReasonTranslated:
		return "packets translated"
	case ReasonNoTranslation:
		return "no translation"
	default:
		return "unknown"
	}
}

type nodeRow struct {
	processed atomic.Uint64
	reasons   [numReasons]atomic.Uint64
	// Keep rows of different workers on separate cache lines.
	_ [64]byte
}

// NodeCounters are the per-worker packet outcome counters of both directions.
type NodeCounters struct {
	rows [2][]nodeRow
}

// NewNodeCounters allocates node counters for workers workers per direction.
func NewNodeCounters(workers int) *NodeCounters {
	return &NodeCounters{
		rows: [2][]nodeRow{make([]nodeRow, workers), make([]nodeRow, workers)},
	}
}

// AddProcessed adds n forwarded packets of one batch.
func (n *NodeCounters) AddProcessed(dir Direction, worker int, count uint64) {
	n.rows[dir][worker].processed.Add(count)
}

// Count records one packet outcome.
func (n *NodeCounters) Count(dir Direction, worker int, reason Reason) {
	n.rows[dir][worker].reasons[reason].Add(1)
}

// Processed returns the forwarded packets of a direction summed across workers.
func (n *NodeCounters) Processed(dir Direction) uint64 {
	var total uint64
	for i := range n.rows[dir] {
		total += n.rows[dir][i].processed.Load()
	}
	return total
}

// Reason returns the packets of a direction with the given outcome, summed across workers.
func (n *NodeCounters) Reason(dir Direction, reason Reason) uint64 {
	var total uint64
	for i := range n.rows[dir] {
		total += n.rows[dir][i].reasons[reason].Load()
	}
	return total
}
