package mapping

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// Mapping is a static one-to-one address pair within one routing scope.
// Slot indexes the mapping's traffic counters.
type Mapping struct {
	Inside  netip.Addr
	Outside netip.Addr
	Scope   uint32
	Slot    uint32
}

// String returns a human-readable representation of the mapping.
func (m Mapping) String() string {
	return fmt.Sprintf("%s<->%s scope %d", m.Inside, m.Outside, m.Scope)
}

// Key identifies a mapping by inside address and scope.
type Key struct {
	Inside netip.Addr
	Scope  uint32
}

// String returns a human-readable representation of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Inside, k.Scope)
}

type snapshot struct {
	byInside  *iradix.Tree
	byOutside *iradix.Tree
}

// Table serves lock-free lookups against an immutable snapshot of all mappings.
// Publish swaps in a new snapshot; in-flight lookups finish on the old one.
type Table struct {
	current atomic.Pointer[snapshot]
}

// NewTable creates an empty mapping Table.
func NewTable() *Table {
	t := &Table{}
	t.current.Store(&snapshot{byInside: iradix.New(), byOutside: iradix.New()})
	return t
}

// Lookup returns the mapping whose inside address is src in the given scope.
func (t *Table) Lookup(src netip.Addr, scope uint32) (Mapping, bool) {
	return get(t.current.Load().byInside, src, scope)
}

// LookupOutside returns the mapping whose outside address is dst in the given scope.
func (t *Table) LookupOutside(dst netip.Addr, scope uint32) (Mapping, bool) {
	return get(t.current.Load().byOutside, dst, scope)
}

// Len returns the number of mappings in the current snapshot.
func (t *Table) Len() int {
	return t.current.Load().byInside.Len()
}

// All returns every mapping of the current snapshot.
func (t *Table) All() []Mapping {
	tree := t.current.Load().byInside
	result := make([]Mapping, 0, tree.Len())
	tree.Root().Walk(func(_ []byte, v interface{}) bool {
		result = append(result, v.(Mapping))
		return false
	})
	return result
}

// Publish atomically replaces the table content with mappings.
func (t *Table) Publish(mappings []Mapping) {
	in := iradix.New().Txn()
	out := iradix.New().Txn()
	for _, m := range mappings {
		// iradix keeps the key slice, so each tree gets its own array.
		inKey := encodeKey(m.Inside, m.Scope)
		in.Insert(inKey[:], m)
		outKey := encodeKey(m.Outside, m.Scope)
		out.Insert(outKey[:], m)
	}
	t.current.Store(&snapshot{byInside: in.Commit(), byOutside: out.Commit()})
}

func get(tree *iradix.Tree, addr netip.Addr, scope uint32) (Mapping, bool) {
	k := encodeKey(addr, scope)
	v, ok := tree.Get(k[:])
	if !ok {
		return Mapping{}, false
	}
	return v.(Mapping), true
}

// encodeKey lays out the address followed by the big-endian scope.
func encodeKey(addr netip.Addr, scope uint32) [20]byte {
	var k [20]byte
	a := addr.As16()
	copy(k[:16], a[:])
	binary.BigEndian.PutUint32(k[16:], scope)
	return k
}
