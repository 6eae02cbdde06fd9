package fib

import (
	"net/netip"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// snapshot is an immutable view of every routing scope.
type snapshot struct {
	scopes map[uint32]*iradix.Tree
}

// Table is a longest-prefix-match route table per routing scope. Lookups read
// an immutable snapshot and never block; Replace publishes a new snapshot.
type Table struct {
	current atomic.Pointer[snapshot]
}

// NewTable creates an empty Table.
func NewTable() *Table {
	t := &Table{}
	t.current.Store(&snapshot{scopes: map[uint32]*iradix.Tree{}})
	return t
}

// Lookup returns the most specific route covering addr in the given scope.
func (t *Table) Lookup(scope uint32, addr netip.Addr) (Route, bool) {
	tree, ok := t.current.Load().scopes[scope]
	if !ok {
		return Route{}, false
	}

	var key [128]byte
	a := addr.As16()
	for i := range key {
		key[i] = (a[i/8] >> (7 - i%8)) & 1
	}

	_, v, found := tree.Root().LongestPrefix(key[:])
	if !found {
		return Route{}, false
	}
	return v.(Route), true
}

// Replace swaps the routes of the given scopes with a new set. Scopes absent
// from routes keep their current content.
func (t *Table) Replace(routes map[uint32][]Route) {
	for {
		old := t.current.Load()
		next := &snapshot{scopes: make(map[uint32]*iradix.Tree, len(old.scopes)+len(routes))}
		for scope, tree := range old.scopes {
			next.scopes[scope] = tree
		}
		for scope, rs := range routes {
			next.scopes[scope] = buildTree(rs)
		}
		if t.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// Routes returns every route of a scope ordered by prefix bits.
func (t *Table) Routes(scope uint32) []Route {
	tree, ok := t.current.Load().scopes[scope]
	if !ok {
		return nil
	}

	routes := make([]Route, 0, tree.Len())
	tree.Root().Walk(func(_ []byte, v interface{}) bool {
		routes = append(routes, v.(Route))
		return false
	})
	return routes
}

func buildTree(routes []Route) *iradix.Tree {
	txn := iradix.New().Txn()
	for _, r := range routes {
		if !r.Prefix.Addr().Is6() {
			continue
		}
		key := prefixKey(r.Prefix)
		if existing, ok := txn.Get(key); ok && existing.(Route).Metric <= r.Metric {
			continue
		}
		txn.Insert(key, r)
	}
	return txn.Commit()
}

// prefixKey encodes a prefix as one byte per significant bit.
func prefixKey(p netip.Prefix) []byte {
	p = p.Masked()
	a := p.Addr().As16()
	key := make([]byte, p.Bits())
	for i := range key {
		key[i] = (a[i/8] >> (7 - i%8)) & 1
	}
	return key
}
