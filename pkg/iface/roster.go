package iface

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrLinkNotFound is returned when a configured interface does not exist.
var ErrLinkNotFound = errors.New("link not found")

// Role is the side of the translator an interface faces.
type Role uint8

const (
	RoleInside Role = iota + 1
	RoleOutside
)

// String returns the configuration name of the role.
func (r Role) String() string {
	switch r {
	case RoleInside:
		return "inside"
	case RoleOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// ParseRole converts a configuration string into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "inside":
		return RoleInside, nil
	case "outside":
		return RoleOutside, nil
	default:
		return 0, fmt.Errorf("unsupported interface role %q", s)
	}
}

// Entry is one interface of the roster.
type Entry struct {
	Index uint32
	Name  string
	Role  Role
	Scope uint32
}

type rosterState struct {
	entries      []Entry
	defaultScope uint32
}

// Roster is the set of interfaces taking part in translation. Reads go
// against an immutable snapshot and may race a concurrent Publish.
type Roster struct {
	state atomic.Pointer[rosterState]
}

// NewRoster creates an empty Roster whose unknown interfaces map to defaultScope.
func NewRoster(defaultScope uint32) *Roster {
	r := &Roster{}
	r.state.Store(&rosterState{defaultScope: defaultScope})
	return r
}

// Publish atomically replaces the roster content.
func (r *Roster) Publish(entries []Entry, defaultScope uint32) {
	r.state.Store(&rosterState{
		entries:      append([]Entry(nil), entries...),
		defaultScope: defaultScope,
	})
}

// IsOutside reports whether index belongs to an outside interface. The scan
// stops at the first outside entry with a matching index.
func (r *Roster) IsOutside(index uint32) bool {
	for _, e := range r.state.Load().entries {
		if e.Role == RoleOutside && e.Index == index {
			return true
		}
	}
	return false
}

// ScopeOf returns the routing scope of the ingress interface index.
func (r *Roster) ScopeOf(index uint32) uint32 {
	st := r.state.Load()
	for _, e := range st.entries {
		if e.Index == index {
			return e.Scope
		}
	}
	return st.defaultScope
}

// Entries returns a copy of the current roster.
func (r *Roster) Entries() []Entry {
	return append([]Entry(nil), r.state.Load().entries...)
}
