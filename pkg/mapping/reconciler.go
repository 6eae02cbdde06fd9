package mapping

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/easzlab/eznat66/pkg/config"
	"go.uber.org/zap"
)

var (
	// ErrSlotsExhausted is returned when every counter slot is in use.
	ErrSlotsExhausted = errors.New("no free counter slot")

	// ErrDuplicateMapping is returned when two mappings share an address within a scope.
	ErrDuplicateMapping = errors.New("duplicate mapping")
)

// SlotResetter clears the counters of a slot before it is handed to a new mapping.
type SlotResetter interface {
	Zero(slot uint32)
}

// Reconciler implements declarative reconciliation between the configured
// mappings and the published mapping table.
type Reconciler struct {
	table    *Table
	counters SlotResetter
	capacity uint32
	current  map[Key]Mapping
	free     []uint32
	next     uint32
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewReconciler creates a Reconciler publishing into table, with capacity counter slots.
func NewReconciler(table *Table, counters SlotResetter, capacity int, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		table:    table,
		counters: counters,
		capacity: uint32(capacity),
		current:  make(map[Key]Mapping),
		logger:   logger,
	}
}

// Reconcile compares the desired mappings with the published ones, keeps the
// counter slot of every mapping whose key survives, and publishes the result
// in a single snapshot. Slots released here are reused from the next call on.
func (r *Reconciler) Reconcile(desired []config.MappingConfig, defaultScope uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("starting mapping reconcile", zap.Int("desired_mappings", len(desired)))

	desiredMap, err := buildDesiredState(desired, defaultScope)
	if err != nil {
		return fmt.Errorf("failed to build desired state: %w", err)
	}

	var reconcileErrors []error
	var released []uint32

	// Delete mappings that are no longer configured
	for key, m := range r.current {
		if _, exists := desiredMap[key]; !exists {
			delete(r.current, key)
			released = append(released, m.Slot)
			r.logger.Info("deleted mapping", zap.Stringer("mapping", m), zap.Uint32("slot", m.Slot))
		}
	}

	// Create new mappings and update changed outside addresses in place
	for _, key := range sortedKeys(desiredMap) {
		outside := desiredMap[key]
		existing, exists := r.current[key]
		if exists {
			if existing.Outside != outside {
				r.logger.Info("updated mapping",
					zap.Stringer("mapping", existing),
					zap.Stringer("outside", outside),
				)
				existing.Outside = outside
				r.current[key] = existing
			}
			continue
		}

		slot, err := r.allocateSlot()
		if err != nil {
			reconcileErrors = append(reconcileErrors, fmt.Errorf("create mapping %s: %w", key, err))
			continue
		}
		m := Mapping{Inside: key.Inside, Outside: outside, Scope: key.Scope, Slot: slot}
		r.current[key] = m
		r.logger.Info("created mapping", zap.Stringer("mapping", m), zap.Uint32("slot", slot))
	}

	r.free = append(r.free, released...)
	r.table.Publish(r.mappingsLocked())

	if len(reconcileErrors) > 0 {
		r.logger.Error("mapping reconcile completed with errors", zap.Int("error_count", len(reconcileErrors)))
		return errors.Join(reconcileErrors...)
	}

	r.logger.Info("mapping reconcile completed successfully", zap.Int("mappings", len(r.current)))
	return nil
}

// Mappings returns the currently published mappings ordered by key.
func (r *Reconciler) Mappings() []Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mappingsLocked()
}

func (r *Reconciler) mappingsLocked() []Mapping {
	result := make([]Mapping, 0, len(r.current))
	for _, m := range r.current {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		return lessKey(Key{result[i].Inside, result[i].Scope}, Key{result[j].Inside, result[j].Scope})
	})
	return result
}

// allocateSlot takes the oldest released slot, or the next never-used one.
func (r *Reconciler) allocateSlot() (uint32, error) {
	var slot uint32
	switch {
	case len(r.free) > 0:
		slot = r.free[0]
		r.free = r.free[1:]
	case r.next < r.capacity:
		slot = r.next
		r.next++
	default:
		return 0, ErrSlotsExhausted
	}
	r.counters.Zero(slot)
	return slot, nil
}

// buildDesiredState converts configured mappings into key -> outside address.
func buildDesiredState(configs []config.MappingConfig, defaultScope uint32) (map[Key]netip.Addr, error) {
	result := make(map[Key]netip.Addr, len(configs))
	outsides := make(map[Key]bool, len(configs))

	for i, mc := range configs {
		inside, err := netip.ParseAddr(mc.Inside)
		if err != nil {
			return nil, fmt.Errorf("mapping[%d]: invalid inside address %q: %w", i, mc.Inside, err)
		}
		outside, err := netip.ParseAddr(mc.Outside)
		if err != nil {
			return nil, fmt.Errorf("mapping[%d]: invalid outside address %q: %w", i, mc.Outside, err)
		}
		if !inside.Is6() || !outside.Is6() {
			return nil, fmt.Errorf("mapping[%d]: addresses must be IPv6", i)
		}

		scope := mc.GetScope(defaultScope)
		key := Key{Inside: inside, Scope: scope}
		if _, exists := result[key]; exists {
			return nil, fmt.Errorf("mapping[%d]: inside %s: %w", i, key, ErrDuplicateMapping)
		}
		outKey := Key{Inside: outside, Scope: scope}
		if outsides[outKey] {
			return nil, fmt.Errorf("mapping[%d]: outside %s: %w", i, outKey, ErrDuplicateMapping)
		}
		result[key] = outside
		outsides[outKey] = true
	}

	return result, nil
}

func sortedKeys(m map[Key]netip.Addr) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}

func lessKey(a, b Key) bool {
	if a.Scope != b.Scope {
		return a.Scope < b.Scope
	}
	return a.Inside.Less(b.Inside)
}
