package fib

import (
	"context"
	"sync"
)

// FakeRouteHandle provides in-memory routing tables for non-Linux systems and tests.
type FakeRouteHandle struct {
	tables   map[uint32][]Route
	watchers []func()
	mu       sync.Mutex
}

// NewFakeRouteHandle creates an empty fake route handle.
func NewFakeRouteHandle() *FakeRouteHandle {
	return &FakeRouteHandle{tables: make(map[uint32][]Route)}
}

func (h *FakeRouteHandle) Close() {}

func (h *FakeRouteHandle) Routes(scope uint32) ([]Route, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]Route(nil), h.tables[scope]...), nil
}

func (h *FakeRouteHandle) Subscribe(ctx context.Context, notify func()) error {
	h.mu.Lock()
	h.watchers = append(h.watchers, notify)
	h.mu.Unlock()

	<-ctx.Done()
	return nil
}

// SetRoutes replaces the routes of a scope and notifies subscribers.
func (h *FakeRouteHandle) SetRoutes(scope uint32, routes []Route) {
	h.mu.Lock()
	h.tables[scope] = append([]Route(nil), routes...)
	watchers := append([]func(){}, h.watchers...)
	h.mu.Unlock()

	for _, notify := range watchers {
		notify()
	}
}
