package iface

import (
	"context"
	"fmt"
	"sync"
)

// FakeLinkHandle resolves interface names from an in-memory table.
type FakeLinkHandle struct {
	links    map[string]uint32
	watchers []func()
	mu       sync.Mutex
}

// NewFakeLinkHandle creates a fake handle knowing the given name to index pairs.
func NewFakeLinkHandle(links map[string]uint32) *FakeLinkHandle {
	h := &FakeLinkHandle{links: make(map[string]uint32, len(links))}
	for name, index := range links {
		h.links[name] = index
	}
	return h
}

func (h *FakeLinkHandle) LinkIndex(name string) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	index, ok := h.links[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrLinkNotFound)
	}
	return index, nil
}

func (h *FakeLinkHandle) Subscribe(ctx context.Context, notify func()) error {
	h.mu.Lock()
	h.watchers = append(h.watchers, notify)
	h.mu.Unlock()

	<-ctx.Done()
	return nil
}

// SetLink adds or moves a fake interface and notifies subscribers.
func (h *FakeLinkHandle) SetLink(name string, index uint32) {
	h.mu.Lock()
	h.links[name] = index
	watchers := append([]func(){}, h.watchers...)
	h.mu.Unlock()

	for _, notify := range watchers {
		notify()
	}
}

// RemoveLink deletes a fake interface and notifies subscribers.
func (h *FakeLinkHandle) RemoveLink(name string) {
	h.mu.Lock()
	delete(h.links, name)
	watchers := append([]func(){}, h.watchers...)
	h.mu.Unlock()

	for _, notify := range watchers {
		notify()
	}
}
