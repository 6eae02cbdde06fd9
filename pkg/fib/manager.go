package fib

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager mirrors the kernel routing tables of the configured scopes into a Table.
type Manager struct {
	table   *Table
	handle  RouteHandle
	scopes  map[uint32]bool
	refresh time.Duration
	trigger chan struct{}
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewManager creates a new FIB Manager backed by the given route handle.
func NewManager(handle RouteHandle, refresh time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		table:   NewTable(),
		handle:  handle,
		scopes:  make(map[uint32]bool),
		refresh: refresh,
		trigger: make(chan struct{}, 1),
		logger:  logger,
	}
}

// Table returns the table kept in sync by this Manager.
func (m *Manager) Table() *Table {
	return m.table
}

// SetScopes replaces the set of routing scopes to mirror. Scopes that are no
// longer wanted are emptied on the next Sync.
func (m *Manager) SetScopes(scopes []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[uint32]bool, len(scopes))
	for _, s := range scopes {
		next[s] = true
	}
	for s := range m.scopes {
		if !next[s] {
			next[s] = false
		}
	}
	m.scopes = next
}

// Sync reads every configured scope from the route handle and publishes them
// in one snapshot.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scopes := make([]uint32, 0, len(m.scopes))
	for s := range m.scopes {
		scopes = append(scopes, s)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })

	routes := make(map[uint32][]Route, len(scopes))
	var syncErrors []error
	for _, s := range scopes {
		if !m.scopes[s] {
			routes[s] = nil
			delete(m.scopes, s)
			continue
		}
		rs, err := m.handle.Routes(s)
		if err != nil {
			syncErrors = append(syncErrors, fmt.Errorf("scope %d: %w", s, err))
			continue
		}
		routes[s] = rs
	}

	m.table.Replace(routes)
	m.logger.Debug("routing tables synced", zap.Int("scopes", len(routes)))

	if len(syncErrors) > 0 {
		return errors.Join(syncErrors...)
	}
	return nil
}

// Trigger requests an asynchronous Sync from Run.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run keeps the table in sync until ctx is done: on route change
// notifications and every refresh interval.
func (m *Manager) Run(ctx context.Context) error {
	go func() {
		if err := m.handle.Subscribe(ctx, m.Trigger); err != nil {
			m.logger.Warn("route change subscription stopped, relying on periodic refresh", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-m.trigger:
		}
		if err := m.Sync(); err != nil {
			m.logger.Error("failed to sync routing tables", zap.Error(err))
		}
	}
}
