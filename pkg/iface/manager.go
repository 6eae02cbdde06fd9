package iface

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/easzlab/eznat66/pkg/config"
	"go.uber.org/zap"
)

// Manager resolves configured interfaces and publishes them into a Roster.
// It re-resolves the last applied configuration when links change.
type Manager struct {
	roster       *Roster
	handle       LinkHandle
	refresh      time.Duration
	configs      []config.InterfaceConfig
	defaultScope uint32
	mu           sync.Mutex
	trigger      chan struct{}
	logger       *zap.Logger
}

// NewManager creates a new interface Manager.
func NewManager(handle LinkHandle, defaultScope uint32, refresh time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		roster:       NewRoster(defaultScope),
		handle:       handle,
		refresh:      refresh,
		defaultScope: defaultScope,
		trigger:      make(chan struct{}, 1),
		logger:       logger,
	}
}

// Roster returns the roster published by this Manager.
func (m *Manager) Roster() *Roster {
	return m.roster
}

// Apply resolves every configured interface and publishes the new roster.
// Interfaces that cannot be resolved are left out and reported in the
// returned error; the rest are still published.
func (m *Manager) Apply(configs []config.InterfaceConfig, defaultScope uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configs = slices.Clone(configs)
	m.defaultScope = defaultScope
	return m.resolveLocked(true)
}

// Refresh re-resolves the last applied configuration. The roster is only
// republished when an interface index changed.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(false)
}

func (m *Manager) resolveLocked(force bool) error {
	entries := make([]Entry, 0, len(m.configs))
	var applyErrors []error

	for _, ifc := range m.configs {
		role, err := ParseRole(ifc.Role)
		if err != nil {
			applyErrors = append(applyErrors, fmt.Errorf("interface %q: %w", ifc.Name, err))
			continue
		}
		index, err := m.handle.LinkIndex(ifc.Name)
		if err != nil {
			applyErrors = append(applyErrors, fmt.Errorf("interface %q: %w", ifc.Name, err))
			continue
		}

		entries = append(entries, Entry{
			Index: index,
			Name:  ifc.Name,
			Role:  role,
			Scope: ifc.GetScope(m.defaultScope),
		})
	}

	if force || !slices.Equal(entries, m.roster.Entries()) {
		m.roster.Publish(entries, m.defaultScope)
		for _, entry := range entries {
			m.logger.Debug("resolved interface",
				zap.String("name", entry.Name),
				zap.Uint32("index", entry.Index),
				zap.Stringer("role", entry.Role),
				zap.Uint32("scope", entry.Scope),
			)
		}
		m.logger.Info("interface roster updated", zap.Int("interfaces", len(entries)))
	}

	return errors.Join(applyErrors...)
}

// Trigger requests an asynchronous Refresh from Run.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run keeps the roster in sync with the kernel links until ctx is done:
// on link change notifications and every refresh interval.
func (m *Manager) Run(ctx context.Context) error {
	go func() {
		if err := m.handle.Subscribe(ctx, m.Trigger); err != nil {
			m.logger.Warn("link change subscription stopped, relying on periodic refresh", zap.Error(err))
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
		if err := m.Refresh(); err != nil {
			m.logger.Warn("failed to resolve interfaces", zap.Error(err))
		}
	}
}
