package steer

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FakeManager provides an in-memory steering rule manager.
// It simulates ip6tables behavior for development and testing.
type FakeManager struct {
	managed map[string]Rule
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewFakeManager creates a fake in-memory steering Manager.
func NewFakeManager(logger *zap.Logger) *FakeManager {
	return &FakeManager{
		managed: make(map[string]Rule),
		logger:  logger,
	}
}

// Reconcile compares desired steering rules with the currently managed set in memory.
func (m *FakeManager) Reconcile(desired []Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	desiredMap := make(map[string]Rule, len(desired))
	for _, rule := range desired {
		desiredMap[rule.Key()] = rule
	}

	for key := range m.managed {
		if _, exists := desiredMap[key]; !exists {
			delete(m.managed, key)
			m.logger.Debug("fake: deleted steering rule", zap.String("key", key))
		}
	}

	for key, rule := range desiredMap {
		existing, exists := m.managed[key]
		if exists && existing == rule {
			continue
		}
		m.managed[key] = rule
		m.logger.Debug("fake: added steering rule",
			zap.String("key", key),
			zap.String("spec", strings.Join(buildRuleSpec(rule), " ")),
		)
	}

	return nil
}

// Cleanup removes all managed steering rules from memory.
func (m *FakeManager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.managed = make(map[string]Rule)
	m.logger.Debug("fake: cleaned up all steering rules")
	return nil
}

// GetManaged returns a copy of the currently managed rules (for testing).
func (m *FakeManager) GetManaged() map[string]Rule {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]Rule, len(m.managed))
	for k, v := range m.managed {
		result[k] = v
	}
	return result
}
