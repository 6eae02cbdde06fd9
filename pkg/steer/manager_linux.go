//go:build linux

package steer

import (
	"fmt"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"go.uber.org/zap"
)

const (
	mangleTable = "mangle"
	steerChain  = "EZNAT66"
	hookChain   = "PREROUTING"
)

// linuxManager manages ip6tables steering rules on Linux using coreos/go-iptables.
type linuxManager struct {
	ipt     *iptables.IPTables
	managed map[string]Rule
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewManager creates a new steering Manager backed by real ip6tables operations.
func NewManager(logger *zap.Logger) (Manager, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		return nil, fmt.Errorf("failed to create ip6tables handle: %w", err)
	}

	mgr := &linuxManager{
		ipt:     ipt,
		managed: make(map[string]Rule),
		logger:  logger,
	}

	if err := mgr.ensureChain(); err != nil {
		return nil, fmt.Errorf("failed to initialize steering chain: %w", err)
	}

	return mgr, nil
}

// ensureChain creates the EZNAT66 chain and adds a jump rule from PREROUTING.
// Rules left in the chain by a previous run are flushed.
func (m *linuxManager) ensureChain() error {
	exists, err := m.ipt.ChainExists(mangleTable, steerChain)
	if err != nil {
		return fmt.Errorf("failed to check chain existence: %w", err)
	}
	if !exists {
		if err := m.ipt.NewChain(mangleTable, steerChain); err != nil {
			return fmt.Errorf("failed to create chain %s: %w", steerChain, err)
		}
		m.logger.Info("created ip6tables chain", zap.String("chain", steerChain))
	} else if err := m.ipt.ClearChain(mangleTable, steerChain); err != nil {
		return fmt.Errorf("failed to flush chain %s: %w", steerChain, err)
	}

	if err := m.ipt.AppendUnique(mangleTable, hookChain, "-j", steerChain); err != nil {
		return fmt.Errorf("failed to add jump rule to %s: %w", hookChain, err)
	}

	return nil
}

// Reconcile compares desired steering rules with the currently managed set,
// adding missing rules and removing stale ones.
func (m *linuxManager) Reconcile(desired []Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	desiredMap := make(map[string]Rule, len(desired))
	for _, rule := range desired {
		desiredMap[rule.Key()] = rule
	}

	for key, rule := range m.managed {
		if _, exists := desiredMap[key]; !exists {
			if err := m.ipt.DeleteIfExists(mangleTable, steerChain, buildRuleSpec(rule)...); err != nil {
				m.logger.Error("failed to delete steering rule", zap.String("key", key), zap.Error(err))
			} else {
				delete(m.managed, key)
				m.logger.Info("deleted steering rule", zap.String("key", key))
			}
		}
	}

	for key, rule := range desiredMap {
		existing, exists := m.managed[key]
		if exists && existing == rule {
			continue
		}
		// The queue range changed; replace the old rule.
		if exists {
			if err := m.ipt.DeleteIfExists(mangleTable, steerChain, buildRuleSpec(existing)...); err != nil {
				m.logger.Error("failed to delete old steering rule for update", zap.String("key", key), zap.Error(err))
				continue
			}
		}
		if err := m.ipt.AppendUnique(mangleTable, steerChain, buildRuleSpec(rule)...); err != nil {
			m.logger.Error("failed to add steering rule", zap.String("key", key), zap.Error(err))
		} else {
			m.managed[key] = rule
			m.logger.Info("added steering rule",
				zap.String("key", key),
				zap.Uint16("queue_first", rule.QueueFirst),
				zap.Uint16("queue_last", rule.QueueLast),
			)
		}
	}

	return nil
}

// Cleanup removes all managed steering rules, the jump rule, and the custom chain.
func (m *linuxManager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ipt.ClearChain(mangleTable, steerChain); err != nil {
		m.logger.Error("failed to clear steering chain", zap.Error(err))
	}

	if err := m.ipt.DeleteIfExists(mangleTable, hookChain, "-j", steerChain); err != nil {
		m.logger.Error("failed to delete jump rule", zap.String("chain", hookChain), zap.Error(err))
	}

	if err := m.ipt.DeleteChain(mangleTable, steerChain); err != nil {
		m.logger.Error("failed to delete steering chain", zap.Error(err))
	}

	m.managed = make(map[string]Rule)
	m.logger.Info("cleaned up all steering rules")
	return nil
}
