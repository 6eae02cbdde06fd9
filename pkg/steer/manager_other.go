//go:build !linux

package steer

import "go.uber.org/zap"

// NewManager creates a fake in-memory steering Manager on non-Linux systems.
func NewManager(logger *zap.Logger) (Manager, error) {
	return NewFakeManager(logger), nil
}
