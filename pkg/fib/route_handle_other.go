//go:build !linux

package fib

// NewRouteHandle creates a fake in-memory route handle on non-Linux systems.
func NewRouteHandle() (RouteHandle, error) {
	return NewFakeRouteHandle(), nil
}
