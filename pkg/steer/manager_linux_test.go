//go:build linux

package steer

import (
	"testing"

	"go.uber.org/zap"
)

var _ Manager = (*linuxManager)(nil)

func TestNewManagerUsesIP6TablesOnLinux(t *testing.T) {
	mgr, err := NewManager(zap.NewNop())
	if err != nil {
		t.Skipf("ip6tables not usable here: %v", err)
	}
	defer mgr.Cleanup()

	if _, ok := mgr.(*linuxManager); !ok {
		t.Fatalf("expected the ip6tables manager on linux, got %T", mgr)
	}
}
