package steer

import (
	"reflect"
	"testing"

	"github.com/easzlab/eznat66/pkg/config"
	"github.com/easzlab/eznat66/pkg/stats"
	"go.uber.org/zap"
)

func boolPtr(v bool) *bool { return &v }

func TestRuleKey(t *testing.T) {
	rule := Rule{Interface: "wan0", Direction: stats.Out2In, QueueFirst: 4, QueueLast: 7}
	if rule.Key() != "wan0/out2in" {
		t.Errorf("unexpected key %q", rule.Key())
	}
}

func TestBuildRuleSpec(t *testing.T) {
	single := buildRuleSpec(Rule{Interface: "lan0", QueueFirst: 6600, QueueLast: 6600})
	want := []string{"-i", "lan0", "-j", "NFQUEUE", "--queue-num", "6600", "--queue-bypass"}
	if !reflect.DeepEqual(single, want) {
		t.Errorf("single queue spec = %v, want %v", single, want)
	}

	balanced := buildRuleSpec(Rule{Interface: "lan0", QueueFirst: 6600, QueueLast: 6603})
	want = []string{"-i", "lan0", "-j", "NFQUEUE", "--queue-balance", "6600:6603", "--queue-cpu-fanout", "--queue-bypass"}
	if !reflect.DeepEqual(balanced, want) {
		t.Errorf("balanced spec = %v, want %v", balanced, want)
	}
}

func TestBuildRules(t *testing.T) {
	cfg := &config.Config{
		Dataplane: config.DataplaneConfig{Workers: 2, QueueBase: 100},
		Interfaces: []config.InterfaceConfig{
			{Name: "lan0", Role: "inside"},
			{Name: "wan0", Role: "outside"},
		},
	}

	rules := BuildRules(cfg)
	want := []Rule{
		{Interface: "lan0", Direction: stats.In2Out, QueueFirst: 100, QueueLast: 101},
		{Interface: "wan0", Direction: stats.Out2In, QueueFirst: 102, QueueLast: 103},
	}
	if !reflect.DeepEqual(rules, want) {
		t.Errorf("BuildRules = %+v, want %+v", rules, want)
	}

	cfg.Dataplane.Out2In = boolPtr(false)
	rules = BuildRules(cfg)
	if len(rules) != 1 || rules[0].Interface != "lan0" {
		t.Errorf("expected only the inside rule without out2in, got %+v", rules)
	}
}

func TestFakeManagerReconcile(t *testing.T) {
	fakeMgr := NewFakeManager(zap.NewNop())
	var mgr Manager = fakeMgr

	desired := []Rule{
		{Interface: "lan0", Direction: stats.In2Out, QueueFirst: 1, QueueLast: 2},
		{Interface: "wan0", Direction: stats.Out2In, QueueFirst: 3, QueueLast: 4},
	}
	if err := mgr.Reconcile(desired); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(fakeMgr.GetManaged()) != 2 {
		t.Fatalf("expected 2 managed rules, got %d", len(fakeMgr.GetManaged()))
	}

	// Widen the in2out range and drop the outside interface.
	desired = []Rule{{Interface: "lan0", Direction: stats.In2Out, QueueFirst: 1, QueueLast: 4}}
	if err := mgr.Reconcile(desired); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	managed := fakeMgr.GetManaged()
	if len(managed) != 1 {
		t.Fatalf("expected 1 managed rule, got %d", len(managed))
	}
	if managed["lan0/in2out"].QueueLast != 4 {
		t.Errorf("expected updated queue range, got %+v", managed["lan0/in2out"])
	}

	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(fakeMgr.GetManaged()) != 0 {
		t.Error("expected no rules after cleanup")
	}
}
