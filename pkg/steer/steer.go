package steer

import (
	"fmt"

	"github.com/easzlab/eznat66/pkg/config"
	"github.com/easzlab/eznat66/pkg/dataplane"
	"github.com/easzlab/eznat66/pkg/stats"
)

// Rule sends the IPv6 traffic entering one interface to a range of queues.
type Rule struct {
	Interface  string
	Direction  stats.Direction
	QueueFirst uint16
	QueueLast  uint16
}

// Key returns a unique string identifier for this rule.
func (r Rule) Key() string {
	return fmt.Sprintf("%s/%s", r.Interface, r.Direction)
}

// Manager defines the interface for managing the packet steering rules.
// Implementations must be safe for concurrent use.
type Manager interface {
	// Reconcile ensures the installed steering rules match the desired state.
	// Rules not in the desired set are removed; missing rules are added.
	Reconcile(desired []Rule) error

	// Cleanup removes all steering rules and the custom chain managed by this Manager.
	Cleanup() error
}

// BuildRules derives the steering rules of a configuration: inside interfaces
// feed the in2out queues, outside interfaces the out2in queues.
func BuildRules(cfg *config.Config) []Rule {
	workers := cfg.Dataplane.GetWorkers()
	base := cfg.Dataplane.GetQueueBase()

	var rules []Rule
	for _, ifc := range cfg.Interfaces {
		dir := stats.In2Out
		if ifc.Role == "outside" {
			if !cfg.Dataplane.IsOut2InEnabled() {
				continue
			}
			dir = stats.Out2In
		}
		first, last := dataplane.QueueRange(base, workers, dir)
		rules = append(rules, Rule{
			Interface:  ifc.Name,
			Direction:  dir,
			QueueFirst: first,
			QueueLast:  last,
		})
	}
	return rules
}

// buildRuleSpec constructs the ip6tables rule arguments for a given Rule.
func buildRuleSpec(rule Rule) []string {
	spec := []string{"-i", rule.Interface, "-j", "NFQUEUE"}
	if rule.QueueFirst == rule.QueueLast {
		spec = append(spec, "--queue-num", fmt.Sprint(rule.QueueFirst))
	} else {
		spec = append(spec, "--queue-balance", fmt.Sprintf("%d:%d", rule.QueueFirst, rule.QueueLast), "--queue-cpu-fanout")
	}
	return append(spec, "--queue-bypass")
}
