package stats

import (
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/easzlab/eznat66/pkg/mapping"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersPerWorker(t *testing.T) {
	c := NewCounters(4, 16)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Increment(worker, 3, 1, 100)
			}
		}(w)
	}
	wg.Wait()

	packets, bytes := c.Combined(3)
	if packets != 4000 || bytes != 400000 {
		t.Errorf("Combined(3) = %d packets, %d bytes", packets, bytes)
	}
	if packets, _ := c.Combined(4); packets != 0 {
		t.Errorf("untouched slot has %d packets", packets)
	}

	c.Zero(3)
	if packets, bytes := c.Combined(3); packets != 0 || bytes != 0 {
		t.Errorf("Zero left %d packets, %d bytes", packets, bytes)
	}
}

func TestNodeCounters(t *testing.T) {
	n := NewNodeCounters(2)
	n.AddProcessed(In2Out, 0, 5)
	n.AddProcessed(In2Out, 1, 2)
	n.Count(In2Out, 0, ReasonUnknown)
	n.Count(Out2In, 1, ReasonTranslated)

	if got := n.Processed(In2Out); got != 7 {
		t.Errorf("Processed(in2out) = %d, want 7", got)
	}
	if got := n.Processed(Out2In); got != 0 {
		t.Errorf("Processed(out2in) = %d, want 0", got)
	}
	if got := n.Reason(In2Out, ReasonUnknown); got != 1 {
		t.Errorf("unknown = %d, want 1", got)
	}
	if got := n.Reason(Out2In, ReasonTranslated); got != 1 {
		t.Errorf("out2in translated = %d, want 1", got)
	}
	if ReasonNoTranslation.Description() != "no translation" {
		t.Errorf("unexpected description %q", ReasonNoTranslation.Description())
	}
}

type staticMappings []mapping.Mapping

func (s staticMappings) All() []mapping.Mapping { return s }

func TestCollector(t *testing.T) {
	counters := NewCounters(2, 4)
	nodes := NewNodeCounters(2)
	mappings := staticMappings{{
		Inside:  netip.MustParseAddr("2001:db8::1"),
		Outside: netip.MustParseAddr("2001:db8:ffff::1"),
		Scope:   0,
		Slot:    2,
	}}

	counters.Increment(0, 2, 1, 80)
	counters.Increment(1, 2, 2, 120)
	nodes.AddProcessed(In2Out, 0, 3)
	nodes.Count(In2Out, 1, ReasonUnknown)

	collector := NewCollector(counters, nodes, mappings)

	expected := `
# HELP eznat66_mapping_bytes_total Total number of bytes translated by a mapping
# TYPE eznat66_mapping_bytes_total counter
eznat66_mapping_bytes_total{inside="2001:db8::1",outside="2001:db8:ffff::1",scope="0"} 200
# HELP eznat66_mapping_packets_total Total number of packets translated by a mapping
# TYPE eznat66_mapping_packets_total counter
eznat66_mapping_packets_total{inside="2001:db8::1",outside="2001:db8:ffff::1",scope="0"} 3
# HELP eznat66_packets_processed_total Total number of packets forwarded after processing
# TYPE eznat66_packets_processed_total counter
eznat66_packets_processed_total{direction="in2out"} 3
eznat66_packets_processed_total{direction="out2in"} 0
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"eznat66_mapping_bytes_total", "eznat66_mapping_packets_total", "eznat66_packets_processed_total")
	if err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}

	if got := testutil.CollectAndCount(collector, "eznat66_packets_total"); got != 6 {
		t.Errorf("expected 6 outcome series, got %d", got)
	}
}
