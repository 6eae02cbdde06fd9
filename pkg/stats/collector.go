package stats

import (
	"strconv"

	"github.com/easzlab/eznat66/pkg/mapping"
	"github.com/prometheus/client_golang/prometheus"
)

// MappingSource lists the mappings whose counters are exported.
type MappingSource interface {
	All() []mapping.Mapping
}

// Collector exports combined counters to Prometheus. Worker rows are summed
// at scrape time; workers are never blocked.
type Collector struct {
	counters *Counters
	nodes    *NodeCounters
	mappings MappingSource

	mappingPackets *prometheus.Desc
	mappingBytes   *prometheus.Desc
	processed      *prometheus.Desc
	outcomes       *prometheus.Desc
	activeMappings *prometheus.Desc
}

// NewCollector creates a Collector over the given counters.
func NewCollector(counters *Counters, nodes *NodeCounters, mappings MappingSource) *Collector {
	return &Collector{
		counters: counters,
		nodes:    nodes,
		mappings: mappings,
		mappingPackets: prometheus.NewDesc(
			"eznat66_mapping_packets_total",
			"Total number of packets translated by a mapping",
			[]string{"inside", "outside", "scope"}, nil,
		),
		mappingBytes: prometheus.NewDesc(
			"eznat66_mapping_bytes_total",
			"Total number of bytes translated by a mapping",
			[]string{"inside", "outside", "scope"}, nil,
		),
		processed: prometheus.NewDesc(
			"eznat66_packets_processed_total",
			"Total number of packets forwarded after processing",
			[]string{"direction"}, nil,
		),
		outcomes: prometheus.NewDesc(
			"eznat66_packets_total",
			"Total number of packets by processing outcome",
			[]string{"direction", "reason"}, nil,
		),
		activeMappings: prometheus.NewDesc(
			"eznat66_mappings",
			"Number of active mappings",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.mappingPackets
	ch <- c.mappingBytes
	ch <- c.processed
	ch <- c.outcomes
	ch <- c.activeMappings
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	all := c.mappings.All()
	ch <- prometheus.MustNewConstMetric(c.activeMappings, prometheus.GaugeValue, float64(len(all)))

	for _, m := range all {
		packets, bytes := c.counters.Combined(m.Slot)
		labels := []string{m.Inside.String(), m.Outside.String(), strconv.FormatUint(uint64(m.Scope), 10)}
		ch <- prometheus.MustNewConstMetric(c.mappingPackets, prometheus.CounterValue, float64(packets), labels...)
		ch <- prometheus.MustNewConstMetric(c.mappingBytes, prometheus.CounterValue, float64(bytes), labels...)
	}

	for _, dir := range []Direction{In2Out, Out2In} {
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(c.nodes.Processed(dir)), dir.String())
		for r := Reason(0); r < numReasons; r++ {
			ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.CounterValue, float64(c.nodes.Reason(dir, r)), dir.String(), r.String())
		}
	}
}
