// SPDX-License-Identifier: Apache-2.0

// Package metrics exports the counters of an mps arena to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wundergraph/go-mps"
)

const (
	namespace = "mps"
	subsystem = "arena"
)

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(s *mps.ArenaStats) float64
}

// Collector is a prometheus.Collector reading ArenaStats snapshots. Every
// scrape takes the arena lock once.
type Collector struct {
	arena   *mps.Arena
	metrics []metric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for arena. constLabels are attached to
// every metric, which lets several arenas share a registry.
func NewCollector(arena *mps.Arena, constLabels prometheus.Labels) *Collector {
	gauge := func(name, help string, v func(s *mps.ArenaStats) float64) metric {
		return metric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, constLabels),
			kind:  prometheus.GaugeValue,
			value: v,
		}
	}
	counter := func(name, help string, v func(s *mps.ArenaStats) uint64) metric {
		return metric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, constLabels),
			kind:  prometheus.CounterValue,
			value: func(s *mps.ArenaStats) float64 { return float64(v(s)) },
		}
	}

	return &Collector{
		arena: arena,
		metrics: []metric{
			gauge("reserved_bytes", "Bytes of reserved address space.",
				func(s *mps.ArenaStats) float64 { return float64(s.Reserved) }),
			gauge("committed_bytes", "Bytes backed by memory, spare included.",
				func(s *mps.ArenaStats) float64 { return float64(s.Committed) }),
			gauge("peak_committed_bytes", "Highest committed bytes seen.",
				func(s *mps.ArenaStats) float64 { return float64(s.PeakCommitted) }),
			gauge("spare_committed_bytes", "Committed bytes not in use.",
				func(s *mps.ArenaStats) float64 { return float64(s.SpareCommitted) }),
			gauge("commit_limit_bytes", "Commit limit.",
				func(s *mps.ArenaStats) float64 { return float64(s.CommitLimit) }),
			gauge("pools", "Live pools.",
				func(s *mps.ArenaStats) float64 { return float64(s.Pools) }),
			gauge("last_pause_seconds", "Duration of the last collection.",
				func(s *mps.ArenaStats) float64 { return s.LastPause.Seconds() }),
			counter("collections_total", "Completed collections.",
				func(s *mps.ArenaStats) uint64 { return s.Collections }),
			counter("moved_collections_total", "Collections that may have moved objects.",
				func(s *mps.ArenaStats) uint64 { return s.MovedCollections }),
			counter("flips_total", "Allocation point flips.",
				func(s *mps.ArenaStats) uint64 { return s.Flips }),
			counter("trips_total", "Commits invalidated by a collection.",
				func(s *mps.ArenaStats) uint64 { return s.Trips }),
			counter("allocated_bytes_total", "Bytes handed to allocation points.",
				func(s *mps.ArenaStats) uint64 { return s.BytesAllocated }),
			counter("reclaimed_bytes_total", "Bytes reclaimed by collections.",
				func(s *mps.ArenaStats) uint64 { return s.BytesReclaimed }),
			counter("segments_freed_total", "Segments returned to the arena.",
				func(s *mps.ArenaStats) uint64 { return s.SegmentsFreed }),
			counter("objects_marked_total", "Objects preserved in place.",
				func(s *mps.ArenaStats) uint64 { return s.ObjectsMarked }),
			counter("objects_moved_total", "Objects copied by collections.",
				func(s *mps.ArenaStats) uint64 { return s.ObjectsMoved }),
			counter("nailed_segments_total", "Segments pinned by ambiguous references.",
				func(s *mps.ArenaStats) uint64 { return s.Nailed }),
			counter("emergency_scans_total", "Scans that failed and were retried without moving.",
				func(s *mps.ArenaStats) uint64 { return s.EmergencyScans }),
			counter("fence_violations_total", "Buffers whose fence was overwritten.",
				func(s *mps.ArenaStats) uint64 { return s.FenceViolations }),
			counter("summary_violations_total", "Scans that fixed a reference without tallying it.",
				func(s *mps.ArenaStats) uint64 { return s.SummaryViolations }),
			counter("long_pauses_total", "Collections that exceeded the pause time.",
				func(s *mps.ArenaStats) uint64 { return s.LongPauses }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.arena.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(&s))
	}
}
