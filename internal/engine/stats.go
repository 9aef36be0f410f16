// SPDX-License-Identifier: Apache-2.0

package engine

import "time"

// Stats are the arena's counters. Gauges are filled in when the snapshot is
// taken.
type Stats struct {
	Committed        uintptr
	PeakCommitted    uintptr
	Spare            uintptr
	CommitLimit      uintptr
	Reserved         uintptr
	Pools            int
	Collections      uint64
	MovedCollections uint64

	Flips           uint64
	Trips           uint64
	BytesAllocated  uint64
	SegmentsFreed   uint64
	BytesFreed      uint64
	BytesReclaimed  uint64
	ObjectsMarked   uint64
	ObjectsMoved    uint64
	Nailed          uint64
	EmergencyScans  uint64
	FenceViolations uint64
	// SummaryViolations counts scans that fixed a reference without
	// tallying its zone first.
	SummaryViolations uint64
	// LastSummary is the zone set of every reference scanned by the last
	// cycle.
	LastSummary uint64
	LastPause   time.Duration
	LongPauses  uint64
}
