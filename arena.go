// SPDX-License-Identifier: Apache-2.0

package mps

import (
	"log/slog"
	"time"

	"github.com/wundergraph/go-mps/internal/engine"
)

// Addr is an address of managed memory. The zero Addr is null.
type Addr = engine.Addr

// Arena is the top-level memory manager instance. Pools, formats, roots
// and threads are created from an arena and must all be destroyed before
// it.
type Arena struct {
	e   *engine.Arena
	log *slog.Logger
}

type arenaConfig struct {
	size        uintptr
	commitLimit uintptr
	spare       float64
	pauseTime   time.Duration
	trigger     uintptr
	logger      *slog.Logger
}

// ArenaOption represents a configuration option for an arena.
type ArenaOption func(*arenaConfig)

// WithArenaSize sets the size of the reserved address space. It defaults
// to 256MB.
func WithArenaSize(size uintptr) ArenaOption {
	return func(c *arenaConfig) {
		c.size = size
	}
}

// WithCommitLimit caps the memory the arena may commit. The default is no
// limit.
func WithCommitLimit(limit uintptr) ArenaOption {
	return func(c *arenaConfig) {
		c.commitLimit = limit
	}
}

// WithSpare sets the fraction of committed memory that may be kept
// committed while unused. It panics unless 0 <= spare <= 1.
func WithSpare(spare float64) ArenaOption {
	if !(spare >= 0 && spare <= 1) {
		panic("mps: spare must be between 0 and 1")
	}
	return func(c *arenaConfig) {
		c.spare = spare
	}
}

// WithPauseTime sets the pause time budget. It panics if d is negative.
func WithPauseTime(d time.Duration) ArenaOption {
	if d < 0 {
		panic("mps: pause time must not be negative")
	}
	return func(c *arenaConfig) {
		c.pauseTime = d
	}
}

// WithCollectionTrigger starts a collection whenever the given number of
// bytes has been handed to allocation points since the last one. Zero
// disables automatic collections.
func WithCollectionTrigger(bytes uintptr) ArenaOption {
	return func(c *arenaConfig) {
		c.trigger = bytes
	}
}

// WithLogger sets the logger the arena reports to. Nothing is logged by
// default.
func WithLogger(logger *slog.Logger) ArenaOption {
	return func(c *arenaConfig) {
		c.logger = logger
	}
}

// NewArena reserves address space and creates an arena in it.
func NewArena(opts ...ArenaOption) (*Arena, error) {
	c := &arenaConfig{
		size:      engine.DefaultSize,
		spare:     engine.DefaultSpare,
		pauseTime: time.Duration(engine.DefaultPauseTime * float64(time.Second)),
	}
	for _, opt := range opts {
		opt(c)
	}
	e, res := engine.NewArena(engine.Config{
		Size:        c.size,
		CommitLimit: c.commitLimit,
		Spare:       c.spare,
		PauseTime:   c.pauseTime.Seconds(),
		Trigger:     c.trigger,
		Logger:      c.logger,
	})
	if err := wrapRes("create arena", res); err != nil {
		return nil, err
	}
	return &Arena{e: e, log: e.Logger()}, nil
}

// Destroy releases the arena's address space. It panics if any pool,
// format, root or thread of the arena is still alive.
func (a *Arena) Destroy() {
	a.e.Destroy()
}

// Reserved returns the size of the reserved address space.
func (a *Arena) Reserved() uintptr {
	return a.e.Reserved()
}

// Committed returns the bytes of the arena backed by memory, including
// spare committed memory.
func (a *Arena) Committed() uintptr {
	return a.e.Committed()
}

// SpareCommitted returns the committed bytes not in use.
func (a *Arena) SpareCommitted() uintptr {
	return a.e.Spare()
}

// SpareLimit returns the spare fraction the arena was created with.
func (a *Arena) SpareLimit() float64 {
	return a.e.SpareRatio()
}

// CommitLimit returns the arena's commit limit.
func (a *Arena) CommitLimit() uintptr {
	return a.e.CommitLimit()
}

// SetCommitLimit changes the commit limit. It fails with ErrInvalidParam
// when limit is below the bytes currently in use.
func (a *Arena) SetCommitLimit(limit uintptr) error {
	return wrapRes("set commit limit", a.e.SetCommitLimit(limit))
}

// PauseTime returns the pause time budget.
func (a *Arena) PauseTime() time.Duration {
	return time.Duration(a.e.PauseTime() * float64(time.Second))
}

// SetPauseTime changes the pause time budget. It panics if d is negative.
func (a *Arena) SetPauseTime(d time.Duration) {
	if d < 0 {
		panic("mps: pause time must not be negative")
	}
	a.e.SetPauseTime(d.Seconds())
}

// MovedCollections returns the number of collections that may have moved
// objects. A client that hashes on addresses compares this counter to
// decide whether its tables need rehashing.
func (a *Arena) MovedCollections() uint64 {
	return a.e.MovedCollections()
}

// BeginCollection asks for a collection and returns without waiting for
// it. The collection runs the next time an allocation point needs a new
// buffer. It fails with ErrLimit if a collection has already been asked
// for.
func (a *Arena) BeginCollection() error {
	return wrapRes("begin collection", a.e.StartCollection())
}

// FullCollection runs a complete collection on the calling goroutine.
// Other goroutines must not touch managed memory until it returns.
func (a *Arena) FullCollection() {
	a.e.Collect()
}

// ArenaStats is a snapshot of an arena's counters.
type ArenaStats struct {
	Reserved         uintptr
	Committed        uintptr
	PeakCommitted    uintptr
	SpareCommitted   uintptr
	CommitLimit      uintptr
	Pools            int
	Collections      uint64
	MovedCollections uint64
	Flips            uint64
	Trips            uint64
	BytesAllocated   uint64
	BytesReclaimed   uint64
	SegmentsFreed    uint64
	ObjectsMarked    uint64
	ObjectsMoved     uint64
	Nailed           uint64
	EmergencyScans   uint64
	FenceViolations  uint64
	// SummaryViolations counts scans that fixed a reference they had not
	// tallied with ShouldFix or Fix.
	SummaryViolations uint64
	// LastSummary is the zone set of every reference scanned by the last
	// collection.
	LastSummary uint64
	LastPause   time.Duration
	LongPauses  uint64
}

// Stats returns a snapshot of the arena's counters.
func (a *Arena) Stats() ArenaStats {
	s := a.e.Stats()
	return ArenaStats{
		Reserved:          s.Reserved,
		Committed:         s.Committed,
		PeakCommitted:     s.PeakCommitted,
		SpareCommitted:    s.Spare,
		CommitLimit:       s.CommitLimit,
		Pools:             s.Pools,
		Collections:       s.Collections,
		MovedCollections:  s.MovedCollections,
		Flips:             s.Flips,
		Trips:             s.Trips,
		BytesAllocated:    s.BytesAllocated,
		BytesReclaimed:    s.BytesReclaimed,
		SegmentsFreed:     s.SegmentsFreed,
		ObjectsMarked:     s.ObjectsMarked,
		ObjectsMoved:      s.ObjectsMoved,
		Nailed:            s.Nailed,
		EmergencyScans:    s.EmergencyScans,
		FenceViolations:   s.FenceViolations,
		SummaryViolations: s.SummaryViolations,
		LastSummary:       s.LastSummary,
		LastPause:         s.LastPause,
		LongPauses:        s.LongPauses,
	}
}
