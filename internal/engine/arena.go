// SPDX-License-Identifier: Apache-2.0

// Package engine is the memory manager behind the mps protocol layer. It owns
// the reserved address range, hands segments to pools, and runs whole-arena
// collection cycles that only ever look at objects through format methods.
//
// Everything fallible reports a raw Res code; mapping codes to errors is the
// caller's business.
package engine

import (
	"errors"
	"log/slog"
	"math"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/wundergraph/go-mps/internal/vm"
)

// Addr is an address inside (or outside) the arena's reserved range.
type Addr uintptr

const (
	DefaultSize      = 256 << 20 // 256MB
	DefaultSpare     = 0.75
	DefaultPauseTime = 0.1
)

// Config carries arena creation parameters. Zero values select defaults.
type Config struct {
	Size        uintptr
	CommitLimit uintptr
	// Spare is the fraction of committed memory that may stay committed
	// while unused. Negative selects DefaultSpare.
	Spare float64
	// PauseTime is the advisory pause budget in seconds. Negative selects
	// DefaultPauseTime.
	PauseTime float64
	// Trigger is the number of bytes handed to buffers between automatic
	// collections. Zero disables automatic collections.
	Trigger uintptr
	// Logger receives the arena's diagnostics. Nil discards them.
	Logger *slog.Logger
}

type span struct {
	base, limit Addr
}

func (s span) size() uintptr {
	return uintptr(s.limit - s.base)
}

// Arena owns one reserved address range.
type Arena struct {
	mu  sync.Mutex
	log *slog.Logger

	mem         []byte
	base, limit Addr
	grain       uintptr
	zoneShift   uint
	segTable    []*Seg

	spareSpans []span // committed but unused
	freeSpans  []span // not committed

	committed   atomic.Uintptr
	spare       atomic.Uintptr
	commitLimit atomic.Uintptr
	pauseTime   atomic.Uint64
	spareRatio  float64
	trigger     uintptr
	allocSince  uintptr
	pending     bool

	pools   []*Pool
	formats int
	buffers []*Buffer
	roots   []*Root
	threads int

	cycle *cycle
	stats Stats
	// collections and movedCollections are read without the lock.
	collections      atomic.Uint64
	movedCollections atomic.Uint64
	destroyed        bool
}

// NewArena reserves the address range described by cfg.
func NewArena(cfg Config) (*Arena, Res) {
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Spare < 0 {
		cfg.Spare = DefaultSpare
	}
	if cfg.PauseTime < 0 {
		cfg.PauseTime = DefaultPauseTime
	}
	if cfg.Spare > 1 || math.IsNaN(cfg.Spare) || math.IsNaN(cfg.PauseTime) {
		return nil, ResParam
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	grain := vm.PageSize()
	size := vm.RoundUp(cfg.Size, grain)
	if size < cfg.Size {
		return nil, ResParam
	}
	if cfg.CommitLimit == 0 {
		cfg.CommitLimit = ^uintptr(0)
	}

	mem, err := vm.Reserve(size)
	if err != nil {
		cfg.Logger.Warn("arena reservation failed", "size", size, "error", err)
		if errors.Is(err, vm.ErrNoMemory) {
			return nil, ResMemory
		}
		return nil, ResResource
	}

	a := &Arena{
		log:        cfg.Logger,
		mem:        mem,
		base:       addrOf(mem),
		grain:      grain,
		segTable:   make([]*Seg, size/grain),
		spareRatio: cfg.Spare,
		trigger:    cfg.Trigger,
	}
	a.limit = a.base + Addr(size)
	a.freeSpans = []span{{a.base, a.limit}}
	a.commitLimit.Store(cfg.CommitLimit)
	a.pauseTime.Store(math.Float64bits(cfg.PauseTime))

	// 64 zones stripe the whole reservation.
	a.zoneShift = uint(bits.TrailingZeros64(uint64(grain)))
	for (uintptr(1)<<a.zoneShift)*64 < size {
		a.zoneShift++
	}

	a.log.Debug("arena created", "base", uintptr(a.base), "size", size, "grain", grain, "zoneShift", a.zoneShift)
	return a, ResOK
}

// Destroy releases the reservation. Everything created from the arena must
// already be destroyed.
func (a *Arena) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		panic("engine: arena destroyed twice")
	}
	if len(a.pools) > 0 || a.formats > 0 || len(a.roots) > 0 || a.threads > 0 {
		panic("engine: arena destroyed while pools, formats, roots or threads remain")
	}
	a.destroyed = true
	if err := vm.Release(a.mem); err != nil {
		a.log.Error("arena release failed", "error", err)
	}
	a.mem = nil
	a.segTable = nil
}

func (a *Arena) Base() Addr          { return a.base }
func (a *Arena) Grain() uintptr      { return a.grain }
func (a *Arena) ZoneShift() uint     { return a.zoneShift }
func (a *Arena) Reserved() uintptr   { return uintptr(a.limit - a.base) }
func (a *Arena) Committed() uintptr  { return a.committed.Load() }
func (a *Arena) Spare() uintptr      { return a.spare.Load() }
func (a *Arena) SpareRatio() float64 { return a.spareRatio }
func (a *Arena) Logger() *slog.Logger { return a.log }
func (a *Arena) CommitLimit() uintptr {
	return a.commitLimit.Load()
}

// Collections returns the number of completed cycles.
func (a *Arena) Collections() uint64 { return a.collections.Load() }

// MovedCollections returns the number of cycles that condemned a moving pool.
func (a *Arena) MovedCollections() uint64 { return a.movedCollections.Load() }

func (a *Arena) PauseTime() float64 {
	return math.Float64frombits(a.pauseTime.Load())
}

func (a *Arena) SetPauseTime(t float64) {
	a.pauseTime.Store(math.Float64bits(t))
}

// SetCommitLimit fails with ResParam when limit is below the bytes in use.
// Spare memory is purged if that is what it takes to honor limit.
func (a *Arena) SetCommitLimit(limit uintptr) Res {
	a.mu.Lock()
	defer a.mu.Unlock()
	inUse := a.committed.Load() - a.spare.Load()
	if limit < inUse {
		return ResParam
	}
	if limit < a.committed.Load() {
		a.purgeSpare()
	}
	a.commitLimit.Store(limit)
	return ResOK
}

// StartCollection asks for a cycle at the next polling point. It fails with
// ResLimit when a request is already pending.
func (a *Arena) StartCollection() Res {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending {
		return ResLimit
	}
	a.pending = true
	return ResOK
}

// Collect runs one full cycle on the calling goroutine.
func (a *Arena) Collect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.collect("full")
}

// poll runs a requested or pressure-triggered cycle. Called with mu held
// from buffer slow paths.
func (a *Arena) poll() {
	switch {
	case a.pending:
		a.collect("requested")
	case a.trigger > 0 && a.allocSince >= a.trigger:
		a.collect("trigger")
	}
}

// Stats returns a snapshot of the arena's counters.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Committed = a.committed.Load()
	s.Spare = a.spare.Load()
	s.CommitLimit = a.commitLimit.Load()
	s.Reserved = a.Reserved()
	s.Collections = a.collections.Load()
	s.MovedCollections = a.movedCollections.Load()
	s.Pools = len(a.pools)
	return s
}

// bytes returns the arena memory in [p, p+n).
func (a *Arena) bytes(p Addr, n uintptr) []byte {
	off := uintptr(p - a.base)
	return a.mem[off : off+n : off+n]
}

func (a *Arena) segOf(p Addr) *Seg {
	if p < a.base || p >= a.limit {
		return nil
	}
	return a.segTable[uintptr(p-a.base)/a.grain]
}

func (a *Arena) zoneOf(p Addr) uint64 {
	return 1 << ((uintptr(p) >> a.zoneShift) & 63)
}

func (a *Arena) zonesOf(base, limit Addr) uint64 {
	first := uintptr(base) >> a.zoneShift
	last := uintptr(limit-1) >> a.zoneShift
	if last-first >= 63 {
		return ^uint64(0)
	}
	var zs uint64
	for z := first; z <= last; z++ {
		zs |= 1 << (z & 63)
	}
	return zs
}

// allocSeg carves a segment of at least size bytes. Spare memory is reused
// before anything new is committed.
func (a *Arena) allocSeg(pool *Pool, size uintptr) (*Seg, Res) {
	size = vm.RoundUp(size, a.grain)
	if size == 0 {
		return nil, ResParam
	}
	var base Addr
	if i := firstFit(a.spareSpans, size); i >= 0 {
		base = take(&a.spareSpans, i, size)
		a.spare.Add(-size)
	} else {
		if a.committed.Load()+size > a.commitLimit.Load() {
			a.purgeSpare()
			if a.committed.Load()+size > a.commitLimit.Load() {
				return nil, ResCommitLimit
			}
		}
		i := firstFit(a.freeSpans, size)
		if i < 0 {
			return nil, ResResource
		}
		base = take(&a.freeSpans, i, size)
		a.committed.Add(size)
		if c := a.committed.Load(); c > a.stats.PeakCommitted {
			a.stats.PeakCommitted = c
		}
	}

	seg := &Seg{Base: base, Limit: base + Addr(size), pool: pool}
	first := uintptr(base-a.base) / a.grain
	for i := first; i < first+size/a.grain; i++ {
		a.segTable[i] = seg
	}
	pool.segs = append(pool.segs, seg)
	return seg, ResOK
}

// freeSeg returns a segment's memory to the spare set, trimming the spare
// set back under the spare ratio.
func (a *Arena) freeSeg(seg *Seg) {
	pool := seg.pool
	if i := slices.Index(pool.segs, seg); i >= 0 {
		pool.segs = slices.Delete(pool.segs, i, i+1)
	}
	first := uintptr(seg.Base-a.base) / a.grain
	for i := first; i < first+seg.size()/a.grain; i++ {
		a.segTable[i] = nil
	}
	insert(&a.spareSpans, span{seg.Base, seg.Limit})
	a.spare.Add(seg.size())
	a.stats.SegmentsFreed++
	a.stats.BytesFreed += uint64(seg.size())
	a.trimSpare()
}

func (a *Arena) trimSpare() {
	allowed := uintptr(a.spareRatio * float64(a.committed.Load()))
	for a.spare.Load() > allowed && len(a.spareSpans) > 0 {
		s := a.spareSpans[len(a.spareSpans)-1]
		a.spareSpans = a.spareSpans[:len(a.spareSpans)-1]
		a.decommit(s)
		allowed = uintptr(a.spareRatio * float64(a.committed.Load()))
	}
}

func (a *Arena) purgeSpare() {
	for _, s := range a.spareSpans {
		a.decommit(s)
	}
	a.spareSpans = a.spareSpans[:0]
}

func (a *Arena) decommit(s span) {
	if err := vm.Decommit(a.bytes(s.base, s.size())); err != nil {
		a.log.Warn("decommit failed", "base", uintptr(s.base), "size", s.size(), "error", err)
	}
	a.spare.Add(-s.size())
	a.committed.Add(-s.size())
	insert(&a.freeSpans, s)
}

func firstFit(spans []span, size uintptr) int {
	for i, s := range spans {
		if s.size() >= size {
			return i
		}
	}
	return -1
}

func take(spans *[]span, i int, size uintptr) Addr {
	s := (*spans)[i]
	if s.size() == size {
		*spans = slices.Delete(*spans, i, i+1)
	} else {
		(*spans)[i].base += Addr(size)
	}
	return s.base
}

// insert adds s to a base-ordered span list, coalescing with neighbours.
func insert(spans *[]span, s span) {
	list := *spans
	i, _ := slices.BinarySearchFunc(list, s.base, func(e span, b Addr) int {
		switch {
		case e.base < b:
			return -1
		case e.base > b:
			return 1
		}
		return 0
	})
	if i > 0 && list[i-1].limit == s.base {
		list[i-1].limit = s.limit
		if i < len(list) && list[i].base == s.limit {
			list[i-1].limit = list[i].limit
			list = slices.Delete(list, i, i+1)
		}
		*spans = list
		return
	}
	if i < len(list) && list[i].base == s.limit {
		list[i].base = s.base
		*spans = list
		return
	}
	*spans = slices.Insert(list, i, s)
}
