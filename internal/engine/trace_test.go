// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func (fx *fixture) detach() {
	fx.arena.mu.Lock()
	defer fx.arena.mu.Unlock()
	fx.buf.detach()
}

func (fx *fixture) root(t *testing.T, rank Rank, slots []Addr) {
	t.Helper()
	r, res := fx.arena.RegisterRoot(nil, slots, rank)
	require.Equal(t, ResOK, res)
	t.Cleanup(r.Destroy)
}

func tag(p Addr) uintptr {
	return *word(p) & 0xff
}

func TestMarkSweepKeepsReachable(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMS}, Config{})
	a := fx.alloc(t, 0)
	b := fx.alloc(t, a)
	c := fx.alloc(t, 0)
	slots := []Addr{b}
	fx.root(t, RankExact, slots)

	fx.arena.Collect()

	require.Equal(t, b, slots[0])
	require.Equal(t, uintptr(tagCell), tag(a))
	require.Equal(t, uintptr(tagCell), tag(b))
	require.Equal(t, a, Addr(*word(b + 8)))
	require.Equal(t, uintptr(tagPad), tag(c))

	st := fx.arena.Stats()
	require.Equal(t, uint64(1), st.Collections)
	require.Zero(t, st.MovedCollections)
	require.Equal(t, uint64(2), st.ObjectsMarked)
	require.Zero(t, st.SummaryViolations)
	require.NotZero(t, st.LastSummary)
}

func TestMarkSweepReusesHoles(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMS}, Config{})
	a := fx.alloc(t, 0)
	c := fx.alloc(t, 0)
	slots := []Addr{a}
	fx.root(t, RankExact, slots)

	fx.arena.Collect()
	total := fx.pool.TotalSize()

	// The trapped buffer is replaced by the hole starting at the dead cell.
	require.Equal(t, c, fx.alloc(t, 0))
	require.Equal(t, total, fx.pool.TotalSize())
	require.Zero(t, fx.arena.Stats().Trips)
}

func TestMarkSweepFreesEmptySegment(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMS}, Config{})
	fx.alloc(t, 0)
	fx.detach()
	require.NotZero(t, fx.pool.TotalSize())

	fx.arena.Collect()
	require.Zero(t, fx.pool.TotalSize())
	require.Equal(t, uint64(1), fx.arena.Stats().SegmentsFreed)
}

func TestCopyingMovesReachable(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMC}, Config{})
	a := fx.alloc(t, 0)
	b := fx.alloc(t, a)
	fx.alloc(t, 0)
	slots := []Addr{b}
	fx.root(t, RankExact, slots)
	fx.detach()

	fx.arena.Collect()

	nb := slots[0]
	require.NotEqual(t, b, nb)
	require.Equal(t, uintptr(tagCell), tag(nb))
	na := Addr(*word(nb + 8))
	require.NotEqual(t, a, na)
	require.Equal(t, uintptr(tagCell), tag(na))
	require.Zero(t, *word(na + 8))

	st := fx.arena.Stats()
	require.Equal(t, uint64(1), st.MovedCollections)
	require.Equal(t, uint64(2), st.ObjectsMoved)
	require.Equal(t, uint64(1), st.SegmentsFreed)
	require.Equal(t, fx.arena.Grain()*4, fx.pool.TotalSize())
}

func TestCopyingNailsAmbiguous(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMC}, Config{})
	a := fx.alloc(t, 0)
	b := fx.alloc(t, a)
	c := fx.alloc(t, 0)
	ambig := []Addr{b}
	fx.root(t, RankAmbig, ambig)
	fx.detach()

	fx.arena.Collect()

	require.Equal(t, b, ambig[0])
	require.Equal(t, uintptr(tagCell), tag(b))
	require.Equal(t, uintptr(tagPad), tag(c))
	// a sits in a nailed segment, so it is marked in place too.
	require.Equal(t, a, Addr(*word(b + 8)))
	require.Equal(t, uintptr(tagCell), tag(a))

	st := fx.arena.Stats()
	require.Equal(t, uint64(1), st.Nailed)
	require.Zero(t, st.ObjectsMoved)
	require.Zero(t, st.SegmentsFreed)
}

func TestAmbiguousInteriorNeedsPermission(t *testing.T) {
	for _, interior := range []bool{false, true} {
		fx := newFixture(t, PoolConfig{Class: ClassAMS, Interior: interior}, Config{})
		a := fx.alloc(t, 0)
		fx.root(t, RankAmbig, []Addr{a + 8})
		fx.detach()

		fx.arena.Collect()
		if interior {
			require.Equal(t, uintptr(tagCell), tag(a))
			require.NotZero(t, fx.pool.TotalSize())
		} else {
			require.Zero(t, fx.pool.TotalSize())
		}
	}
}

func TestFlipTrapsCommit(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMS}, Config{})
	fx.alloc(t, 0)

	p := Addr(fx.buf.Alloc.Load())
	fx.buf.Alloc.Store(uintptr(p + cellSize))
	fx.arena.Collect()
	require.Zero(t, fx.buf.Limit.Load())

	writeCell(p, 0)
	fx.buf.Init.Store(fx.buf.Alloc.Load())
	require.False(t, fx.buf.Trip())
	require.Equal(t, uintptr(tagPad), tag(p))
	require.Equal(t, uint64(1), fx.arena.Stats().Trips)
	require.Zero(t, fx.buf.Alloc.Load())
}

func TestTripWithoutFlip(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMS}, Config{})
	fx.alloc(t, 0)
	require.True(t, fx.buf.Trip())
	require.NotZero(t, fx.buf.Limit.Load())
}

func TestUntalliedFixIsReported(t *testing.T) {
	m := testMethods()
	scan := m.Scan
	m.Scan = func(ss *ScanState, base, limit Addr) Res {
		res := scan(ss, base, limit)
		ss.Unfixed = 0
		return res
	}
	fx := newFixtureWith(t, m, PoolConfig{Class: ClassAMS}, Config{})

	x := fx.alloc(t, 0)
	y := fx.alloc(t, x)
	fx.root(t, RankExact, []Addr{y})

	fx.arena.Collect()
	require.Equal(t, uint64(1), fx.arena.Stats().SummaryViolations)
	require.Equal(t, uintptr(tagCell), tag(x))
}

func TestEmergencyRescan(t *testing.T) {
	m := testMethods()
	scan := m.Scan
	failed := false
	m.Scan = func(ss *ScanState, base, limit Addr) Res {
		if !failed {
			failed = true
			return ResFail
		}
		return scan(ss, base, limit)
	}
	fx := newFixtureWith(t, m, PoolConfig{Class: ClassAMC}, Config{})

	x := fx.alloc(t, 0)
	y := fx.alloc(t, x)
	slots := []Addr{y}
	fx.root(t, RankExact, slots)
	fx.detach()

	fx.arena.Collect()

	// y moved before its scan failed. x was fixed in emergency mode, so it
	// stayed where it was.
	require.NotEqual(t, y, slots[0])
	require.Equal(t, x, Addr(*word(slots[0] + 8)))
	require.Equal(t, uintptr(tagCell), tag(x))
	require.Equal(t, uint64(1), fx.arena.Stats().EmergencyScans)
}

func TestScanFailingTwicePanics(t *testing.T) {
	m := testMethods()
	m.Scan = func(*ScanState, Addr, Addr) Res { return ResFail }
	fx := newFixtureWith(t, m, PoolConfig{Class: ClassAMS}, Config{})

	x := fx.alloc(t, 0)
	fx.root(t, RankExact, []Addr{x})
	require.Panics(t, fx.arena.Collect)
}

func TestFenceViolation(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMS, Fence: []byte("fence!")}, Config{})
	p := fx.alloc(t, 0)
	next := p + cellSize
	// The template's phase follows the offset into the segment.
	require.Equal(t, []byte("e!"), fx.arena.bytes(next, 2))

	fx.detach()
	require.Zero(t, fx.arena.Stats().FenceViolations)

	fx.alloc(t, 0)
	*word(Addr(fx.buf.Alloc.Load()) + 64) = 0
	fx.detach()
	require.Equal(t, uint64(1), fx.arena.Stats().FenceViolations)
}

func TestFormatDestroyOrder(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMC}, Config{})
	require.Panics(t, fx.format.Destroy)
}

func TestReclaimedBytesCountNewGarbageOnly(t *testing.T) {
	for _, class := range []Class{ClassAMS, ClassAMC} {
		t.Run(class.String(), func(t *testing.T) {
			fx := newFixture(t, PoolConfig{Class: class}, Config{})
			a := fx.alloc(t, 0)
			fx.alloc(t, 0)
			fx.root(t, RankExact, []Addr{a})
			fx.detach()

			fx.arena.Collect()
			require.Equal(t, uint64(cellSize), fx.arena.Stats().BytesReclaimed)

			fx.arena.Collect()
			require.Equal(t, uint64(cellSize), fx.arena.Stats().BytesReclaimed)
		})
	}
}

func TestSegmentSummary(t *testing.T) {
	fx := newFixture(t, PoolConfig{Class: ClassAMS}, Config{})
	a := fx.alloc(t, 0)
	b := fx.alloc(t, a)
	fx.root(t, RankExact, []Addr{b})

	fx.arena.Collect()
	seg := fx.arena.segOf(b)
	require.Equal(t, fx.arena.zoneOf(a), seg.Summary())
	require.Equal(t, seg.Summary(), fx.arena.Stats().LastSummary)

	// The summary describes the last cycle only.
	*word(b + 8) = 0
	fx.arena.Collect()
	require.Zero(t, seg.Summary())
}

func TestSegmentsWalkExactly(t *testing.T) {
	for _, class := range []Class{ClassAMS, ClassAMC} {
		t.Run(class.String(), func(t *testing.T) {
			fx := newFixture(t, PoolConfig{Class: class}, Config{})
			var kept Addr
			for i := range 3000 {
				p := fx.alloc(t, kept)
				if i%3 == 0 {
					kept = p
				}
			}
			slots := []Addr{kept}
			fx.root(t, RankExact, slots)

			fx.arena.Collect()
			fx.detach()
			fx.arena.Collect()

			for _, seg := range fx.pool.segs {
				p := seg.Base
				for p < seg.Limit {
					next := fx.pool.fmt.Skip(p)
					require.True(t, next > p, "skip did not advance at %#x", uintptr(p))
					p = next
				}
				require.Equal(t, seg.Limit, p)
			}

			var n int
			for p := slots[0]; p != 0; p = Addr(*word(p + 8)) {
				require.Equal(t, uintptr(tagCell), tag(p))
				n++
			}
			require.Equal(t, 1000, n)
		})
	}
}
