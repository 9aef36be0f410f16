// SPDX-License-Identifier: Apache-2.0

package mps_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wundergraph/go-mps"
	"github.com/wundergraph/go-mps/internal/tree"
)

type harness struct {
	arena  *mps.Arena
	thread *mps.Thread
	pool   mps.Pool
	ap     *mps.AllocationPoint
	stack  *tree.Stack
	b      *tree.Builder
}

func newHarness(t testing.TB, copying bool, opts ...mps.ArenaOption) *harness {
	t.Helper()
	arena, err := mps.NewArena(append([]mps.ArenaOption{mps.WithArenaSize(32 << 20)}, opts...)...)
	require.NoError(t, err)
	h := &harness{arena: arena}
	h.thread, err = arena.RegisterThread()
	require.NoError(t, err)
	format, err := mps.NewObjectFormat(arena, tree.Align, tree.Format{})
	require.NoError(t, err)
	if copying {
		h.pool, err = mps.NewAutoMostlyCopying(arena).Build(format)
	} else {
		h.pool, err = mps.NewAutoMarkSweep(arena).Build(format)
	}
	require.NoError(t, err)
	h.ap, err = h.pool.CreateAllocationPoint()
	require.NoError(t, err)
	h.stack, err = tree.NewStack(arena, 128)
	require.NoError(t, err)
	h.b = tree.NewBuilder(h.ap, h.stack)

	t.Cleanup(func() {
		h.stack.Destroy()
		h.pool.Destroy()
		h.thread.Destroy()
		h.arena.Destroy()
	})
	return h
}

// Scenario A: a depth-10 tree in a mark-sweep pool has 2047 nodes.
func TestMarkSweepBinaryTree(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.b.BottomUp(10))
	require.Equal(t, 2047, tree.ItemCheck(h.stack.Top()))
	require.Len(t, tree.LeafValues(h.stack.Top()), 1024)

	require.True(t, h.pool.IsAutomatic())
	require.Same(t, h.arena, h.pool.Arena())
	require.GreaterOrEqual(t, h.pool.TotalSize(), uintptr(2047*tree.NodeSize))
	require.Zero(t, h.arena.MovedCollections())
}

// Scenario B: full collections move trees in a mostly-copying pool
// without changing them.
func TestMostlyCopyingMovesTree(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.b.BottomUp(10))
	before := h.stack.Top()
	leaves := tree.LeafValues(before)

	h.arena.FullCollection()

	after := h.stack.Top()
	require.NotEqual(t, before, after)
	require.True(t, tree.IsNode(after))
	require.Equal(t, uint64(1), tree.Value(after))
	require.Equal(t, 2047, tree.ItemCheck(after))
	require.Equal(t, leaves, tree.LeafValues(after))
	require.GreaterOrEqual(t, h.arena.MovedCollections(), uint64(1))

	// A second tree, built after the first moved, survives the next
	// collection along with it.
	require.NoError(t, h.b.BottomUp(10))
	secondLeaves := tree.LeafValues(h.stack.Top())
	require.NotEqual(t, leaves, secondLeaves)

	h.arena.FullCollection()

	second := h.stack.Pop()
	first := h.stack.Pop()
	require.Equal(t, 2047, tree.ItemCheck(first))
	require.Equal(t, 2047, tree.ItemCheck(second))
	require.Equal(t, leaves, tree.LeafValues(first))
	require.Equal(t, secondLeaves, tree.LeafValues(second))
	require.Equal(t, uint64(2), h.arena.MovedCollections())

	st := h.arena.Stats()
	require.NotZero(t, st.ObjectsMoved)
	require.Zero(t, st.SummaryViolations)
	require.Equal(t, uint64(2), st.Collections)
}

// Scenario C: with no collection in between, commit succeeds and the
// object is where it was reserved.
func TestReserveCommitWithoutFlip(t *testing.T) {
	h := newHarness(t, false)
	p, err := h.ap.Reserve(tree.NodeSize)
	require.NoError(t, err)
	tree.InitNode(p, 7)
	require.True(t, h.ap.Commit(p, tree.NodeSize))
	require.True(t, tree.IsNode(p))
	require.Equal(t, uint64(7), tree.Value(p))

	q, err := h.ap.Reserve(tree.NodeSize)
	require.NoError(t, err)
	require.Equal(t, p+tree.NodeSize, q)
	h.ap.Abandon(q, tree.NodeSize)
}

func TestCommitAfterFlipFails(t *testing.T) {
	for _, copying := range []bool{false, true} {
		h := newHarness(t, copying)
		p, err := h.ap.Reserve(tree.NodeSize)
		require.NoError(t, err)
		tree.InitNode(p, 1)

		h.arena.FullCollection()
		require.False(t, h.ap.Commit(p, tree.NodeSize))

		q, err := mps.AllocWith(h.ap, tree.NodeSize, func(q mps.Addr) { tree.InitNode(q, 2) })
		require.NoError(t, err)
		require.Equal(t, uint64(2), tree.Value(q))
		require.GreaterOrEqual(t, h.arena.Stats().Trips, uint64(1))
	}
}

func TestCollectionKeepsOnlyReachable(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.b.BottomUp(4))
	// A garbage tree bigger than a segment.
	require.NoError(t, h.b.BottomUp(10))
	h.stack.Pop()
	total := h.pool.TotalSize()

	h.arena.FullCollection()
	require.Equal(t, 31, tree.ItemCheck(h.stack.Top()))
	require.Less(t, h.pool.TotalSize(), total)

	st := h.arena.Stats()
	require.NotZero(t, st.BytesReclaimed)
	require.Equal(t, uint64(31), st.ObjectsMarked)

	// Space in surviving segments is handed out again.
	free := h.pool.FreeSize()
	require.NotZero(t, free)
	require.NoError(t, h.b.BottomUp(2))
	require.Equal(t, 7, tree.ItemCheck(h.stack.Pop()))
}

func TestReclaimedBytesCountGarbageOnce(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.b.BottomUp(4))
	require.NoError(t, h.b.BottomUp(6))
	h.stack.Pop()

	h.arena.FullCollection()
	reclaimed := h.arena.Stats().BytesReclaimed
	require.Equal(t, uint64(127*tree.NodeSize), reclaimed)

	// Nothing new died, so the padding left by the first collection is
	// not reclaimed again.
	h.arena.FullCollection()
	h.arena.FullCollection()
	require.Equal(t, reclaimed, h.arena.Stats().BytesReclaimed)
	require.Equal(t, 31, tree.ItemCheck(h.stack.Top()))
}

func TestAmbiguousRootNails(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.b.Node())
	pinned := h.stack.Pop()
	ambig := []mps.Addr{pinned + 8}
	root, err := h.thread.RegisterRoots(ambig)
	require.NoError(t, err)
	defer root.Destroy()

	// The tree's root shares the first segment with the pinned node.
	require.NoError(t, h.b.BottomUp(10))
	exact := h.stack.Top()

	h.arena.FullCollection()

	require.Equal(t, pinned+8, ambig[0])
	require.True(t, tree.IsNode(pinned))
	require.Equal(t, exact, h.stack.Top())
	require.Equal(t, 2047, tree.ItemCheck(h.stack.Top()))

	st := h.arena.Stats()
	require.NotZero(t, st.Nailed)
	require.NotZero(t, st.ObjectsMoved)
}

func TestBeginCollection(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.arena.BeginCollection())
	require.ErrorIs(t, h.arena.BeginCollection(), mps.ErrLimit)
	require.Zero(t, h.arena.Stats().Collections)

	require.NoError(t, h.b.Node())
	require.Equal(t, uint64(1), h.arena.Stats().Collections)
	require.NoError(t, h.arena.BeginCollection())
}

func TestCollectionTrigger(t *testing.T) {
	h := newHarness(t, true, mps.WithCollectionTrigger(64<<10))
	require.NoError(t, h.b.BottomUp(12))
	require.Equal(t, 8191, tree.ItemCheck(h.stack.Top()))

	st := h.arena.Stats()
	require.NotZero(t, st.Collections)
	require.Equal(t, st.Collections, st.MovedCollections)
}
