// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"github.com/wundergraph/go-mps"
)

// Stack is a shadow stack of node references registered as an exact root,
// so the collector keeps its entries alive and updates them when nodes
// move. Go variables are invisible to the collector: a node address held
// only in a local is stale after the next allocation.
type Stack struct {
	slots []mps.Addr
	n     int
	root  *mps.Root
}

// NewStack registers a stack of the given capacity with arena.
func NewStack(arena *mps.Arena, capacity int) (*Stack, error) {
	s := &Stack{slots: make([]mps.Addr, capacity)}
	root, err := arena.RegisterRoot(s.slots, mps.RankExact)
	if err != nil {
		return nil, err
	}
	s.root = root
	return s, nil
}

// Push pushes p. It panics when the stack is full.
func (s *Stack) Push(p mps.Addr) {
	if s.n == len(s.slots) {
		panic("tree: shadow stack overflow")
	}
	s.slots[s.n] = p
	s.n++
}

// Pop removes and returns the top entry.
func (s *Stack) Pop() mps.Addr {
	s.n--
	p := s.slots[s.n]
	s.slots[s.n] = 0
	return p
}

// Top returns the top entry.
func (s *Stack) Top() mps.Addr {
	return s.slots[s.n-1]
}

// Len returns the number of entries.
func (s *Stack) Len() int {
	return s.n
}

// Destroy unregisters the stack.
func (s *Stack) Destroy() {
	s.root.Destroy()
}

// Builder allocates trees. Each node gets the next value of a counter, so
// the leaves of a tree read left to right identify it.
type Builder struct {
	ap    *mps.AllocationPoint
	stack *Stack
	next  uint64
}

// NewBuilder returns a builder allocating on ap and keeping partial trees
// on stack.
func NewBuilder(ap *mps.AllocationPoint, stack *Stack) *Builder {
	return &Builder{ap: ap, stack: stack}
}

// Node allocates a childless node and pushes it.
func (b *Builder) Node() error {
	b.next++
	value := b.next
	p, err := mps.AllocWith(b.ap, NodeSize, func(p mps.Addr) {
		InitNode(p, value)
	})
	if err != nil {
		return err
	}
	b.stack.Push(p)
	return nil
}

// BottomUp builds a complete tree of the given depth and pushes its root.
// The node is allocated before its children, the right subtree before the
// left one.
func (b *Builder) BottomUp(depth int) error {
	if err := b.Node(); err != nil {
		return err
	}
	if depth <= 0 {
		return nil
	}
	if err := b.BottomUp(depth - 1); err != nil {
		return err
	}
	if err := b.BottomUp(depth - 1); err != nil {
		return err
	}
	left := b.stack.Pop()
	right := b.stack.Pop()
	SetChildren(b.stack.Top(), left, right)
	return nil
}

// ItemCheck counts the nodes of the tree rooted at p.
func ItemCheck(p mps.Addr) int {
	left, right := Left(p), Right(p)
	if left == 0 || right == 0 {
		return 1
	}
	return 1 + ItemCheck(left) + ItemCheck(right)
}

// LeafValues returns the values of the leaves under p, left to right.
func LeafValues(p mps.Addr) []uint64 {
	var values []uint64
	var walk func(mps.Addr)
	walk = func(p mps.Addr) {
		left, right := Left(p), Right(p)
		if left == 0 || right == 0 {
			values = append(values, Value(p))
			return
		}
		walk(left)
		walk(right)
	}
	walk(p)
	return values
}
