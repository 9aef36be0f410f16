// SPDX-License-Identifier: Apache-2.0

package engine

import "slices"

// Rank says how the collector may treat the references of a root.
type Rank int

const (
	// RankAmbig slots may hold anything. Whatever they point into is kept
	// alive and never moved, and the slots are never updated.
	RankAmbig Rank = iota
	// RankExact slots hold either 0 or a reference to an object. They are
	// updated when the object moves.
	RankExact
)

func (r Rank) String() string {
	if r == RankExact {
		return "exact"
	}
	return "ambiguous"
}

// Thread is a registered mutator thread.
type Thread struct {
	arena *Arena
	roots int
	dead  bool
}

// Root is a registered table of reference slots. The slots are read, and
// for exact roots rewritten, during every cycle.
type Root struct {
	arena  *Arena
	thread *Thread
	slots  []Addr
	rank   Rank
	dead   bool
}

// RegisterThread registers the calling mutator.
func (a *Arena) RegisterThread() (*Thread, Res) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return nil, ResParam
	}
	a.threads++
	return &Thread{arena: a}, ResOK
}

// Destroy unregisters the thread. Its roots must be destroyed first.
func (t *Thread) Destroy() {
	a := t.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	if t.dead {
		panic("engine: thread destroyed twice")
	}
	if t.roots > 0 {
		panic("engine: thread destroyed with roots registered")
	}
	t.dead = true
	a.threads--
}

// RegisterRoot registers slots as a root of the given rank. A non-nil
// thread scopes the root to that thread.
func (a *Arena) RegisterRoot(t *Thread, slots []Addr, rank Rank) (*Root, Res) {
	if rank != RankAmbig && rank != RankExact {
		return nil, ResParam
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed || (t != nil && t.dead) {
		return nil, ResParam
	}
	r := &Root{arena: a, thread: t, slots: slots, rank: rank}
	if t != nil {
		t.roots++
	}
	a.roots = append(a.roots, r)
	return r, ResOK
}

// Destroy unregisters the root.
func (r *Root) Destroy() {
	a := r.arena
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.dead {
		panic("engine: root destroyed twice")
	}
	r.dead = true
	if r.thread != nil {
		r.thread.roots--
	}
	if i := slices.Index(a.roots, r); i >= 0 {
		a.roots = slices.Delete(a.roots, i, i+1)
	}
}
