// SPDX-License-Identifier: Apache-2.0

package mps

import "github.com/wundergraph/go-mps/internal/engine"

// ScanState is passed to Format.Scan. Fixing goes through a FixState
// obtained from Begin and handed back to End before Scan returns.
type ScanState struct {
	e *engine.ScanState
}

// FixState holds the scanner's local copy of the scan state. Every
// reference the scanner looks at is tallied into it, whether or not it
// needs fixing; the collector relies on the tally as the summary of what
// the scanned objects refer to.
type FixState struct {
	ss        *ScanState
	zoneShift uint
	white     uint64
	unfixed   uint64
}

// Begin starts a run of fixes.
func (ss *ScanState) Begin() FixState {
	return FixState{
		ss:        ss,
		zoneShift: ss.e.ZoneShift,
		white:     ss.e.White,
	}
}

// End hands the tally of fs back to the collector. Every FixState begun
// during a scan must be ended before Scan returns.
func (ss *ScanState) End(fs *FixState) {
	ss.e.Unfixed |= fs.unfixed
	fs.unfixed = 0
}

// FixWith runs fn between Begin and End.
func (ss *ScanState) FixWith(fn func(fs *FixState) error) error {
	fs := ss.Begin()
	defer ss.End(&fs)
	return fn(&fs)
}

// ShouldFix tallies addr and reports whether it may need fixing. A false
// result means the reference can be left alone.
func (fs *FixState) ShouldFix(addr Addr) bool {
	zone := uint64(1) << ((uintptr(addr) >> fs.zoneShift) & 63)
	fs.unfixed |= zone
	return fs.white&zone != 0
}

// Fix tallies *ref and, if it may need fixing, preserves the object it
// refers to, storing the object's current address back into *ref.
func (fs *FixState) Fix(ref *Addr) error {
	if !fs.ShouldFix(*ref) {
		return nil
	}
	return fromRes(fs.ss.e.Fix2(ref))
}

// TryFix is Fix for a reference held by value. It returns the reference
// to store back.
func (fs *FixState) TryFix(ref Addr) (Addr, error) {
	err := fs.Fix(&ref)
	return ref, err
}
