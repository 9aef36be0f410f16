// SPDX-License-Identifier: Apache-2.0

// Package mps binds client programs to a moving, multi-pool memory manager.
//
// An Arena reserves address space and hands it to pools. A pool manages
// objects whose layout it learns from an ObjectFormat: the collector never
// reads object memory itself but calls the format's Scan, Skip, Forward,
// IsForwarded and Pad methods. Objects are created through an
// AllocationPoint in two phases:
//
//	for {
//		p, err := ap.Reserve(size)
//		if err != nil {
//			return err
//		}
//		// initialize [p, p+size) so that the format can scan it
//		if ap.Commit(p, size) {
//			break
//		}
//	}
//
// Commit fails when a collection ran between Reserve and Commit; the
// reserved memory is gone and the object has to be built again. AllocWith
// wraps the loop.
//
// During a collection the format's Scan method fixes the references of a
// run of objects:
//
//	func (f *myFormat) Scan(ss *mps.ScanState, base, limit mps.Addr) error {
//		return ss.FixWith(func(fs *mps.FixState) error {
//			for p := base; p < limit; p = f.Skip(p) {
//				ref := p + 8
//				if r := mps.LoadAddr(ref); fs.ShouldFix(r) {
//					if err := fs.Fix(&r); err != nil {
//						return err
//					}
//					mps.StoreAddr(ref, r)
//				}
//			}
//			return nil
//		})
//	}
//
// Collections are stop-the-world and run on the goroutine that triggers
// them: FullCollection, or an allocation point refilling its buffer after
// BeginCollection or once the arena's collection trigger is reached. Other
// goroutines must leave managed memory alone while a collection runs.
package mps
